package assemble

import (
	"fmt"
	"strings"
)

// FileReader loads the contents of a source file named by an %include
// directive; the assemble package has no filesystem dependency of its
// own so callers (cmd/frost64asm) supply their own os.ReadFile-backed
// implementation, keeping this package testable without touching disk.
type FileReader func(path string) (string, error)

// preprocessor strips `;` line comments and `/* */` block comments and
// recursively expands `%include "path"` directives, tracking an include
// stack to detect cycles the way original_source's PreProcessor.cpp
// does (it aborts rather than looping forever on a self-including file).
type preprocessor struct {
	read  FileReader
	stack []string
}

func (p *preprocessor) process(path, source string) (string, error) {
	for _, s := range p.stack {
		if s == path {
			return "", fmt.Errorf("assemble: circular %%include of %q", path)
		}
	}
	p.stack = append(p.stack, path)
	defer func() { p.stack = p.stack[:len(p.stack)-1] }()

	stripped := stripComments(source)
	var out strings.Builder
	for _, line := range strings.Split(stripped, "\n") {
		trimmed := strings.TrimSpace(line)
		if directive, arg, ok := matchInclude(trimmed); ok {
			_ = directive
			if p.read == nil {
				return "", fmt.Errorf("assemble: %%include %q used with no file reader configured", arg)
			}
			included, err := p.read(arg)
			if err != nil {
				return "", fmt.Errorf("assemble: %%include %q: %w", arg, err)
			}
			expanded, err := p.process(arg, included)
			if err != nil {
				return "", err
			}
			out.WriteString(expanded)
			out.WriteByte('\n')
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.String(), nil
}

// matchInclude recognizes `%include "path"` (the quotes are required;
// the path itself may not contain a quote character).
func matchInclude(line string) (directive, path string, ok bool) {
	if !strings.HasPrefix(strings.ToLower(line), "%include") {
		return "", "", false
	}
	rest := strings.TrimSpace(line[len("%include"):])
	if len(rest) < 2 || rest[0] != '"' || rest[len(rest)-1] != '"' {
		return "", "", false
	}
	return "%include", rest[1 : len(rest)-1], true
}

// stripComments removes `;` line comments and `/* */` block comments
// (which may span multiple lines), without touching quoted string
// literals so a `;` or `/*` inside a db/ascii string survives.
func stripComments(source string) string {
	var out strings.Builder
	inBlock := false
	r := []rune(source)
	i := 0
	for i < len(r) {
		c := r[i]
		if inBlock {
			if c == '*' && i+1 < len(r) && r[i+1] == '/' {
				inBlock = false
				i += 2
				continue
			}
			if c == '\n' {
				out.WriteByte('\n')
			}
			i++
			continue
		}
		switch {
		case c == '/' && i+1 < len(r) && r[i+1] == '*':
			inBlock = true
			i += 2
		case c == ';':
			for i < len(r) && r[i] != '\n' {
				i++
			}
		case c == '"' || c == '\'':
			quote := c
			out.WriteRune(c)
			i++
			for i < len(r) && r[i] != quote {
				if r[i] == '\\' && i+1 < len(r) {
					out.WriteRune(r[i])
					out.WriteRune(r[i+1])
					i += 2
					continue
				}
				out.WriteRune(r[i])
				i++
			}
			if i < len(r) {
				out.WriteRune(r[i])
				i++
			}
		default:
			out.WriteRune(c)
			i++
		}
	}
	return out.String()
}
