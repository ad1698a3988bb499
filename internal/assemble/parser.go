package assemble

import (
	"fmt"
	"strings"

	"frost64/internal/arch"
)

// stmt is one parsed source line.
type stmt interface{ isStmt() }

type labelStmt struct{ name string }
type orgStmt struct{ addr expr }
type alignStmt struct{ n expr }
type dataStmt struct {
	size int // bytes per value: 1, 2, 4 or 8
	vals []expr
}
type stringStmt struct {
	data []byte
	zero bool // asciiz appends a trailing NUL
}
type insnStmt struct {
	op       arch.Opcode
	operands []operandAST
}

func (labelStmt) isStmt()  {}
func (orgStmt) isStmt()    {}
func (alignStmt) isStmt()  {}
func (dataStmt) isStmt()   {}
func (stringStmt) isStmt() {}
func (insnStmt) isStmt()   {}

// operandAST is the parsed (pre-resolution) form of one operand.
type operandAST struct {
	kind         arch.OperandKind
	size         arch.OperandSize
	sizeExplicit bool
	reg          arch.RegisterID
	val          expr           // KindImmediate or KindMemory
	complex      complexOperandAST // KindComplex (3 slots packed)
}

type complexSlotAST struct {
	present  bool
	isReg    bool
	reg      arch.RegisterID
	val      expr
	negative bool
}

type complexOperandAST struct {
	base, index, offset complexSlotAST
}

var mnemonicToOp = buildMnemonicTable()

func buildMnemonicTable() map[string]arch.Opcode {
	m := make(map[string]arch.Opcode)
	for op := arch.Opcode(0); ; op++ {
		if op.Valid() {
			m[op.String()] = op
		}
		if op == 0x3F {
			break
		}
	}
	return m
}

var registerNames = buildRegisterTable()

func buildRegisterTable() map[string]arch.RegisterID {
	m := make(map[string]arch.RegisterID)
	for i := 0; i < 16; i++ {
		m[fmt.Sprintf("r%d", i)] = arch.MakeRegisterID(arch.RegGeneralPurpose, uint8(i))
	}
	m["scp"] = arch.MakeRegisterID(arch.RegStack, arch.StackSCP)
	m["sbp"] = arch.MakeRegisterID(arch.RegStack, arch.StackSBP)
	m["stp"] = arch.MakeRegisterID(arch.RegStack, arch.StackSTP)
	for i := 0; i < 8; i++ {
		m[fmt.Sprintf("cr%d", i)] = arch.MakeRegisterID(arch.RegControl, uint8(i))
	}
	m["sts"] = arch.MakeRegisterID(arch.RegStatus, 0)
	m["ip"] = arch.MakeRegisterID(arch.RegInstruction, 0)
	return m
}

var sizeNames = map[string]arch.OperandSize{
	"byte":  arch.SizeByte,
	"word":  arch.SizeWord,
	"dword": arch.SizeDword,
	"qword": arch.SizeQword,
}

// parseProgram parses every non-blank line of source into a stmt list.
// Labels, sub-labels ("." prefixed, scoped to the preceding global
// label), directives and instructions are all recognized here;
// numeric/label expressions are left unevaluated (see expr.go) since
// label addresses aren't known until the assembler's address pass runs.
func parseProgram(source string) ([]stmt, error) {
	var stmts []stmt
	var currentGlobal string
	lineNo := 0
	for _, raw := range strings.Split(source, "\n") {
		lineNo++
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		toks, err := lexLine(line)
		if err != nil {
			return nil, fmt.Errorf("assemble: line %d: %w", lineNo, err)
		}
		if toks[0].kind == tokEOF {
			continue
		}

		// A leading identifier immediately followed by ':' is a label
		// definition; sub-labels spell ".name" and are qualified with
		// the enclosing global label.
		if toks[0].kind == tokIdent && toks[1].kind == tokColon {
			name := toks[0].text
			if strings.HasPrefix(name, ".") {
				if currentGlobal == "" {
					return nil, fmt.Errorf("assemble: line %d: sub-label %q with no preceding global label", lineNo, name)
				}
				name = currentGlobal + name
			} else {
				currentGlobal = name
			}
			stmts = append(stmts, labelStmt{name: name})
			rest := toks[2:]
			if rest[0].kind == tokEOF {
				continue
			}
			s, err := parseStatement(rest, lineNo)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, s)
			continue
		}

		s, err := parseStatement(toks, lineNo)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func parseStatement(toks []token, lineNo int) (stmt, error) {
	if toks[0].kind != tokIdent {
		return nil, fmt.Errorf("assemble: line %d: expected a mnemonic or directive", lineNo)
	}
	word := strings.ToLower(toks[0].text)
	switch word {
	case "org":
		p := &exprParser{toks: toks[1:]}
		e, err := p.parseExpr()
		if err != nil {
			return nil, fmt.Errorf("assemble: line %d: %w", lineNo, err)
		}
		return orgStmt{addr: e}, nil
	case "align":
		p := &exprParser{toks: toks[1:]}
		e, err := p.parseExpr()
		if err != nil {
			return nil, fmt.Errorf("assemble: line %d: %w", lineNo, err)
		}
		return alignStmt{n: e}, nil
	case "db":
		return parseData(toks[1:], 1, lineNo)
	case "dw":
		return parseData(toks[1:], 2, lineNo)
	case "dd":
		return parseData(toks[1:], 4, lineNo)
	case "dq":
		return parseData(toks[1:], 8, lineNo)
	case "ascii", "asciiz":
		if toks[1].kind != tokString {
			return nil, fmt.Errorf("assemble: line %d: %s expects a string literal", lineNo, word)
		}
		data := []byte(toks[1].text)
		if word == "asciiz" {
			data = append(data, 0)
		}
		return stringStmt{data: data}, nil
	}
	op, ok := mnemonicToOp[word]
	if !ok {
		return nil, fmt.Errorf("assemble: line %d: unknown mnemonic or directive %q", lineNo, toks[0].text)
	}
	operands, err := parseOperandList(toks[1:], lineNo)
	if err != nil {
		return nil, err
	}
	if want := op.ArgCount(); want != len(operands) {
		return nil, fmt.Errorf("assemble: line %d: %s takes %d operand(s), got %d", lineNo, word, want, len(operands))
	}
	return insnStmt{op: op, operands: operands}, nil
}

// parseData parses a comma-separated list of value expressions for
// db/dw/dd/dq. A string literal inside a db list expands to one byte
// value per rune, NASM-style (`db "OK", 0`).
func parseData(toks []token, size int, lineNo int) (stmt, error) {
	var vals []expr
	groups := splitOnComma(toks)
	for _, g := range groups {
		if len(g) == 1 && g[0].kind == tokString {
			if size != 1 {
				return nil, fmt.Errorf("assemble: line %d: string literal only valid in db", lineNo)
			}
			for _, b := range []byte(g[0].text) {
				vals = append(vals, numberExpr(int64(b)))
			}
			continue
		}
		p := &exprParser{toks: append(append([]token{}, g...), token{kind: tokEOF})}
		e, err := p.parseExpr()
		if err != nil {
			return nil, fmt.Errorf("assemble: line %d: %w", lineNo, err)
		}
		vals = append(vals, e)
	}
	return dataStmt{size: size, vals: vals}, nil
}

// splitOnComma splits a token slice (without its trailing EOF) on
// top-level commas, respecting bracket/paren nesting.
func splitOnComma(toks []token) [][]token {
	var groups [][]token
	var cur []token
	depth := 0
	for _, t := range toks {
		if t.kind == tokEOF {
			break
		}
		switch t.kind {
		case tokLBracket, tokLParen:
			depth++
		case tokRBracket, tokRParen:
			depth--
		}
		if t.kind == tokComma && depth == 0 {
			groups = append(groups, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	groups = append(groups, cur)
	return groups
}

// parseOperandList parses the (up to two) comma-separated operands of
// an instruction.
func parseOperandList(toks []token, lineNo int) ([]operandAST, error) {
	groups := splitOnComma(toks)
	if len(groups) == 1 && len(groups[0]) == 0 {
		return nil, nil
	}
	var ops []operandAST
	for _, g := range groups {
		o, err := parseOperand(g, lineNo)
		if err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}
	return ops, nil
}

func parseOperand(toks []token, lineNo int) (operandAST, error) {
	if len(toks) == 0 {
		return operandAST{}, fmt.Errorf("assemble: line %d: empty operand", lineNo)
	}
	size := arch.SizeQword
	sizeExplicit := false
	if toks[0].kind == tokIdent {
		if sz, ok := sizeNames[strings.ToLower(toks[0].text)]; ok {
			size = sz
			sizeExplicit = true
			toks = toks[1:]
		}
	}
	if len(toks) == 0 {
		return operandAST{}, fmt.Errorf("assemble: line %d: missing operand after size prefix", lineNo)
	}

	// Register name with no brackets; a size prefix before it was
	// stripped above and is not kept on a register operand.
	if len(toks) == 1 && toks[0].kind == tokIdent {
		if reg, ok := registerNames[strings.ToLower(toks[0].text)]; ok {
			return operandAST{kind: arch.KindRegister, reg: reg}, nil
		}
	}

	if toks[0].kind == tokLBracket {
		if toks[len(toks)-1].kind != tokRBracket {
			return operandAST{}, fmt.Errorf("assemble: line %d: unterminated '['", lineNo)
		}
		return parseMemoryOperand(toks[1:len(toks)-1], size, sizeExplicit, lineNo)
	}

	// Otherwise it's an immediate (numeric literal or label reference).
	p := &exprParser{toks: append(append([]token{}, toks...), token{kind: tokEOF})}
	e, err := p.parseExpr()
	if err != nil {
		return operandAST{}, fmt.Errorf("assemble: line %d: %w", lineNo, err)
	}
	if p.peek().kind != tokEOF {
		return operandAST{}, fmt.Errorf("assemble: line %d: trailing tokens after operand expression", lineNo)
	}
	return operandAST{kind: arch.KindImmediate, size: size, val: e}, nil
}

// parseMemoryOperand parses the contents of a `[...]` operand: either a
// single bare expression (a plain Memory operand) or one-or-more
// register/expression terms joined by + or - (a Complex operand). The
// first register term encountered becomes the base, the second becomes
// the index; any non-register term is summed into the offset.
func parseMemoryOperand(toks []token, size arch.OperandSize, sizeExplicit bool, lineNo int) (operandAST, error) {
	terms, err := splitTerms(toks, lineNo)
	if err != nil {
		return operandAST{}, err
	}
	if len(terms) == 1 && !terms[0].negative && len(terms[0].toks) > 0 && !isBareRegister(terms[0].toks) {
		p := &exprParser{toks: append(append([]token{}, terms[0].toks...), token{kind: tokEOF})}
		e, err := p.parseExpr()
		if err != nil {
			return operandAST{}, fmt.Errorf("assemble: line %d: %w", lineNo, err)
		}
		return operandAST{kind: arch.KindMemory, size: size, val: e}, nil
	}

	var c complexOperandAST
	for _, t := range terms {
		if isBareRegister(t.toks) {
			reg := registerNames[strings.ToLower(t.toks[0].text)]
			slot := complexSlotAST{present: true, isReg: true, reg: reg, negative: t.negative}
			if !c.base.present {
				c.base = slot
			} else if !c.index.present {
				c.index = slot
			} else {
				return operandAST{}, fmt.Errorf("assemble: line %d: complex operand names more than two registers", lineNo)
			}
			continue
		}
		p := &exprParser{toks: append(append([]token{}, t.toks...), token{kind: tokEOF})}
		e, err := p.parseExpr()
		if err != nil {
			return operandAST{}, fmt.Errorf("assemble: line %d: %w", lineNo, err)
		}
		if c.offset.present {
			return operandAST{}, fmt.Errorf("assemble: line %d: complex operand names more than one immediate term", lineNo)
		}
		c.offset = complexSlotAST{present: true, isReg: false, val: e, negative: t.negative}
	}
	return operandAST{kind: arch.KindComplex, size: size, complex: c}, nil
}

func isBareRegister(toks []token) bool {
	if len(toks) != 1 || toks[0].kind != tokIdent {
		return false
	}
	_, ok := registerNames[strings.ToLower(toks[0].text)]
	return ok
}

type signedTerm struct {
	toks     []token
	negative bool
}

// splitTerms splits a complex operand's token list on top-level + and -
// (not inside parens), recording each term's sign. The first term is
// implicitly positive unless prefixed with a unary '-'.
func splitTerms(toks []token, lineNo int) ([]signedTerm, error) {
	var terms []signedTerm
	var cur []token
	neg := false
	depth := 0
	first := true
	for _, t := range toks {
		switch t.kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
		case tokPlus, tokMinus:
			if depth == 0 {
				if len(cur) == 0 && first {
					neg = t.kind == tokMinus
					first = false
					continue
				}
				if len(cur) == 0 {
					return nil, fmt.Errorf("assemble: line %d: empty term in complex operand", lineNo)
				}
				terms = append(terms, signedTerm{toks: cur, negative: neg})
				cur = nil
				neg = t.kind == tokMinus
				continue
			}
		}
		cur = append(cur, t)
		first = false
	}
	if len(cur) == 0 {
		return nil, fmt.Errorf("assemble: line %d: empty complex operand", lineNo)
	}
	terms = append(terms, signedTerm{toks: cur, negative: neg})
	return terms, nil
}
