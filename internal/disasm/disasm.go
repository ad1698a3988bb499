// Package disasm renders decoded Frost64 instructions back into
// assembly-style text for crash dumps and debugging, grounded on the
// shape of the teacher's debug_disasm_ie64.go (an opcode→mnemonic table,
// a register-name helper and a per-instruction formatter feeding a list
// of addressed lines) but built directly on internal/codec's decoded
// Instruction rather than re-decoding the teacher's fixed 8-byte format
// by hand.
package disasm

import (
	"fmt"
	"strings"

	"frost64/internal/arch"
	"frost64/internal/codec"
)

// Line is one disassembled instruction, addressed at its offset within
// whatever buffer produced it.
type Line struct {
	Addr uint64
	Text string
	Raw  []byte
}

// Disassemble decodes and formats every instruction in data, starting
// at base. Decoding stops at the first malformed instruction (its
// raw bytes are still reported, labelled "invalid"), matching
// debugging-tool behaviour elsewhere in the pack that shows partial
// output rather than discarding everything already decoded.
func Disassemble(data []byte, base uint64) []Line {
	var lines []Line
	pos := 0
	for pos < len(data) {
		ins, err := codec.Decode(data[pos:])
		if err != nil {
			lines = append(lines, Line{
				Addr: base + uint64(pos),
				Text: fmt.Sprintf("(invalid: %s)", err),
				Raw:  data[pos:],
			})
			return lines
		}
		lines = append(lines, Line{
			Addr: base + uint64(pos),
			Text: Format(ins),
			Raw:  data[pos : pos+ins.Length],
		})
		pos += ins.Length
	}
	return lines
}

// Format renders one decoded instruction as "mnemonic op1, op2", using
// the same size-prefix and complex-operand spelling
// internal/assemble's parser accepts, so a disassembled line is also
// valid reassembleable source.
func Format(ins codec.Instruction) string {
	var b strings.Builder
	b.WriteString(ins.Op.String())
	for i := 0; i < ins.NumOperands; i++ {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteString(", ")
		}
		b.WriteString(FormatOperand(ins.Operands[i]))
	}
	return b.String()
}

// FormatOperand renders a single decoded operand.
func FormatOperand(o codec.Operand) string {
	switch o.Kind {
	case arch.KindRegister:
		return o.Reg.String()
	case arch.KindImmediate:
		return fmt.Sprintf("%s 0x%X", o.Size, o.Imm)
	case arch.KindMemory:
		return fmt.Sprintf("%s [0x%X]", o.Size, o.Addr)
	case arch.KindComplex:
		return fmt.Sprintf("%s [%s]", o.Size, formatComplex(o.Complex))
	}
	return "?"
}

func formatComplex(c codec.Complex) string {
	var terms []string
	if c.Base.Present {
		terms = append(terms, formatSlot(c.Base, false))
	}
	if c.Index.Present {
		terms = append(terms, formatSlot(c.Index, true))
	}
	if c.Offset.Present {
		terms = append(terms, formatSlot(c.Offset, true))
	}
	return strings.Join(terms, "+")
}

func formatSlot(s codec.ComplexSlot, signed bool) string {
	if s.IsReg {
		sign := ""
		if signed && s.Negative {
			sign = "-"
		}
		return sign + s.Reg.String()
	}
	return fmt.Sprintf("0x%X", s.Imm)
}
