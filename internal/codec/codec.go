// Package codec encodes and decodes Frost64 instructions to and from the
// flat variable-length binary wire format described by spec.md §4.1. It
// mirrors the fetch-time decode the teacher's CPU64.Execute performs
// inline in cpu_ie64.go, but as a standalone, round-trippable codec since
// Frost64's instruction format is variable length rather than the
// teacher's fixed 8-byte IE64 format.
package codec

import (
	"encoding/binary"
	"fmt"

	"frost64/internal/arch"
)

// PlaceholderAddress is a reserved sentinel for an immediate or memory
// operand whose value is unknown at encoding time. internal/assemble
// resolves every label before it encodes, so it never writes this value.
const PlaceholderAddress uint64 = 0xDEADBEEFDEADBEEF

// ComplexSlot is one of the three optional parts of a Complex operand.
type ComplexSlot struct {
	Present  bool
	IsReg    bool
	Reg      arch.RegisterID
	Size     arch.OperandSize // meaningful when !IsReg
	Imm      uint64           // meaningful when !IsReg
	Negative bool             // meaningful only for the offset slot when IsReg
}

func (s ComplexSlot) value(regs func(arch.RegisterID) uint64) int64 {
	if !s.Present {
		return 0
	}
	if s.IsReg {
		v := int64(regs(s.Reg))
		if s.Negative {
			return -v
		}
		return v
	}
	return signExtend(s.Imm, s.Size)
}

func signExtend(v uint64, size arch.OperandSize) int64 {
	n := uint(size.Bytes()) * 8
	shift := 64 - n
	return int64(v<<shift) >> shift
}

// Complex is the {base, index, offset} addressing form. Its effective
// address is base + index + offset, each term taken as zero when its
// slot is absent.
type Complex struct {
	Base, Index, Offset ComplexSlot
}

// EffectiveAddress resolves the complex operand against a register read
// function (normally the current RegisterFile).
func (c Complex) EffectiveAddress(regs func(arch.RegisterID) uint64) uint64 {
	return uint64(c.Base.value(regs) + c.Index.value(regs) + c.Offset.value(regs))
}

// Operand is a decoded operand: exactly one of its fields is meaningful,
// selected by Kind.
type Operand struct {
	Kind    arch.OperandKind
	Size    arch.OperandSize // Register/Immediate/Memory access width
	Reg     arch.RegisterID
	Imm     uint64
	Addr    uint64
	Complex Complex
}

func RegisterOperand(r arch.RegisterID) Operand {
	return Operand{Kind: arch.KindRegister, Reg: r}
}

func ImmediateOperand(v uint64, size arch.OperandSize) Operand {
	return Operand{Kind: arch.KindImmediate, Imm: v, Size: size}
}

func MemoryOperand(addr uint64, size arch.OperandSize) Operand {
	return Operand{Kind: arch.KindMemory, Addr: addr, Size: size}
}

func ComplexOperand(c Complex, size arch.OperandSize) Operand {
	return Operand{Kind: arch.KindComplex, Complex: c, Size: size}
}

// Instruction is a fully decoded instruction ready for dispatch.
type Instruction struct {
	Op          arch.Opcode
	Operands    [2]Operand
	NumOperands int
	Length      int // total encoded size in bytes, including the opcode byte
}

// DecodeError reports a malformed instruction stream. The CPU maps this
// to an INVALID_INSTRUCTION exception.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: invalid instruction at offset %d: %s", e.Offset, e.Reason)
}

// Decode reads a single instruction starting at the beginning of data.
// It returns the instruction and never reads past Instruction.Length bytes.
func Decode(data []byte) (Instruction, error) {
	if len(data) < 1 {
		return Instruction{}, &DecodeError{0, "truncated opcode"}
	}
	op := arch.Opcode(data[0])
	if !op.Valid() {
		return Instruction{}, &DecodeError{0, fmt.Sprintf("unknown opcode 0x%02X", data[0])}
	}
	argCount := op.ArgCount()
	ins := Instruction{Op: op, NumOperands: argCount}
	pos := 1

	type pending struct {
		kind    arch.OperandKind
		size    arch.OperandSize
		complex Complex
	}
	var heads [2]pending

	// decodeComplexHeader consumes a two-byte complex header at pos.
	decodeComplexHeader := func() (Complex, error) {
		if pos+2 > len(data) {
			return Complex{}, &DecodeError{pos, "truncated complex header"}
		}
		h0, h1 := data[pos], data[pos+1]
		pos += 2
		c := Complex{}
		c.Base.Present = h0&0x20 != 0
		c.Base.IsReg = h0&0x10 != 0
		c.Base.Size = arch.OperandSize((h0 >> 2) & 0x3)
		c.Index.Present = h0&0x02 != 0
		c.Index.IsReg = h0&0x01 != 0
		c.Index.Size = arch.OperandSize((h1 >> 6) & 0x3)
		c.Offset.Present = h1&0x20 != 0
		c.Offset.IsReg = h1&0x10 != 0
		offField := arch.OperandSize((h1 >> 2) & 0x3)
		if c.Offset.IsReg {
			c.Offset.Negative = offField&0x1 != 0
		} else {
			c.Offset.Size = offField
		}
		return c, nil
	}

	var h0 byte
	var firstKind arch.OperandKind
	if argCount > 0 {
		if pos >= len(data) {
			return Instruction{}, &DecodeError{pos, "truncated operand header"}
		}
		h0 = data[pos]
		firstKind = arch.OperandKind(h0 >> 6)
	}

	switch argCount {
	case 1:
		if firstKind == arch.KindComplex {
			c, err := decodeComplexHeader()
			if err != nil {
				return Instruction{}, err
			}
			heads[0] = pending{kind: arch.KindComplex, complex: c}
		} else {
			heads[0] = pending{kind: firstKind, size: arch.OperandSize((h0 >> 4) & 0x3)}
			pos++
		}
	case 2:
		if firstKind == arch.KindComplex {
			c, err := decodeComplexHeader()
			if err != nil {
				return Instruction{}, err
			}
			heads[0] = pending{kind: arch.KindComplex, complex: c}
			if pos >= len(data) {
				return Instruction{}, &DecodeError{pos, "truncated operand header"}
			}
			b := data[pos]
			if arch.OperandKind(b>>6) == arch.KindComplex {
				c, err := decodeComplexHeader()
				if err != nil {
					return Instruction{}, err
				}
				heads[1] = pending{kind: arch.KindComplex, complex: c}
			} else {
				heads[1] = pending{kind: arch.OperandKind(b >> 6), size: arch.OperandSize((b >> 4) & 0x3)}
				pos++
			}
		} else {
			// Two standard operands share this byte: first operand in
			// the high nibble, second in the low. The low nibble's type
			// bits flagging Complex mean a two-byte complex header for
			// the second operand follows instead.
			heads[0] = pending{kind: firstKind, size: arch.OperandSize((h0 >> 4) & 0x3)}
			secondKind := arch.OperandKind((h0 >> 2) & 0x3)
			pos++
			if secondKind == arch.KindComplex {
				c, err := decodeComplexHeader()
				if err != nil {
					return Instruction{}, err
				}
				heads[1] = pending{kind: arch.KindComplex, complex: c}
			} else {
				heads[1] = pending{kind: secondKind, size: arch.OperandSize(h0 & 0x3)}
			}
		}
	}

	for i := 0; i < argCount; i++ {
		h := heads[i]
		switch h.kind {
		case arch.KindRegister:
			if pos >= len(data) {
				return Instruction{}, &DecodeError{pos, "truncated register operand"}
			}
			ins.Operands[i] = RegisterOperand(arch.RegisterID(data[pos]))
			pos++
		case arch.KindImmediate:
			n := h.size.Bytes()
			if pos+n > len(data) {
				return Instruction{}, &DecodeError{pos, "truncated immediate operand"}
			}
			ins.Operands[i] = ImmediateOperand(readUint(data[pos:pos+n]), h.size)
			pos += n
		case arch.KindMemory:
			if pos+8 > len(data) {
				return Instruction{}, &DecodeError{pos, "truncated memory operand"}
			}
			ins.Operands[i] = MemoryOperand(binary.LittleEndian.Uint64(data[pos:pos+8]), h.size)
			pos += 8
		case arch.KindComplex:
			c := h.complex
			var err error
			pos, err = decodeComplexSlot(data, pos, &c.Base)
			if err != nil {
				return Instruction{}, err
			}
			pos, err = decodeComplexSlot(data, pos, &c.Index)
			if err != nil {
				return Instruction{}, err
			}
			pos, err = decodeComplexSlot(data, pos, &c.Offset)
			if err != nil {
				return Instruction{}, err
			}
			ins.Operands[i] = ComplexOperand(c, 0)
		}
	}

	ins.Length = pos
	return ins, nil
}

func decodeComplexSlot(data []byte, pos int, slot *ComplexSlot) (int, error) {
	if !slot.Present {
		return pos, nil
	}
	if slot.IsReg {
		if pos >= len(data) {
			return pos, &DecodeError{pos, "truncated complex slot register"}
		}
		slot.Reg = arch.RegisterID(data[pos])
		return pos + 1, nil
	}
	n := slot.Size.Bytes()
	if pos+n > len(data) {
		return pos, &DecodeError{pos, "truncated complex slot immediate"}
	}
	slot.Imm = readUint(data[pos : pos+n])
	return pos + n, nil
}

func readUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Encode appends the wire representation of ins to dst and returns the
// extended slice.
func Encode(dst []byte, ins Instruction) []byte {
	dst = append(dst, byte(ins.Op))
	dst = encodeHeaders(dst, ins)
	for i := 0; i < ins.NumOperands; i++ {
		dst = encodeBody(dst, ins.Operands[i])
	}
	return dst
}

// encodeHeaders emits the operand-info header. Two standard operands
// pack into a single shared byte (a type/size nibble each); a complex
// operand always carries its own two-byte header, with a standard
// first operand's low nibble flagging that the second operand's
// complex header follows.
func encodeHeaders(dst []byte, ins Instruction) []byte {
	switch ins.NumOperands {
	case 0:
		return dst
	case 1:
		return encodeHeader(dst, ins.Operands[0])
	}
	first, second := ins.Operands[0], ins.Operands[1]
	if first.Kind != arch.KindComplex {
		h := byte(first.Kind)<<6 | byte(first.Size)<<4
		if second.Kind == arch.KindComplex {
			dst = append(dst, h|byte(arch.KindComplex)<<2)
			return encodeHeader(dst, second)
		}
		return append(dst, h|byte(second.Kind)<<2|byte(second.Size))
	}
	dst = encodeHeader(dst, first)
	return encodeHeader(dst, second)
}

func encodeHeader(dst []byte, o Operand) []byte {
	if o.Kind != arch.KindComplex {
		h0 := byte(o.Kind)<<6 | byte(o.Size)<<4
		return append(dst, h0)
	}
	c := o.Complex
	var h0, h1 byte
	h0 |= byte(arch.KindComplex) << 6
	if c.Base.Present {
		h0 |= 0x20
	}
	if c.Base.IsReg {
		h0 |= 0x10
	}
	h0 |= byte(c.Base.Size&0x3) << 2
	if c.Index.Present {
		h0 |= 0x02
	}
	if c.Index.IsReg {
		h0 |= 0x01
	}
	h1 |= byte(c.Index.Size&0x3) << 6
	if c.Offset.Present {
		h1 |= 0x20
	}
	if c.Offset.IsReg {
		h1 |= 0x10
	}
	if c.Offset.IsReg {
		if c.Offset.Negative {
			h1 |= 0x04
		}
	} else {
		h1 |= byte(c.Offset.Size&0x3) << 2
	}
	return append(dst, h0, h1)
}

func encodeBody(dst []byte, o Operand) []byte {
	switch o.Kind {
	case arch.KindRegister:
		return append(dst, byte(o.Reg))
	case arch.KindImmediate:
		return appendUint(dst, o.Imm, o.Size.Bytes())
	case arch.KindMemory:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], o.Addr)
		return append(dst, buf[:]...)
	case arch.KindComplex:
		dst = encodeComplexSlot(dst, o.Complex.Base)
		dst = encodeComplexSlot(dst, o.Complex.Index)
		dst = encodeComplexSlot(dst, o.Complex.Offset)
		return dst
	}
	return dst
}

func encodeComplexSlot(dst []byte, s ComplexSlot) []byte {
	if !s.Present {
		return dst
	}
	if s.IsReg {
		return append(dst, byte(s.Reg))
	}
	return appendUint(dst, s.Imm, s.Size.Bytes())
}

func appendUint(dst []byte, v uint64, n int) []byte {
	for i := 0; i < n; i++ {
		dst = append(dst, byte(v>>(8*uint(i))))
	}
	return dst
}
