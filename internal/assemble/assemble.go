package assemble

import (
	"encoding/binary"
	"fmt"

	"frost64/internal/arch"
	"frost64/internal/codec"
)

// Assemble turns Frost64 assembly source into the flat binary image
// spec.md §6.1 describes, ready to be loaded at physical 0xF000_0000.
// include resolves the path argument of an %include directive to its
// contents; pass nil if the source uses no %include.
//
// Frost64 resolves every label address in a single top-to-bottom pass
// (instruction and directive lengths never depend on a referenced
// label's value, only on its own explicit size), rather than the
// single-pass-plus-patch-list model spec.md §4.1 describes for the
// codec's own Encode: codec.PlaceholderAddress remains available as the
// wire-level sentinel for tooling (e.g. a future incremental linker)
// that does need that model, but this assembler doesn't need it to
// produce an identical image.
func Assemble(source string, include FileReader) ([]byte, error) {
	pp := &preprocessor{read: include}
	processed, err := pp.process("<main>", source)
	if err != nil {
		return nil, err
	}
	stmts, err := parseProgram(processed)
	if err != nil {
		return nil, err
	}

	labels, err := resolveAddresses(stmts)
	if err != nil {
		return nil, err
	}
	return encodeProgram(stmts, labels)
}

// resolveAddresses walks stmts once, assigning every label the byte
// offset it will end up at in the final image.
func resolveAddresses(stmts []stmt) (map[string]uint64, error) {
	labels := make(map[string]uint64)
	var addr uint64
	for _, s := range stmts {
		switch v := s.(type) {
		case labelStmt:
			if _, dup := labels[v.name]; dup {
				return nil, fmt.Errorf("assemble: label %q defined more than once", v.name)
			}
			labels[v.name] = addr
		case orgStmt:
			target, err := v.addr.eval(nil)
			if err != nil {
				return nil, fmt.Errorf("assemble: org: %w", err)
			}
			if target < addr {
				return nil, fmt.Errorf("assemble: org cannot move the address counter backward (0x%X < 0x%X)", target, addr)
			}
			addr = target
		case alignStmt:
			n, err := v.n.eval(nil)
			if err != nil {
				return nil, fmt.Errorf("assemble: align: %w", err)
			}
			if n > 0 && addr%n != 0 {
				addr += n - addr%n
			}
		case dataStmt:
			addr += uint64(len(v.vals) * v.size)
		case stringStmt:
			addr += uint64(len(v.data))
		case insnStmt:
			shape := codec.Instruction{Op: v.op, NumOperands: len(v.operands)}
			for i, o := range v.operands {
				shape.Operands[i] = shapeOperand(o)
			}
			addr += uint64(len(codec.Encode(nil, shape)))
		}
	}
	return labels, nil
}

// shapeOperand builds a placeholder codec.Operand carrying only the
// kind/size information needed to measure an instruction's encoded
// length; its value fields are meaningless.
func shapeOperand(o operandAST) codec.Operand {
	switch o.kind {
	case arch.KindRegister:
		return codec.RegisterOperand(o.reg)
	case arch.KindImmediate:
		return codec.ImmediateOperand(0, o.size)
	case arch.KindMemory:
		return codec.MemoryOperand(0, o.size)
	case arch.KindComplex:
		return codec.ComplexOperand(shapeComplex(o.complex), o.size)
	}
	return codec.Operand{}
}

func shapeComplex(c complexOperandAST) codec.Complex {
	shape := func(s complexSlotAST) codec.ComplexSlot {
		if !s.present {
			return codec.ComplexSlot{}
		}
		if s.isReg {
			return codec.ComplexSlot{Present: true, IsReg: true, Reg: s.reg, Negative: s.negative}
		}
		return codec.ComplexSlot{Present: true, Size: arch.SizeQword}
	}
	return codec.Complex{Base: shape(c.base), Index: shape(c.index), Offset: shape(c.offset)}
}

func encodeProgram(stmts []stmt, labels map[string]uint64) ([]byte, error) {
	var out []byte
	var addr uint64
	for _, s := range stmts {
		switch v := s.(type) {
		case labelStmt:
			// no bytes emitted; address already resolved.
		case orgStmt:
			target, _ := v.addr.eval(labels)
			if target > addr {
				out = append(out, make([]byte, target-addr)...)
			}
			addr = target
		case alignStmt:
			n, _ := v.n.eval(labels)
			if n > 0 && addr%n != 0 {
				pad := n - addr%n
				out = append(out, make([]byte, pad)...)
				addr += pad
			}
		case dataStmt:
			for _, e := range v.vals {
				val, err := e.eval(labels)
				if err != nil {
					return nil, fmt.Errorf("assemble: %w", err)
				}
				var buf [8]byte
				binary.LittleEndian.PutUint64(buf[:], val)
				out = append(out, buf[:v.size]...)
			}
			addr += uint64(len(v.vals) * v.size)
		case stringStmt:
			out = append(out, v.data...)
			addr += uint64(len(v.data))
		case insnStmt:
			ins := codec.Instruction{Op: v.op, NumOperands: len(v.operands)}
			for i, o := range v.operands {
				resolved, err := resolveOperand(o, labels)
				if err != nil {
					return nil, fmt.Errorf("assemble: %s: %w", v.op, err)
				}
				ins.Operands[i] = resolved
			}
			before := len(out)
			out = codec.Encode(out, ins)
			addr += uint64(len(out) - before)
		}
	}
	return out, nil
}

func resolveOperand(o operandAST, labels map[string]uint64) (codec.Operand, error) {
	switch o.kind {
	case arch.KindRegister:
		return codec.RegisterOperand(o.reg), nil
	case arch.KindImmediate:
		v, err := o.val.eval(labels)
		if err != nil {
			return codec.Operand{}, err
		}
		return codec.ImmediateOperand(v, o.size), nil
	case arch.KindMemory:
		v, err := o.val.eval(labels)
		if err != nil {
			return codec.Operand{}, err
		}
		return codec.MemoryOperand(v, o.size), nil
	case arch.KindComplex:
		c, err := resolveComplex(o.complex, labels)
		if err != nil {
			return codec.Operand{}, err
		}
		return codec.ComplexOperand(c, o.size), nil
	}
	return codec.Operand{}, fmt.Errorf("unknown operand kind")
}

func resolveComplex(c complexOperandAST, labels map[string]uint64) (codec.Complex, error) {
	resolve := func(s complexSlotAST) (codec.ComplexSlot, error) {
		if !s.present {
			return codec.ComplexSlot{}, nil
		}
		if s.isReg {
			return codec.ComplexSlot{Present: true, IsReg: true, Reg: s.reg, Negative: s.negative}, nil
		}
		v, err := s.val.eval(labels)
		if err != nil {
			return codec.ComplexSlot{}, err
		}
		if s.negative {
			v = uint64(-int64(v))
		}
		return codec.ComplexSlot{Present: true, Size: arch.SizeQword, Imm: v}, nil
	}
	base, err := resolve(c.base)
	if err != nil {
		return codec.Complex{}, err
	}
	index, err := resolve(c.index)
	if err != nil {
		return codec.Complex{}, err
	}
	offset, err := resolve(c.offset)
	if err != nil {
		return codec.Complex{}, err
	}
	return codec.Complex{Base: base, Index: index, Offset: offset}, nil
}
