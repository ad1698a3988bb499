package cpu

import (
	"math/bits"

	"frost64/internal/arch"
	"frost64/internal/codec"
	"frost64/internal/cpuregs"
	"frost64/internal/except"
	"frost64/internal/interrupt"
)

func maskToSize(size arch.OperandSize, v uint64) uint64 {
	switch size {
	case arch.SizeByte:
		return v & 0xFF
	case arch.SizeWord:
		return v & 0xFFFF
	case arch.SizeDword:
		return v & 0xFFFFFFFF
	default:
		return v
	}
}

func signBit(size arch.OperandSize, v uint64) bool {
	switch size {
	case arch.SizeByte:
		return v&0x80 != 0
	case arch.SizeWord:
		return v&0x8000 != 0
	case arch.SizeDword:
		return v&0x80000000 != 0
	default:
		return v&0x8000000000000000 != 0
	}
}

func (c *CPU) regsFn() func(arch.RegisterID) uint64 {
	return func(id arch.RegisterID) uint64 { return c.Regs.ReadInternal(id) }
}

// operandValue resolves o to the value it names, dereferencing Memory
// and Complex operands through the current address-translation mode.
func (c *CPU) operandValue(o codec.Operand, mode Mode) (uint64, error) {
	switch o.Kind {
	case arch.KindRegister:
		return c.Regs.Read(o.Reg, mode.Protected, c.UserMode)
	case arch.KindImmediate:
		return o.Imm, nil
	case arch.KindMemory:
		return c.view.ReadN(o.Addr, o.Size.Bytes())
	case arch.KindComplex:
		addr := o.Complex.EffectiveAddress(c.regsFn())
		return c.view.ReadN(addr, o.Size.Bytes())
	}
	return 0, except.New(except.InvalidInstruction, c.view.ip, "unknown operand kind")
}

// operandStore writes val to the location o names.
func (c *CPU) operandStore(o codec.Operand, val uint64, mode Mode) error {
	switch o.Kind {
	case arch.KindRegister:
		return c.Regs.Write(o.Reg, val, mode.Protected, c.UserMode)
	case arch.KindMemory:
		return c.view.WriteN(o.Addr, val, o.Size.Bytes())
	case arch.KindComplex:
		addr := o.Complex.EffectiveAddress(c.regsFn())
		return c.view.WriteN(addr, val, o.Size.Bytes())
	}
	return except.New(except.InvalidInstruction, c.view.ip, "operand is not a storage location")
}

// operandAddress resolves o to the raw numeric value it names without
// dereferencing Memory/Complex operands — used where the operand *is*
// an address or port number itself (jump targets, I/O ports, LIDT's
// table base), not something to load through the MMU first.
func (c *CPU) operandAddress(o codec.Operand, mode Mode) (uint64, error) {
	switch o.Kind {
	case arch.KindRegister:
		return c.Regs.Read(o.Reg, mode.Protected, c.UserMode)
	case arch.KindImmediate:
		return o.Imm, nil
	case arch.KindMemory:
		return o.Addr, nil
	case arch.KindComplex:
		return o.Complex.EffectiveAddress(c.regsFn()), nil
	}
	return 0, except.New(except.InvalidInstruction, c.view.ip, "unknown operand kind")
}

func (c *CPU) execute(ins codec.Instruction) error {
	mode, _, _ := DecodeCR0(c.Regs.CR(0))
	op := ins.Op
	switch {
	case op.IsALU():
		return c.execALU(ins, mode)
	case op.IsControlFlow():
		return c.execControlFlow(ins, mode)
	case op.IsIO():
		return c.execIO(ins, mode)
	default:
		return c.execOther(ins, mode)
	}
}

func (c *CPU) execALU(ins codec.Instruction, mode Mode) error {
	dst := ins.Operands[0]
	size := dst.Size

	unary := func(compute func(a uint64) uint64) error {
		a, err := c.operandValue(dst, mode)
		if err != nil {
			return err
		}
		res := maskToSize(size, compute(a))
		c.setLogicFlags(size, res)
		return c.operandStore(dst, res, mode)
	}
	binary := func(compute func(a, b uint64) (uint64, bool, bool)) error {
		a, err := c.operandValue(dst, mode)
		if err != nil {
			return err
		}
		b, err := c.operandValue(ins.Operands[1], mode)
		if err != nil {
			return err
		}
		res, carry, overflow := compute(a, b)
		res = maskToSize(size, res)
		c.setArithFlags(size, res, carry, overflow)
		return c.operandStore(dst, res, mode)
	}

	switch ins.Op {
	case arch.OpADD:
		return binary(func(a, b uint64) (uint64, bool, bool) {
			res := a + b
			carry := maskToSize(size, res) < maskToSize(size, a)
			overflow := signBit(size, a) == signBit(size, b) && signBit(size, res) != signBit(size, a)
			return res, carry, overflow
		})
	case arch.OpSUB, arch.OpCMP:
		a, err := c.operandValue(dst, mode)
		if err != nil {
			return err
		}
		b, err := c.operandValue(ins.Operands[1], mode)
		if err != nil {
			return err
		}
		res := maskToSize(size, a-b)
		carry := maskToSize(size, a) < maskToSize(size, b)
		overflow := signBit(size, a) != signBit(size, b) && signBit(size, res) != signBit(size, a)
		c.setArithFlags(size, res, carry, overflow)
		if ins.Op == arch.OpCMP {
			return nil
		}
		return c.operandStore(dst, res, mode)
	case arch.OpMUL:
		return binary(func(a, b uint64) (uint64, bool, bool) {
			hi, lo := bits.Mul64(a, b)
			overflow := hi != 0
			return lo, overflow, overflow
		})
	case arch.OpDIV:
		b, err := c.operandValue(ins.Operands[1], mode)
		if err != nil {
			return err
		}
		if b == 0 {
			return except.New(except.DivByZero, c.view.ip, "division by zero")
		}
		a, err := c.operandValue(dst, mode)
		if err != nil {
			return err
		}
		res := maskToSize(size, a/b)
		c.setLogicFlags(size, res)
		return c.operandStore(dst, res, mode)
	case arch.OpOR:
		return binary(func(a, b uint64) (uint64, bool, bool) { return a | b, false, false })
	case arch.OpXOR:
		return binary(func(a, b uint64) (uint64, bool, bool) { return a ^ b, false, false })
	case arch.OpNOR:
		return binary(func(a, b uint64) (uint64, bool, bool) { return ^(a | b), false, false })
	case arch.OpAND:
		return binary(func(a, b uint64) (uint64, bool, bool) { return a & b, false, false })
	case arch.OpNAND:
		return binary(func(a, b uint64) (uint64, bool, bool) { return ^(a & b), false, false })
	case arch.OpNOT:
		return unary(func(a uint64) uint64 { return ^a })
	case arch.OpINC:
		return unary(func(a uint64) uint64 { return a + 1 })
	case arch.OpDEC:
		return unary(func(a uint64) uint64 { return a - 1 })
	case arch.OpSHL:
		return binary(func(a, b uint64) (uint64, bool, bool) { return a << b, false, false })
	case arch.OpSHR:
		return binary(func(a, b uint64) (uint64, bool, bool) { return a >> b, false, false })
	}
	return except.New(except.InvalidInstruction, c.view.ip, "unreachable ALU opcode")
}

func (c *CPU) setLogicFlags(size arch.OperandSize, res uint64) {
	c.Regs.SetFlag(cpuregs.FlagZero, res == 0)
	c.Regs.SetFlag(cpuregs.FlagNegative, signBit(size, res))
	c.Regs.SetFlag(cpuregs.FlagCarry, false)
	c.Regs.SetFlag(cpuregs.FlagOverflow, false)
}

func (c *CPU) setArithFlags(size arch.OperandSize, res uint64, carry, overflow bool) {
	c.Regs.SetFlag(cpuregs.FlagZero, res == 0)
	c.Regs.SetFlag(cpuregs.FlagNegative, signBit(size, res))
	c.Regs.SetFlag(cpuregs.FlagCarry, carry)
	c.Regs.SetFlag(cpuregs.FlagOverflow, overflow)
}

func (c *CPU) execControlFlow(ins codec.Instruction, mode Mode) error {
	nextIP := c.view.ip + uint64(ins.Length)
	switch ins.Op {
	case arch.OpRET:
		s := c.currentStack()
		target, err := s.Pop(c.view.ip)
		c.commitStack(s)
		if err != nil {
			return err
		}
		c.Regs.SetIP(target)
		return nil
	case arch.OpCALL:
		target, err := c.operandAddress(ins.Operands[0], mode)
		if err != nil {
			return err
		}
		s := c.currentStack()
		err = s.Push(nextIP, c.view.ip)
		c.commitStack(s)
		if err != nil {
			return err
		}
		c.Regs.SetIP(target)
		return nil
	case arch.OpJMP:
		target, err := c.operandAddress(ins.Operands[0], mode)
		if err != nil {
			return err
		}
		c.Regs.SetIP(target)
		return nil
	case arch.OpJC, arch.OpJNC, arch.OpJZ, arch.OpJNZ:
		return c.execConditionalJump(ins, mode)
	case arch.OpSYSCALL:
		if mode.Protected && !c.UserMode {
			return except.New(except.SupervisorModeViolation, c.view.ip, "SYSCALL from supervisor mode")
		}
		c.exitUserMode(nextIP)
		return nil
	case arch.OpSYSRET:
		if mode.Protected && c.UserMode {
			return except.New(except.UserModeViolation, c.view.ip, "SYSRET from user mode")
		}
		c.enterUserMode()
		return nil
	case arch.OpENTERUSER:
		if mode.Protected && c.UserMode {
			return except.New(except.UserModeViolation, c.view.ip, "ENTERUSER from user mode")
		}
		target, err := c.operandAddress(ins.Operands[0], mode)
		if err != nil {
			return err
		}
		c.Regs.WriteInternal(arch.MakeRegisterID(arch.RegStatus, 0), 0)
		c.UserMode = true
		c.Regs.SetIP(target)
		return nil
	}
	return except.New(except.InvalidInstruction, c.view.ip, "unreachable control-flow opcode")
}

func (c *CPU) execConditionalJump(ins codec.Instruction, mode Mode) error {
	var taken bool
	switch ins.Op {
	case arch.OpJC:
		taken = c.Regs.Flag(cpuregs.FlagCarry)
	case arch.OpJNC:
		taken = !c.Regs.Flag(cpuregs.FlagCarry)
	case arch.OpJZ:
		taken = c.Regs.Flag(cpuregs.FlagZero)
	case arch.OpJNZ:
		taken = !c.Regs.Flag(cpuregs.FlagZero)
	}
	if !taken {
		return nil
	}
	target, err := c.operandAddress(ins.Operands[0], mode)
	if err != nil {
		return err
	}
	c.Regs.SetIP(target)
	return nil
}

func (c *CPU) execIO(ins codec.Instruction, mode Mode) error {
	if mode.Protected && c.UserMode {
		return except.New(except.UserModeViolation, c.view.ip, "I/O access from user mode")
	}
	widths := map[arch.Opcode]int{
		arch.OpINB: 1, arch.OpINW: 2, arch.OpIND: 4, arch.OpINQ: 8,
		arch.OpOUTB: 1, arch.OpOUTW: 2, arch.OpOUTD: 4, arch.OpOUTQ: 8,
	}
	n := widths[ins.Op]
	// The port is always the first operand, for IN as well as OUT.
	port, err := c.operandAddress(ins.Operands[0], mode)
	if err != nil {
		return err
	}
	switch ins.Op {
	case arch.OpINB, arch.OpINW, arch.OpIND, arch.OpINQ:
		buf := make([]byte, n)
		c.Ports.ReadAt(port, buf)
		return c.operandStore(ins.Operands[1], readLEBytes(buf), mode)
	default: // OUTx
		val, err := c.operandValue(ins.Operands[1], mode)
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		writeLEBytes(buf, val)
		c.Ports.WriteAt(port, buf)
		return nil
	}
}

func readLEBytes(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func writeLEBytes(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v)
		v >>= 8
	}
}

func (c *CPU) execOther(ins codec.Instruction, mode Mode) error {
	switch ins.Op {
	case arch.OpMOV:
		val, err := c.operandValue(ins.Operands[1], mode)
		if err != nil {
			return err
		}
		return c.operandStore(ins.Operands[0], maskToSize(ins.Operands[0].Size, val), mode)
	case arch.OpNOP:
		return nil
	case arch.OpHLT:
		c.Halted = true
		return nil
	case arch.OpPUSH:
		val, err := c.operandValue(ins.Operands[0], mode)
		if err != nil {
			return err
		}
		s := c.currentStack()
		err = s.Push(val, c.view.ip)
		c.commitStack(s)
		return err
	case arch.OpPOP:
		s := c.currentStack()
		val, err := s.Pop(c.view.ip)
		c.commitStack(s)
		if err != nil {
			return err
		}
		return c.operandStore(ins.Operands[0], val, mode)
	case arch.OpPUSHA:
		s := c.currentStack()
		for i := 0; i < 16; i++ {
			v := c.Regs.ReadInternal(arch.MakeRegisterID(arch.RegGeneralPurpose, uint8(i)))
			if err := s.Push(v, c.view.ip); err != nil {
				c.commitStack(s)
				return err
			}
		}
		c.commitStack(s)
		return nil
	case arch.OpPOPA:
		s := c.currentStack()
		for i := 15; i >= 0; i-- {
			v, err := s.Pop(c.view.ip)
			if err != nil {
				c.commitStack(s)
				return err
			}
			c.Regs.WriteInternal(arch.MakeRegisterID(arch.RegGeneralPurpose, uint8(i)), v)
		}
		c.commitStack(s)
		return nil
	case arch.OpINT:
		if mode.Protected && c.UserMode {
			return except.New(except.UserModeViolation, c.view.ip, "INT from user mode")
		}
		vector, err := c.operandAddress(ins.Operands[0], mode)
		if err != nil {
			return err
		}
		flags := c.Regs.ReadInternal(arch.MakeRegisterID(arch.RegStatus, 0))
		nextIP := c.view.ip + uint64(ins.Length)
		s := c.currentStack()
		newIP, ierr := c.Interrupts.RaiseInterrupt(uint8(vector), nextIP, flags, s)
		c.commitStack(s)
		if ierr == nil {
			c.Regs.SetIP(newIP)
			return nil
		}
		if redirectIP, ok := interrupt.AsRedirect(ierr); ok {
			c.Regs.SetIP(redirectIP)
			return nil
		}
		return ierr
	case arch.OpLIDT:
		if mode.Protected && c.UserMode {
			return except.New(except.UserModeViolation, c.view.ip, "LIDT from user mode")
		}
		base, err := c.operandAddress(ins.Operands[0], mode)
		if err != nil {
			return err
		}
		c.Interrupts.SetIDTR(base)
		return nil
	case arch.OpIRET:
		if mode.Protected && c.UserMode {
			return except.New(except.UserModeViolation, c.view.ip, "IRET from user mode")
		}
		s := c.currentStack()
		resumeIP, flags, err := c.Interrupts.Return(c.view.ip, s)
		c.commitStack(s)
		if err != nil {
			return err
		}
		c.Regs.WriteInternal(arch.MakeRegisterID(arch.RegStatus, 0), flags)
		c.Regs.SetIP(resumeIP)
		return nil
	}
	return except.New(except.InvalidInstruction, c.view.ip, "unreachable opcode")
}
