// Package arch defines the Frost64 instruction set vocabulary: opcodes,
// operand variants and register identifiers. It holds no behavior beyond
// the pure data model described by the wire format; the codec, cpu and
// mmu packages build on top of it.
package arch

import "fmt"

// RegisterType is the top nibble of a RegisterID.
type RegisterType uint8

const (
	RegGeneralPurpose RegisterType = iota
	RegStack
	RegControl
	RegStatus
	RegInstruction
	RegUnknown RegisterType = 0xF
)

// RegisterID packs {type, index} into a single byte: top nibble type,
// bottom nibble index.
type RegisterID uint8

func MakeRegisterID(t RegisterType, index uint8) RegisterID {
	return RegisterID(uint8(t)<<4 | (index & 0x0F))
}

func (r RegisterID) Type() RegisterType { return RegisterType(r >> 4) }
func (r RegisterID) Index() uint8       { return uint8(r) & 0x0F }

// Named single-instance registers (SCP/SBP/STP are stack-type indices
// 0/1/2; STS/IP are the lone Status/Instruction registers at index 0).
const (
	StackSCP uint8 = 0
	StackSBP uint8 = 1
	StackSTP uint8 = 2
)

func (r RegisterID) String() string {
	switch r.Type() {
	case RegGeneralPurpose:
		return fmt.Sprintf("R%d", r.Index())
	case RegStack:
		switch r.Index() {
		case StackSCP:
			return "SCP"
		case StackSBP:
			return "SBP"
		case StackSTP:
			return "STP"
		}
	case RegControl:
		return fmt.Sprintf("CR%d", r.Index())
	case RegStatus:
		return "STS"
	case RegInstruction:
		return "IP"
	}
	return "UNKNOWN"
}

// OperandSize is the 2-bit on-wire size code shared by every operand kind.
type OperandSize uint8

const (
	SizeByte OperandSize = iota
	SizeWord
	SizeDword
	SizeQword
)

// Bytes returns 1<<size.
func (s OperandSize) Bytes() int { return 1 << uint(s) }

func (s OperandSize) String() string {
	switch s {
	case SizeByte:
		return "byte"
	case SizeWord:
		return "word"
	case SizeDword:
		return "dword"
	case SizeQword:
		return "qword"
	}
	return "?"
}

// OperandKind is the 2-bit on-wire type tag for a standard operand slot.
// The numeric values match the wire encoding exactly (spec.md §4.1):
// 0=Register, 1=Memory, 2=Immediate, 3=Complex.
type OperandKind uint8

const (
	KindRegister OperandKind = iota
	KindMemory
	KindImmediate
	KindComplex
)

// Opcode is a closed, 8-bit enum partitioned into four groups.
type Opcode uint8

const (
	// ALU group: 0x00-0x0F
	OpADD Opcode = 0x00
	OpMUL Opcode = 0x01
	OpSUB Opcode = 0x02
	OpDIV Opcode = 0x03
	OpOR  Opcode = 0x04
	OpXOR Opcode = 0x05
	OpNOR Opcode = 0x06
	OpAND Opcode = 0x07
	OpNAND Opcode = 0x08
	OpNOT Opcode = 0x09
	OpCMP Opcode = 0x0A
	OpINC Opcode = 0x0B
	OpDEC Opcode = 0x0C
	OpSHL Opcode = 0x0D
	OpSHR Opcode = 0x0E

	// Control-flow group: 0x10-0x1F
	OpRET       Opcode = 0x10
	OpCALL      Opcode = 0x11
	OpJMP       Opcode = 0x12
	OpJC        Opcode = 0x13
	OpJNC       Opcode = 0x14
	OpJZ        Opcode = 0x15
	OpJNZ       Opcode = 0x16
	OpSYSCALL   Opcode = 0x17
	OpSYSRET    Opcode = 0x18
	OpENTERUSER Opcode = 0x19

	// I/O group: 0x20-0x2F
	OpINB  Opcode = 0x20
	OpINW  Opcode = 0x21
	OpIND  Opcode = 0x22
	OpINQ  Opcode = 0x23
	OpOUTB Opcode = 0x24
	OpOUTW Opcode = 0x25
	OpOUTD Opcode = 0x26
	OpOUTQ Opcode = 0x27

	// Other group: 0x30-0x3F
	OpMOV   Opcode = 0x30
	OpNOP   Opcode = 0x31
	OpHLT   Opcode = 0x32
	OpPUSH  Opcode = 0x33
	OpPOP   Opcode = 0x34
	OpPUSHA Opcode = 0x35
	OpPOPA  Opcode = 0x36
	OpINT   Opcode = 0x37
	OpLIDT  Opcode = 0x38
	OpIRET  Opcode = 0x39
)

var mnemonics = map[Opcode]string{
	OpADD: "add", OpMUL: "mul", OpSUB: "sub", OpDIV: "div", OpOR: "or",
	OpXOR: "xor", OpNOR: "nor", OpAND: "and", OpNAND: "nand", OpNOT: "not",
	OpCMP: "cmp", OpINC: "inc", OpDEC: "dec", OpSHL: "shl", OpSHR: "shr",
	OpRET: "ret", OpCALL: "call", OpJMP: "jmp", OpJC: "jc", OpJNC: "jnc",
	OpJZ: "jz", OpJNZ: "jnz", OpSYSCALL: "syscall", OpSYSRET: "sysret",
	OpENTERUSER: "enteruser",
	OpINB:       "inb", OpINW: "inw", OpIND: "ind", OpINQ: "inq",
	OpOUTB: "outb", OpOUTW: "outw", OpOUTD: "outd", OpOUTQ: "outq",
	OpMOV: "mov", OpNOP: "nop", OpHLT: "hlt", OpPUSH: "push", OpPOP: "pop",
	OpPUSHA: "pusha", OpPOPA: "popa", OpINT: "int", OpLIDT: "lidt", OpIRET: "iret",
}

func (op Opcode) String() string {
	if m, ok := mnemonics[op]; ok {
		return m
	}
	return fmt.Sprintf("opcode(0x%02X)", uint8(op))
}

// ArgCount returns the fixed number of operands (0, 1 or 2) an opcode
// takes, or -1 if the opcode is unknown (INVALID_INSTRUCTION at decode).
func (op Opcode) ArgCount() int {
	switch op {
	case OpADD, OpMUL, OpSUB, OpDIV, OpOR, OpXOR, OpNOR, OpAND, OpNAND,
		OpCMP, OpSHL, OpSHR, OpMOV,
		OpINB, OpINW, OpIND, OpINQ, OpOUTB, OpOUTW, OpOUTD, OpOUTQ:
		return 2
	case OpNOT, OpINC, OpDEC, OpCALL, OpJMP, OpJC, OpJNC, OpJZ, OpJNZ,
		OpENTERUSER, OpPUSH, OpPOP, OpINT, OpLIDT:
		return 1
	case OpRET, OpSYSCALL, OpSYSRET, OpNOP, OpHLT, OpPUSHA, OpPOPA, OpIRET:
		return 0
	}
	return -1
}

// IsALU, IsControlFlow, IsIO and IsOther classify an opcode by its group.
func (op Opcode) IsALU() bool         { return op <= 0x0F }
func (op Opcode) IsControlFlow() bool { return op >= 0x10 && op <= 0x1F }
func (op Opcode) IsIO() bool          { return op >= 0x20 && op <= 0x2F }
func (op Opcode) IsOther() bool       { return op >= 0x30 && op <= 0x3F }

// Valid reports whether op names a known instruction.
func (op Opcode) Valid() bool {
	_, ok := mnemonics[op]
	return ok
}
