package codec

import (
	"reflect"
	"testing"

	"frost64/internal/arch"
)

func roundTrip(t *testing.T, ins Instruction) Instruction {
	t.Helper()
	buf := Encode(nil, ins)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Length != len(buf) {
		t.Fatalf("Length = %d, want %d", got.Length, len(buf))
	}
	return got
}

func TestRoundTripTwoStandardOperands(t *testing.T) {
	ins := Instruction{
		Op:          arch.OpADD,
		NumOperands: 2,
		Operands: [2]Operand{
			RegisterOperand(arch.MakeRegisterID(arch.RegGeneralPurpose, 0)),
			ImmediateOperand(5, arch.SizeByte),
		},
	}
	got := roundTrip(t, ins)
	if got.Op != arch.OpADD {
		t.Fatalf("opcode mismatch")
	}
	if got.Operands[0].Kind != arch.KindRegister || got.Operands[0].Reg.Index() != 0 {
		t.Fatalf("operand0 mismatch: %+v", got.Operands[0])
	}
	if got.Operands[1].Kind != arch.KindImmediate || got.Operands[1].Imm != 5 {
		t.Fatalf("operand1 mismatch: %+v", got.Operands[1])
	}
}

func TestRoundTripOneOperand(t *testing.T) {
	ins := Instruction{
		Op:          arch.OpJMP,
		NumOperands: 1,
		Operands: [2]Operand{
			MemoryOperand(0x1000, arch.SizeQword),
		},
	}
	got := roundTrip(t, ins)
	if got.Operands[0].Addr != 0x1000 {
		t.Fatalf("addr mismatch: %+v", got.Operands[0])
	}
}

func TestRoundTripZeroOperands(t *testing.T) {
	ins := Instruction{Op: arch.OpHLT, NumOperands: 0}
	got := roundTrip(t, ins)
	if got.Op != arch.OpHLT || got.Length != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestRoundTripComplexOperand(t *testing.T) {
	c := Complex{
		Base:  ComplexSlot{Present: true, IsReg: true, Reg: arch.MakeRegisterID(arch.RegGeneralPurpose, 2)},
		Index: ComplexSlot{Present: true, IsReg: false, Size: arch.SizeByte, Imm: 4},
		Offset: ComplexSlot{
			Present: true, IsReg: false, Size: arch.SizeWord, Imm: 0x1234,
		},
	}
	ins := Instruction{
		Op:          arch.OpMOV,
		NumOperands: 2,
		Operands: [2]Operand{
			RegisterOperand(arch.MakeRegisterID(arch.RegGeneralPurpose, 0)),
			ComplexOperand(c, arch.SizeQword),
		},
	}
	got := roundTrip(t, ins)
	gotC := got.Operands[1].Complex
	if !reflect.DeepEqual(gotC, c) {
		t.Fatalf("complex mismatch: got %+v want %+v", gotC, c)
	}
}

func TestRoundTripComplexWithNegativeRegisterOffset(t *testing.T) {
	c := Complex{
		Base: ComplexSlot{Present: true, IsReg: true, Reg: arch.MakeRegisterID(arch.RegGeneralPurpose, 1)},
		Offset: ComplexSlot{
			Present: true, IsReg: true, Reg: arch.MakeRegisterID(arch.RegGeneralPurpose, 2), Negative: true,
		},
	}
	ins := Instruction{
		Op:          arch.OpMOV,
		NumOperands: 2,
		Operands: [2]Operand{
			RegisterOperand(arch.MakeRegisterID(arch.RegGeneralPurpose, 0)),
			ComplexOperand(c, arch.SizeQword),
		},
	}
	got := roundTrip(t, ins)
	gotC := got.Operands[1].Complex
	if !gotC.Offset.Negative || !gotC.Offset.IsReg {
		t.Fatalf("offset sign lost: %+v", gotC.Offset)
	}
	regs := func(r arch.RegisterID) uint64 {
		if r.Index() == 1 {
			return 100
		}
		return 30
	}
	if ea := gotC.EffectiveAddress(regs); ea != 70 {
		t.Fatalf("EffectiveAddress = %d, want 70", ea)
	}
}

// Two standard operands share one operand-info byte: first operand's
// type/size in the high nibble, second's in the low.
func TestTwoStandardOperandsShareOneHeaderByte(t *testing.T) {
	ins := Instruction{
		Op:          arch.OpADD,
		NumOperands: 2,
		Operands: [2]Operand{
			RegisterOperand(arch.MakeRegisterID(arch.RegGeneralPurpose, 0)),
			ImmediateOperand(5, arch.SizeByte),
		},
	}
	buf := Encode(nil, ins)
	want := []byte{
		byte(arch.OpADD),
		byte(arch.KindRegister)<<6 | byte(arch.SizeByte)<<4 | byte(arch.KindImmediate)<<2 | byte(arch.SizeByte),
		0x00, // R0
		0x05, // immediate
	}
	if len(buf) != len(want) {
		t.Fatalf("encoded %d bytes, want %d (% X)", len(buf), len(want), buf)
	}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d = 0x%02X, want 0x%02X (% X)", i, buf[i], want[i], buf)
		}
	}
}

// A standard first operand followed by a complex second flags the
// complex type in the shared byte's low nibble, then the complex
// operand's own two-byte header follows (three header bytes total).
func TestStandardPlusComplexHeaderWidth(t *testing.T) {
	c := Complex{
		Base:   ComplexSlot{Present: true, IsReg: true, Reg: arch.MakeRegisterID(arch.RegGeneralPurpose, 2)},
		Offset: ComplexSlot{Present: true, IsReg: false, Size: arch.SizeByte, Imm: 8},
	}
	ins := Instruction{
		Op:          arch.OpMOV,
		NumOperands: 2,
		Operands: [2]Operand{
			RegisterOperand(arch.MakeRegisterID(arch.RegGeneralPurpose, 1)),
			ComplexOperand(c, arch.SizeQword),
		},
	}
	buf := Encode(nil, ins)
	// opcode + 3 header bytes + register body + base register + offset byte.
	if len(buf) != 7 {
		t.Fatalf("encoded %d bytes, want 7 (% X)", len(buf), buf)
	}
	if got := arch.OperandKind((buf[1] >> 2) & 0x3); got != arch.KindComplex {
		t.Fatalf("shared byte's low nibble type = %d, want complex", got)
	}
	got := roundTrip(t, ins)
	if got.Operands[1].Kind != arch.KindComplex {
		t.Fatalf("second operand decoded as %v", got.Operands[1].Kind)
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	_, err := Decode([]byte{0xFF})
	if err == nil {
		t.Fatal("expected error for unknown opcode")
	}
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{byte(arch.OpADD)})
	if err == nil {
		t.Fatal("expected error for truncated operand header")
	}
}

func TestPlaceholderAddressSurvivesRoundTrip(t *testing.T) {
	ins := Instruction{
		Op:          arch.OpCALL,
		NumOperands: 1,
		Operands:    [2]Operand{MemoryOperand(PlaceholderAddress, arch.SizeQword)},
	}
	got := roundTrip(t, ins)
	if got.Operands[0].Addr != PlaceholderAddress {
		t.Fatalf("placeholder not preserved")
	}
}
