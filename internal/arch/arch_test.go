package arch

import "testing"

func TestRegisterIDRoundTrip(t *testing.T) {
	cases := []struct {
		typ RegisterType
		idx uint8
	}{
		{RegGeneralPurpose, 0},
		{RegGeneralPurpose, 15},
		{RegStack, StackSCP},
		{RegStack, StackSBP},
		{RegStack, StackSTP},
		{RegControl, 7},
		{RegStatus, 0},
		{RegInstruction, 0},
	}
	for _, c := range cases {
		id := MakeRegisterID(c.typ, c.idx)
		if id.Type() != c.typ {
			t.Fatalf("type mismatch: got %v want %v", id.Type(), c.typ)
		}
		if id.Index() != c.idx {
			t.Fatalf("index mismatch: got %v want %v", id.Index(), c.idx)
		}
	}
}

func TestRegisterIDString(t *testing.T) {
	if got := MakeRegisterID(RegGeneralPurpose, 3).String(); got != "R3" {
		t.Fatalf("got %q", got)
	}
	if got := MakeRegisterID(RegStack, StackSTP).String(); got != "STP" {
		t.Fatalf("got %q", got)
	}
	if got := MakeRegisterID(RegStatus, 0).String(); got != "STS" {
		t.Fatalf("got %q", got)
	}
}

func TestOpcodeArgCount(t *testing.T) {
	cases := map[Opcode]int{
		OpADD: 2, OpNOT: 1, OpHLT: 0, OpRET: 0, OpJMP: 1, OpMOV: 2,
		OpOUTB: 2, OpPUSH: 1, OpIRET: 0,
	}
	for op, want := range cases {
		if got := op.ArgCount(); got != want {
			t.Errorf("%v.ArgCount() = %d, want %d", op, got, want)
		}
	}
}

func TestOpcodeGroups(t *testing.T) {
	if !OpADD.IsALU() || OpADD.IsControlFlow() {
		t.Fatal("ADD should be ALU only")
	}
	if !OpJMP.IsControlFlow() {
		t.Fatal("JMP should be control-flow")
	}
	if !OpOUTB.IsIO() {
		t.Fatal("OUTB should be I/O")
	}
	if !OpHLT.IsOther() {
		t.Fatal("HLT should be Other")
	}
}

func TestOpcodeValid(t *testing.T) {
	if !OpADD.Valid() {
		t.Fatal("ADD should be valid")
	}
	if Opcode(0x0F).Valid() {
		t.Fatal("0x0F is a reserved ALU slot and should be invalid")
	}
	if Opcode(0xFF).Valid() {
		t.Fatal("0xFF should be invalid")
	}
}

func TestOperandSizeBytes(t *testing.T) {
	want := []int{1, 2, 4, 8}
	for i, s := range []OperandSize{SizeByte, SizeWord, SizeDword, SizeQword} {
		if s.Bytes() != want[i] {
			t.Errorf("%v.Bytes() = %d, want %d", s, s.Bytes(), want[i])
		}
	}
}
