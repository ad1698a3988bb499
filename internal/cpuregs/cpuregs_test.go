package cpuregs

import (
	"testing"

	"frost64/internal/arch"
	"frost64/internal/except"
)

func TestGeneralPurposeReadWrite(t *testing.T) {
	rf := New()
	r3 := arch.MakeRegisterID(arch.RegGeneralPurpose, 3)
	if err := rf.Write(r3, 42, false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := rf.Read(r3, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("got %d, want 42", v)
	}
}

func TestControlRegisterUserModeViolation(t *testing.T) {
	rf := New()
	cr0 := arch.MakeRegisterID(arch.RegControl, 0)
	_, err := rf.Read(cr0, true, true)
	if err == nil {
		t.Fatal("expected USER_MODE_VIOLATION")
	}
	fault, ok := err.(*except.Fault)
	if !ok || fault.Kind != except.UserModeViolation {
		t.Fatalf("got %v, want UserModeViolation fault", err)
	}
}

func TestControlRegisterAllowedInSupervisorMode(t *testing.T) {
	rf := New()
	cr0 := arch.MakeRegisterID(arch.RegControl, 0)
	if err := rf.Write(cr0, 1, true, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestControlRegisterAllowedWhenUnprotected(t *testing.T) {
	rf := New()
	cr0 := arch.MakeRegisterID(arch.RegControl, 0)
	// protected=false means the CPU has no protection enabled at all,
	// so even a "user" access is unrestricted.
	if err := rf.Write(cr0, 1, false, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGeneralPurposeNeverGated(t *testing.T) {
	rf := New()
	r0 := arch.MakeRegisterID(arch.RegGeneralPurpose, 0)
	if err := rf.Write(r0, 7, true, true); err != nil {
		t.Fatalf("GP registers must remain accessible from user mode: %v", err)
	}
}

func TestStatusAndInstructionNeverGuestWritable(t *testing.T) {
	rf := New()
	sts := arch.MakeRegisterID(arch.RegStatus, 0)
	ip := arch.MakeRegisterID(arch.RegInstruction, 0)
	rf.WriteInternal(sts, 0xAA)
	rf.WriteInternal(ip, 0x1000)

	modes := []struct{ protected, user bool }{
		{false, false}, {true, false}, {false, true}, {true, true},
	}
	for _, m := range modes {
		if err := rf.Write(sts, 0xFF, m.protected, m.user); err != nil {
			t.Fatalf("STS write (protected=%v user=%v): %v", m.protected, m.user, err)
		}
		if err := rf.Write(ip, 0xFF, m.protected, m.user); err != nil {
			t.Fatalf("IP write (protected=%v user=%v): %v", m.protected, m.user, err)
		}
	}
	if v := rf.ReadInternal(sts); v != 0xAA {
		t.Fatalf("STS = 0x%X after guest writes, want 0xAA untouched", v)
	}
	if rf.IP() != 0x1000 {
		t.Fatalf("IP = 0x%X after guest writes, want 0x1000 untouched", rf.IP())
	}
}

func TestStatusReadableFromUserMode(t *testing.T) {
	rf := New()
	sts := arch.MakeRegisterID(arch.RegStatus, 0)
	rf.WriteInternal(sts, 0x5)
	v, err := rf.Read(sts, true, true)
	if err != nil {
		t.Fatalf("STS read from user mode must not fault: %v", err)
	}
	if v != 0x5 {
		t.Fatalf("got 0x%X, want 0x5", v)
	}
}

func TestDirtyTracking(t *testing.T) {
	rf := New()
	cr3 := arch.MakeRegisterID(arch.RegControl, 3)
	if rf.Dirty(cr3) {
		t.Fatal("should not start dirty")
	}
	rf.SetCR(3, 0x2000)
	if !rf.Dirty(cr3) {
		t.Fatal("expected CR3 to be dirty after write")
	}
	rf.ClearDirty(cr3)
	if rf.Dirty(cr3) {
		t.Fatal("expected dirty flag cleared")
	}
}

func TestFlags(t *testing.T) {
	rf := New()
	rf.SetFlag(FlagZero, true)
	if !rf.Flag(FlagZero) {
		t.Fatal("expected zero flag set")
	}
	rf.SetFlag(FlagZero, false)
	if rf.Flag(FlagZero) {
		t.Fatal("expected zero flag cleared")
	}
}
