package vm

import (
	"io"
	"strings"
	"testing"

	"frost64/internal/arch"
	"frost64/internal/assemble"
)

func build(t *testing.T, src string) []byte {
	t.Helper()
	image, err := assemble.Assemble(src, nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return image
}

func newTestVM(t *testing.T, image []byte) *VM {
	t.Helper()
	v, err := New(Config{
		Image:      image,
		ConsoleIn:  strings.NewReader(""),
		ConsoleOut: io.Discard,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func TestRunHaltsCleanly(t *testing.T) {
	v := newTestVM(t, build(t, "add r0, byte 7\nhlt\n"))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := v.Regs.ReadInternal(arch.MakeRegisterID(arch.RegGeneralPurpose, 0))
	if got != 7 {
		t.Fatalf("R0 = %d, want 7", got)
	}
}

func TestNewRejectsBadImages(t *testing.T) {
	if _, err := New(Config{ConsoleOut: io.Discard}); err == nil {
		t.Fatal("expected an error for an empty image")
	}
	if _, err := New(Config{Image: make([]byte, MaxImageLen+1), ConsoleOut: io.Discard}); err == nil {
		t.Fatal("expected an error for an oversized image")
	}
}

// An invalid opcode with no IDT installed double-faults; the crash
// error carries a register dump and a disassembly window marking the
// faulting instruction.
func TestCrashDumpCarriesDisassembly(t *testing.T) {
	v := newTestVM(t, []byte{0x3F})
	err := v.Run()
	if err == nil {
		t.Fatal("expected a crash")
	}
	msg := err.Error()
	if !strings.Contains(msg, "unrecoverable fault") {
		t.Fatalf("error %q does not mention the fault", msg)
	}
	if !strings.Contains(msg, "IP  = 0x00000000F0000000") {
		t.Fatalf("error %q does not carry the register dump", msg)
	}
	if !strings.Contains(msg, "-> 0xF0000000") {
		t.Fatalf("error %q does not mark the faulting instruction", msg)
	}
}
