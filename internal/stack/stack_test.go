package stack

import (
	"testing"

	"frost64/internal/except"
)

type fakeMem struct {
	data map[uint64]uint64
}

func newFakeMem() *fakeMem { return &fakeMem{data: make(map[uint64]uint64)} }

func (m *fakeMem) Read64(addr uint64) (uint64, error) { return m.data[addr], nil }
func (m *fakeMem) Write64(addr uint64, v uint64) error {
	m.data[addr] = v
	return nil
}

func TestFirstPushLandsAboveBase(t *testing.T) {
	mem := newFakeMem()
	s := New(mem, 0x1000, 0x2000, 0x1000)
	if err := s.Push(42, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Pointer() != 0x1008 {
		t.Fatalf("pointer = 0x%X, want 0x1008", s.Pointer())
	}
	if mem.data[0x1008] != 42 {
		t.Fatalf("value not stored at base+8")
	}
}

func TestPushPopRoundTrip(t *testing.T) {
	mem := newFakeMem()
	s := New(mem, 0x1000, 0x2000, 0x1000)
	if err := s.Push(1, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Push(2, 0); err != nil {
		t.Fatal(err)
	}
	v, err := s.Pop(0)
	if err != nil || v != 2 {
		t.Fatalf("got %v, %v", v, err)
	}
	v, err = s.Pop(0)
	if err != nil || v != 1 {
		t.Fatalf("got %v, %v", v, err)
	}
	if s.Pointer() != 0x1000 {
		t.Fatalf("pointer should be back at base, got 0x%X", s.Pointer())
	}
}

func TestPopOnEmptyStackUnderflows(t *testing.T) {
	mem := newFakeMem()
	s := New(mem, 0x1000, 0x2000, 0x1000)
	_, err := s.Pop(0xAB)
	if err == nil {
		t.Fatal("expected STACK_VIOLATION")
	}
	f, ok := err.(*except.Fault)
	if !ok || f.Kind != except.StackViolation {
		t.Fatalf("got %v", err)
	}
	if f.IP != 0xAB {
		t.Fatalf("fault IP not carried: %v", f.IP)
	}
}

func TestPushOverflow(t *testing.T) {
	mem := newFakeMem()
	s := New(mem, 0x1000, 0x1008, 0x1000)
	if err := s.Push(1, 0); err != nil {
		t.Fatalf("first push should fit exactly at top: %v", err)
	}
	if err := s.Push(2, 0); err == nil {
		t.Fatal("expected overflow on second push")
	}
}

func TestPushBelowBaseUnderflows(t *testing.T) {
	mem := newFakeMem()
	s := New(mem, 0x1000, 0x2000, 0x0FF0)
	if err := s.Push(1, 0); err == nil {
		t.Fatal("expected underflow pushing with pointer below base")
	}
}
