package interrupt

import (
	"testing"

	"frost64/internal/except"
)

type fakeMem struct{ data map[uint64]byte }

func newFakeMem() *fakeMem { return &fakeMem{data: make(map[uint64]byte)} }

func (m *fakeMem) Read(addr uint64, buf []byte) error {
	for i := range buf {
		buf[i] = m.data[addr+uint64(i)]
	}
	return nil
}

// setDescriptor lays down one 9-byte IDT entry: the flags byte (low bit
// = present), then the little-endian handler address.
func (m *fakeMem) setDescriptor(base uint64, vector uint8, present bool, handler uint64) {
	addr := base + uint64(vector)*descriptorSize
	if present {
		m.data[addr] = 1
	} else {
		m.data[addr] = 0
	}
	for i := 0; i < 8; i++ {
		m.data[addr+1+uint64(i)] = byte(handler >> (8 * uint(i)))
	}
}

type fakeStack struct {
	vals []uint64

	failPush  bool // fail every push
	failFirst int  // fail only the first N pushes, then succeed
	pushCount int
}

func (s *fakeStack) Push(v uint64, ip uint64) error {
	s.pushCount++
	if s.failPush || s.pushCount <= s.failFirst {
		return except.New(except.StackViolation, ip, "fake overflow")
	}
	s.vals = append(s.vals, v)
	return nil
}

func (s *fakeStack) Pop(ip uint64) (uint64, error) {
	if len(s.vals) == 0 {
		return 0, except.New(except.StackViolation, ip, "fake underflow")
	}
	v := s.vals[len(s.vals)-1]
	s.vals = s.vals[:len(s.vals)-1]
	return v, nil
}

func TestRaiseInterruptDispatchesToHandler(t *testing.T) {
	mem := newFakeMem()
	mem.setDescriptor(0x5000, 7, true, 0xABCD)
	c := New(mem)
	c.SetIDTR(0x5000)
	stk := &fakeStack{}

	ip, err := c.RaiseInterrupt(7, 0x100, 0x0, stk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ip != 0xABCD {
		t.Fatalf("got 0x%X, want 0xABCD", ip)
	}
	if len(stk.vals) != 2 {
		t.Fatalf("expected 2 pushed values, got %d", len(stk.vals))
	}
}

func TestDescriptorIsCachedAfterFirstLoad(t *testing.T) {
	mem := newFakeMem()
	mem.setDescriptor(0x5000, 3, true, 0x1111)
	c := New(mem)
	c.SetIDTR(0x5000)
	stk := &fakeStack{}
	if _, err := c.RaiseInterrupt(3, 0, 0, stk); err != nil {
		t.Fatal(err)
	}
	// Mutate backing memory; the cached descriptor must not change.
	mem.setDescriptor(0x5000, 3, true, 0x2222)
	ip, err := c.RaiseInterrupt(3, 0, 0, stk)
	if err != nil {
		t.Fatal(err)
	}
	if ip != 0x1111 {
		t.Fatalf("expected cached handler 0x1111, got 0x%X", ip)
	}
}

func TestSetIDTRInvalidatesCache(t *testing.T) {
	mem := newFakeMem()
	mem.setDescriptor(0x5000, 3, true, 0x1111)
	c := New(mem)
	c.SetIDTR(0x5000)
	stk := &fakeStack{}
	if _, err := c.RaiseInterrupt(3, 0, 0, stk); err != nil {
		t.Fatal(err)
	}
	mem.setDescriptor(0x6000, 3, true, 0x3333)
	c.SetIDTR(0x6000)
	ip, err := c.RaiseInterrupt(3, 0, 0, stk)
	if err != nil {
		t.Fatal(err)
	}
	if ip != 0x3333 {
		t.Fatalf("expected fresh handler 0x3333, got 0x%X", ip)
	}
}

func TestMissingHandlerEscalatesToUnhandledInterrupt(t *testing.T) {
	mem := newFakeMem()
	mem.setDescriptor(0x5000, uint8(except.UnhandledInterrupt), true, 0x9999)
	c := New(mem)
	c.SetIDTR(0x5000)
	stk := &fakeStack{}

	// vector 9 has no descriptor present -> falls through to UNHANDLED_INTERRUPT.
	_, err := c.RaiseInterrupt(9, 0x10, 0, stk)
	ip, ok := AsRedirect(err)
	if !ok {
		t.Fatalf("expected redirect, got %v", err)
	}
	if ip != 0x9999 {
		t.Fatalf("got 0x%X, want 0x9999", ip)
	}
}

func TestDoubleFaultWhenUnhandledInterruptItselfMissing(t *testing.T) {
	mem := newFakeMem()
	c := New(mem)
	c.SetIDTR(0x5000)
	stk := &fakeStack{}

	_, err := c.RaiseInterrupt(9, 0x10, 0, stk)
	twice, ok := err.(*except.TwiceUnhandled)
	if !ok {
		t.Fatalf("expected TwiceUnhandled, got %v (%T)", err, err)
	}
	if twice.IP != 0x10 {
		t.Fatalf("got IP 0x%X", twice.IP)
	}
}

func TestReturnFromInterruptPopsFlagsThenIP(t *testing.T) {
	mem := newFakeMem()
	c := New(mem)
	stk := &fakeStack{vals: []uint64{0x100, 0x5}} // IP pushed first, flags second (LIFO: flags pops first)

	resumeIP, flags, err := c.Return(0, stk)
	if err != nil {
		t.Fatal(err)
	}
	if flags != 0x5 || resumeIP != 0x100 {
		t.Fatalf("got resumeIP=0x%X flags=0x%X", resumeIP, flags)
	}
}

func TestStackOverflowDuringDispatchEscalatesToUnhandledInterrupt(t *testing.T) {
	mem := newFakeMem()
	mem.setDescriptor(0x5000, 7, true, 0xAAAA)
	mem.setDescriptor(0x5000, uint8(except.UnhandledInterrupt), true, 0x9999)
	c := New(mem)
	c.SetIDTR(0x5000)
	// The first push (vector 7's own IP push) fails, so vector 7 never
	// attempts its flags push; once dispatch escalates to
	// UNHANDLED_INTERRUPT, its own pushes succeed.
	stk := &fakeStack{failFirst: 1}

	// The handler exists for vector 7, but pushing IP onto an already-full
	// stack fails; that must escalate through UNHANDLED_INTERRUPT rather
	// than surface as a fresh STACK_VIOLATION (which would recurse forever
	// trying to push onto the same overflowed stack).
	_, err := c.RaiseInterrupt(7, 0x10, 0, stk)
	ip, ok := AsRedirect(err)
	if !ok {
		t.Fatalf("expected redirect, got %v (%T)", err, err)
	}
	if ip != 0x9999 {
		t.Fatalf("got 0x%X, want 0x9999", ip)
	}
}

func TestStackOverflowDuringDispatchDoubleFaultsWhenUnhandledAlsoCannotPush(t *testing.T) {
	mem := newFakeMem()
	mem.setDescriptor(0x5000, 7, true, 0xAAAA)
	mem.setDescriptor(0x5000, uint8(except.UnhandledInterrupt), true, 0x9999)
	c := New(mem)
	c.SetIDTR(0x5000)
	// The stack never accepts a push, so even UNHANDLED_INTERRUPT's own
	// entry sequence fails: that's a double fault, not a third dispatch.
	stk := &fakeStack{failPush: true}

	_, err := c.RaiseInterrupt(7, 0x10, 0, stk)
	twice, ok := err.(*except.TwiceUnhandled)
	if !ok {
		t.Fatalf("expected TwiceUnhandled, got %v (%T)", err, err)
	}
	if twice.IP != 0x10 {
		t.Fatalf("got IP 0x%X", twice.IP)
	}
}
