// Package stack implements the Frost64 bounds-checked stack machine
// (spec.md §4.5), translated directly from original_source's
// Emulator/src/Stack.cpp — including its exact check ordering and the
// increment-then-write push convention, which the prose alone does not pin
// down precisely enough to reinvent safely.
package stack

import "frost64/internal/except"

// Memory is the minimal 64-bit read/write surface the stack needs; both
// mmu.PhysicalMMU and an address-translating wrapper over
// mmu.VirtualMMU satisfy it.
type Memory interface {
	Read64(addr uint64) (uint64, error)
	Write64(addr uint64, v uint64) error
}

// Stack is an upward-growing bounded stack of guest memory addressed
// through mem, with pointer tracking the last pushed slot: the first
// push writes at base+8 and the last push that fits writes at top.
type Stack struct {
	mem     Memory
	base    uint64
	top     uint64
	pointer uint64
}

func New(mem Memory, base, top, pointer uint64) *Stack {
	return &Stack{mem: mem, base: base, top: top, pointer: pointer}
}

func (s *Stack) Pointer() uint64    { return s.pointer }
func (s *Stack) SetPointer(v uint64) { s.pointer = v }
func (s *Stack) Base() uint64       { return s.base }
func (s *Stack) Top() uint64        { return s.top }

// WillUnderflowOnPush reports whether the stack has not yet been
// initialized above its floor.
func (s *Stack) WillUnderflowOnPush() bool { return s.pointer < s.base }

// WillOverflowOnPush reports whether one more push would run past top.
func (s *Stack) WillOverflowOnPush() bool { return s.pointer >= s.top }

// WillOverflowOnPop mirrors the overflow check Pop performs first.
func (s *Stack) WillOverflowOnPop() bool { return s.pointer >= s.top }

// WillUnderflowOnPop reports whether the stack is already empty.
func (s *Stack) WillUnderflowOnPop() bool { return s.pointer <= s.base }

// Push writes v onto the stack. Bounds are checked before the pointer is
// advanced: an empty stack (pointer==base) pushes its first value at
// base+8, matching original_source's pre-increment convention exactly.
func (s *Stack) Push(v uint64, ip uint64) error {
	if s.WillUnderflowOnPush() {
		return except.New(except.StackViolation, ip, "push with stack pointer below base")
	}
	if s.WillOverflowOnPush() {
		return except.New(except.StackViolation, ip, "push would overflow stack")
	}
	s.pointer += 8
	return s.mem.Write64(s.pointer, v)
}

// Pop removes and returns the top value. The overflow check runs before
// the underflow check, matching original_source's check ordering.
func (s *Stack) Pop(ip uint64) (uint64, error) {
	if s.WillOverflowOnPop() {
		return 0, except.New(except.StackViolation, ip, "pop with stack pointer at or past top")
	}
	if s.WillUnderflowOnPop() {
		return 0, except.New(except.StackViolation, ip, "pop on empty stack")
	}
	v, err := s.mem.Read64(s.pointer)
	if err != nil {
		return 0, err
	}
	s.pointer -= 8
	return v, nil
}
