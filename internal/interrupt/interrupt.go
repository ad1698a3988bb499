// Package interrupt implements the Frost64 interrupt descriptor table
// and dispatch/return machinery (spec.md §4.7), translated from
// original_source's Interrupts.cpp: lazy per-vector descriptor caching,
// IP+flags pushed onto the active stack on entry and popped on IRET, and
// the HandleFailure escalation path that turns a missing handler into
// UNHANDLED_INTERRUPT and a missing UNHANDLED_INTERRUPT handler into a
// double fault that crashes the VM.
package interrupt

import (
	"encoding/binary"

	"frost64/internal/except"
)

const (
	numVectors     = 256
	descriptorSize = 9 // present:1 (low bit of byte 0) + 8-byte handler address
)

// Descriptor is one cached IDT entry.
type Descriptor struct {
	Loaded  bool
	Present bool
	Handler uint64
}

// Memory is the read surface needed to load descriptors from guest
// physical (or, if paging is enabled, virtual) memory.
type Memory interface {
	Read(addr uint64, buf []byte) error
}

// Stack is the push/pop surface interrupt entry and IRET use.
type Stack interface {
	Push(v uint64, ip uint64) error
	Pop(ip uint64) (uint64, error)
}

// Controller owns the IDT cache and drives interrupt dispatch. It holds
// no notion of "currently handling an unhandled interrupt" as global
// state; double-fault detection instead falls out of HandleFailure
// simply being called again with vector==UnhandledInterrupt.
type Controller struct {
	base  uint64
	cache [numVectors]Descriptor
	mem   Memory
}

func New(mem Memory) *Controller {
	return &Controller{mem: mem}
}

// SetIDTR installs a new table base and invalidates every cached
// descriptor, matching original_source's SetIDTR.
func (c *Controller) SetIDTR(base uint64) {
	c.base = base
	c.cache = [numVectors]Descriptor{}
}

func (c *Controller) descriptor(vector uint8) (Descriptor, error) {
	d := c.cache[vector]
	if d.Loaded {
		return d, nil
	}
	addr := c.base + uint64(vector)*descriptorSize
	var buf [descriptorSize]byte
	if err := c.mem.Read(addr, buf[:]); err != nil {
		return Descriptor{}, err
	}
	d = Descriptor{
		Loaded:  true,
		Present: buf[0]&1 != 0,
		Handler: binary.LittleEndian.Uint64(buf[1:9]),
	}
	c.cache[vector] = d
	return d, nil
}

// RaiseInterrupt dispatches vector: it pushes the current flags and IP
// onto stk and returns the handler's entry address. currentIP is the
// address to resume at on IRET (the faulting or next instruction,
// depending on the vector's semantics — the cpu package decides which).
// A stack overflow while pushing IP or flags escalates through
// handleFailure rather than surfacing as a fresh STACK_VIOLATION, per
// original_source's WillOverflowOnPush/HandleFailure pairing in
// Interrupts.cpp — without this, a handler whose own stack is already
// exhausted would recurse into itself forever.
func (c *Controller) RaiseInterrupt(vector uint8, currentIP, flags uint64, stk Stack) (newIP uint64, err error) {
	d, err := c.descriptor(vector)
	if err != nil {
		return 0, c.handleFailure(vector, currentIP, flags, stk)
	}
	if !d.Present {
		return 0, c.handleFailure(vector, currentIP, flags, stk)
	}
	if err := stk.Push(currentIP, currentIP); err != nil {
		return 0, c.handleFailure(vector, currentIP, flags, stk)
	}
	if err := stk.Push(flags, currentIP); err != nil {
		return 0, c.handleFailure(vector, currentIP, flags, stk)
	}
	return d.Handler, nil
}

// handleFailure escalates a dispatch that could not find a usable
// handler. Raising UNHANDLED_INTERRUPT a second time in direct
// succession is a double fault: the caller must crash the VM rather
// than attempt a third dispatch.
func (c *Controller) handleFailure(vector uint8, ip, flags uint64, stk Stack) error {
	if vector == uint8(except.UnhandledInterrupt) {
		return &except.TwiceUnhandled{IP: ip}
	}
	newIP, err := c.RaiseInterrupt(uint8(except.UnhandledInterrupt), ip, flags, stk)
	if err != nil {
		return err
	}
	return &redirect{ip: newIP}
}

// redirect signals a successful escalation to UNHANDLED_INTERRUPT's own
// handler; the cpu package's dispatcher type-switches on this to pick up
// the new IP instead of treating it as a fault it must itself re-raise.
type redirect struct{ ip uint64 }

func (r *redirect) Error() string { return "redirected to UNHANDLED_INTERRUPT handler" }
func (r *redirect) IP() uint64    { return r.ip }

// AsRedirect extracts the target IP from an error returned by
// RaiseInterrupt, if it represents a successful escalation rather than a
// terminal failure.
func AsRedirect(err error) (uint64, bool) {
	r, ok := err.(*redirect)
	if !ok {
		return 0, false
	}
	return r.ip, true
}

// Return pops flags then IP off stk (in that order, matching
// original_source's ReturnFromInterrupt), returning the resumption
// address and restored flags.
func (c *Controller) Return(ip uint64, stk Stack) (resumeIP, flags uint64, err error) {
	flags, err = stk.Pop(ip)
	if err != nil {
		return 0, 0, err
	}
	resumeIP, err = stk.Pop(ip)
	if err != nil {
		return 0, 0, err
	}
	return resumeIP, flags, nil
}
