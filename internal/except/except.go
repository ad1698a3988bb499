// Package except defines the Frost64 exception/fault vocabulary shared
// across the mmu, cpuregs, interrupt and cpu packages. It plays the role
// the teacher's VideoError does for the video subsystem: a small typed
// error carrying enough detail for the dispatcher to act on, instead of
// a bare string.
package except

import "fmt"

// Kind is a fixed interrupt-vector number for a CPU-raised exception.
type Kind uint8

const (
	DivByZero               Kind = 0
	PhysMemViolation        Kind = 1
	UnhandledInterrupt      Kind = 2
	InvalidInstruction      Kind = 3
	StackViolation          Kind = 4
	UserModeViolation       Kind = 5
	SupervisorModeViolation Kind = 6
	PagingViolation         Kind = 7
)

func (k Kind) String() string {
	switch k {
	case DivByZero:
		return "DIV_BY_ZERO"
	case PhysMemViolation:
		return "PHYS_MEM_VIOLATION"
	case UnhandledInterrupt:
		return "UNHANDLED_INTERRUPT"
	case InvalidInstruction:
		return "INVALID_INSTRUCTION"
	case StackViolation:
		return "STACK_VIOLATION"
	case UserModeViolation:
		return "USER_MODE_VIOLATION"
	case SupervisorModeViolation:
		return "SUPERVISOR_MODE_VIOLATION"
	case PagingViolation:
		return "PAGING_VIOLATION"
	}
	return fmt.Sprintf("exception(%d)", uint8(k))
}

// Fault is raised by any component detecting a guest-visible fault
// condition. The CPU's dispatcher converts it into an interrupt via
// RaiseInterrupt(Kind, IP); it is never itself returned to a human
// caller except in tests.
type Fault struct {
	Kind Kind
	IP   uint64
	Code uint64 // exception-specific error code, e.g. PageFaultCode
	Msg  string
}

func (f *Fault) Error() string {
	if f.Msg != "" {
		return fmt.Sprintf("%s at IP=0x%X: %s", f.Kind, f.IP, f.Msg)
	}
	return fmt.Sprintf("%s at IP=0x%X", f.Kind, f.IP)
}

func New(kind Kind, ip uint64, msg string) *Fault {
	return &Fault{Kind: kind, IP: ip, Msg: msg}
}

// TwiceUnhandled is a synthetic, non-vectored condition: raised when the
// interrupt handler itself fails to dispatch UnhandledInterrupt. It is
// never pushed onto the guest's IDT; the VM crashes instead.
type TwiceUnhandled struct {
	IP uint64
}

func (e *TwiceUnhandled) Error() string {
	return fmt.Sprintf("double fault (unhandled interrupt raised while already handling one) at IP=0x%X", e.IP)
}
