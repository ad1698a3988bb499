// Package cpuregs implements the Frost64 register file: general-purpose,
// stack, control, status and instruction registers, with the privilege
// gating spec.md §4.8 requires (a protected-mode, user-mode access to a
// privileged register raises USER_MODE_VIOLATION). It mirrors the
// dirty-tracking idea in original_source's Register.cpp, generalized
// into a flat array the way the teacher keeps CPU64.regs as a flat
// [32]uint64 rather than 32 boxed register objects.
package cpuregs

import (
	"fmt"

	"frost64/internal/arch"
	"frost64/internal/except"
)

const (
	numGP      = 16
	numStack   = 3
	numControl = 8
)

// RegisterFile holds every architectural register. It carries no notion
// of current privilege mode itself; callers (the cpu package's mode
// machine) pass that in on every access.
type RegisterFile struct {
	gp      [numGP]uint64
	stack   [numStack]uint64
	control [numControl]uint64
	status  uint64
	ip      uint64

	dirty map[arch.RegisterID]bool
}

func New() *RegisterFile {
	return &RegisterFile{dirty: make(map[arch.RegisterID]bool)}
}

// privileged reports whether id names a register that may only be
// touched in supervisor mode (or in user mode under an unprotected
// CPU). Only control registers are mode-gated; STS and IP are instead
// never guest-writable at all (see Write).
func privileged(t arch.RegisterType) bool {
	return t == arch.RegControl
}

func (rf *RegisterFile) checkAccess(id arch.RegisterID, protected, user bool) error {
	if protected && user && privileged(id.Type()) {
		return except.New(except.UserModeViolation, rf.ip, fmt.Sprintf("access to %v from user mode", id))
	}
	return nil
}

// Read returns the current value of id. protected and user describe the
// CPU's current mode (spec.md §4.8); pass false, false for internal
// reads that bypass privilege checking (e.g. the dispatcher fetching IP).
func (rf *RegisterFile) Read(id arch.RegisterID, protected, user bool) (uint64, error) {
	if err := rf.checkAccess(id, protected, user); err != nil {
		return 0, err
	}
	return rf.readRaw(id)
}

func (rf *RegisterFile) readRaw(id arch.RegisterID) (uint64, error) {
	switch id.Type() {
	case arch.RegGeneralPurpose:
		idx := id.Index()
		if idx >= numGP {
			return 0, fmt.Errorf("cpuregs: GP register index %d out of range", idx)
		}
		return rf.gp[idx], nil
	case arch.RegStack:
		idx := id.Index()
		if idx >= numStack {
			return 0, fmt.Errorf("cpuregs: stack register index %d out of range", idx)
		}
		return rf.stack[idx], nil
	case arch.RegControl:
		idx := id.Index()
		if idx >= numControl {
			return 0, fmt.Errorf("cpuregs: control register index %d out of range", idx)
		}
		return rf.control[idx], nil
	case arch.RegStatus:
		return rf.status, nil
	case arch.RegInstruction:
		return rf.ip, nil
	}
	return 0, fmt.Errorf("cpuregs: unknown register type for id 0x%02X", uint8(id))
}

// Write stores v into id, subject to the same privilege gating as Read.
// STS and IP are not writable from guest code in any mode; such a write
// is dropped without faulting, and WriteInternal remains the core's
// force-write path for them.
func (rf *RegisterFile) Write(id arch.RegisterID, v uint64, protected, user bool) error {
	if err := rf.checkAccess(id, protected, user); err != nil {
		return err
	}
	switch id.Type() {
	case arch.RegStatus, arch.RegInstruction:
		return nil
	}
	return rf.writeRaw(id, v)
}

func (rf *RegisterFile) writeRaw(id arch.RegisterID, v uint64) error {
	switch id.Type() {
	case arch.RegGeneralPurpose:
		idx := id.Index()
		if idx >= numGP {
			return fmt.Errorf("cpuregs: GP register index %d out of range", idx)
		}
		rf.gp[idx] = v
	case arch.RegStack:
		idx := id.Index()
		if idx >= numStack {
			return fmt.Errorf("cpuregs: stack register index %d out of range", idx)
		}
		rf.stack[idx] = v
	case arch.RegControl:
		idx := id.Index()
		if idx >= numControl {
			return fmt.Errorf("cpuregs: control register index %d out of range", idx)
		}
		rf.control[idx] = v
	case arch.RegStatus:
		rf.status = v
	case arch.RegInstruction:
		rf.ip = v
	default:
		return fmt.Errorf("cpuregs: unknown register type for id 0x%02X", uint8(id))
	}
	rf.dirty[id] = true
	return nil
}

// WriteInternal bypasses privilege checking; used by the dispatcher and
// mode machine for state transitions the guest did not directly request
// (e.g. advancing IP, pushing flags on interrupt entry).
func (rf *RegisterFile) WriteInternal(id arch.RegisterID, v uint64) {
	_ = rf.writeRaw(id, v)
}

// ReadInternal is the unchecked counterpart to WriteInternal.
func (rf *RegisterFile) ReadInternal(id arch.RegisterID) uint64 {
	v, _ := rf.readRaw(id)
	return v
}

// IP, SetIP are convenience accessors used constantly by the dispatcher.
func (rf *RegisterFile) IP() uint64     { return rf.ip }
func (rf *RegisterFile) SetIP(v uint64) { rf.ip = v }

// Status flag bits within STS, matching spec.md §4.2's ALU flag set:
// bit 0 carry, bit 1 zero, bit 2 sign. Overflow has no assigned bit in
// the spec's 3-bit reference model; it's kept one bit further up.
const (
	FlagCarry    = 1 << 0
	FlagZero     = 1 << 1
	FlagNegative = 1 << 2
	FlagOverflow = 1 << 3
)

func (rf *RegisterFile) Flag(mask uint64) bool { return rf.status&mask != 0 }

func (rf *RegisterFile) SetFlag(mask uint64, set bool) {
	if set {
		rf.status |= mask
	} else {
		rf.status &^= mask
	}
}

// Dirty reports whether id was written since the last call to
// ClearDirty for it; it does not clear the flag itself. Mirrors
// original_source Register::dirty, used by the cpu package's
// syncRegisters pass to notice CR0/CR3 writes that require follow-up
// action (mode transition, page-walk root update).
func (rf *RegisterFile) Dirty(id arch.RegisterID) bool { return rf.dirty[id] }

func (rf *RegisterFile) ClearDirty(id arch.RegisterID) { delete(rf.dirty, id) }

// Stack register convenience names (SCP/SBP/STP), used heavily by
// internal/stack.
func (rf *RegisterFile) SCP() uint64      { return rf.stack[arch.StackSCP] }
func (rf *RegisterFile) SetSCP(v uint64)  { rf.stack[arch.StackSCP] = v }
func (rf *RegisterFile) SBP() uint64      { return rf.stack[arch.StackSBP] }
func (rf *RegisterFile) SetSBP(v uint64)  { rf.stack[arch.StackSBP] = v }
func (rf *RegisterFile) STP() uint64      { return rf.stack[arch.StackSTP] }
func (rf *RegisterFile) SetSTP(v uint64)  { rf.stack[arch.StackSTP] = v }

// Control register convenience accessors: CR0 (mode-control) and CR3
// (page-table root) drive the mode machine and virtual MMU.
func (rf *RegisterFile) CR(n int) uint64     { return rf.control[n] }
func (rf *RegisterFile) SetCR(n int, v uint64) { rf.control[n] = v; rf.dirty[arch.MakeRegisterID(arch.RegControl, uint8(n))] = true }

// Dump renders every register for the crash path (spec.md §7 / original
// Emulator.cpp's register dump before abort).
func (rf *RegisterFile) Dump() string {
	s := ""
	for i := 0; i < numGP; i++ {
		s += fmt.Sprintf("R%-2d = 0x%016X\n", i, rf.gp[i])
	}
	s += fmt.Sprintf("SCP = 0x%016X\n", rf.stack[arch.StackSCP])
	s += fmt.Sprintf("SBP = 0x%016X\n", rf.stack[arch.StackSBP])
	s += fmt.Sprintf("STP = 0x%016X\n", rf.stack[arch.StackSTP])
	for i := 0; i < numControl; i++ {
		s += fmt.Sprintf("CR%d = 0x%016X\n", i, rf.control[i])
	}
	s += fmt.Sprintf("STS = 0x%016X\n", rf.status)
	s += fmt.Sprintf("IP  = 0x%016X\n", rf.ip)
	return s
}
