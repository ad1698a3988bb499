// Package cpu implements the Frost64 execution dispatcher and mode
// machine (spec.md §4.2, §4.8): fetch-decode-execute over the codec and
// register file, privilege-gated register/memory access, and the
// CR0/CR3-driven transition between flat and paged, supervisor and user
// execution. It plays the role the teacher's CPU64.Execute does in
// cpu_ie64.go, generalized from a fixed 8-byte instruction format to
// Frost64's variable-length one and from a single flat address space to
// one with an optional paging layer.
package cpu

import (
	"frost64/internal/arch"
	"frost64/internal/codec"
	"frost64/internal/cpuregs"
	"frost64/internal/except"
	"frost64/internal/interrupt"
	"frost64/internal/iobus"
	"frost64/internal/mmu"
	"frost64/internal/stack"
)

// maxInstructionLength bounds the fetch window. The wire format's worst
// case is two complex operands with every slot held as a qword
// immediate: opcode (1) + headers (4) + six 8-byte slot bodies (48),
// 53 bytes; rounded up to the next power of two for the halving retry.
const maxInstructionLength = 64

// CPU wires together every component a single hardware thread of
// execution needs. Unlike the teacher's CPU64, which keeps global
// atomics for cross-thread signalling, Frost64's event handling is
// modeled as ordinary field updates processed by the owning goroutine
// (internal/vm drives the three logical phases as plain loop steps),
// per the spec's note against modeling long jumps as thread restarts.
type CPU struct {
	Regs       *cpuregs.RegisterFile
	Phys       *mmu.PhysicalMMU
	Virt       *mmu.VirtualMMU
	Ports      *iobus.Bus
	Interrupts *interrupt.Controller
	view       *memView

	// UserMode is the current privilege level (spec.md §4.8): set by
	// ENTERUSER/SYSCALL/SYSRET, not a CR0 bit (see mode.go).
	UserMode bool

	lastValidCR0 uint64
	Halted       bool
}

func New(regs *cpuregs.RegisterFile, phys *mmu.PhysicalMMU, virt *mmu.VirtualMMU, ports *iobus.Bus, ic *interrupt.Controller) *CPU {
	return &CPU{
		Regs:       regs,
		Phys:       phys,
		Virt:       virt,
		Ports:      ports,
		Interrupts: ic,
		view:       &memView{phys: phys, virt: virt},
	}
}

// stackView adapts *CPU to stack.Memory, wiring stack pushes/pops
// through the current address-translation mode.
type stackView struct{ cpu *CPU }

func (s stackView) Read64(addr uint64) (uint64, error)   { return s.cpu.view.Read64(addr) }
func (s stackView) Write64(addr uint64, v uint64) error { return s.cpu.view.Write64(addr, v) }

func (c *CPU) currentStack() *stack.Stack {
	return stack.New(stackView{c}, c.Regs.SBP(), c.Regs.STP(), c.Regs.SCP())
}

func (c *CPU) commitStack(s *stack.Stack) {
	c.Regs.SetSCP(s.Pointer())
}

// Step fetches, decodes and executes a single instruction, then runs the
// mode-machine sync pass. It returns a non-nil error only when the fault
// could not be dispatched to any guest handler (a double fault): the
// caller (internal/vm) treats that as a VM crash.
func (c *CPU) Step() error {
	ip := c.Regs.IP()
	mode, _, _ := DecodeCR0(c.Regs.CR(0))
	c.view.paging = mode.Paging
	c.view.user = c.UserMode
	c.view.ip = ip

	ins, length, decodeErr := c.fetchDecode(ip)
	if decodeErr != nil {
		return c.fault(except.New(except.InvalidInstruction, ip, decodeErr.Error()))
	}

	execErr := c.execute(ins)
	if execErr != nil {
		return c.fault(execErr)
	}

	if c.Regs.IP() == ip {
		c.Regs.SetIP(ip + uint64(length))
	}
	return c.syncRegisters()
}

func (c *CPU) fetchDecode(ip uint64) (codec.Instruction, int, error) {
	for n := maxInstructionLength; n >= 1; n >>= 1 {
		buf := make([]byte, n)
		if err := c.view.ReadExecute(ip, buf); err != nil {
			continue
		}
		ins, err := codec.Decode(buf)
		if err == nil {
			return ins, ins.Length, nil
		}
		if n == 1 {
			return codec.Instruction{}, 0, err
		}
	}
	return codec.Instruction{}, 0, except.New(except.PhysMemViolation, ip, "unable to fetch instruction bytes")
}

// fault converts a guest-visible Fault into an interrupt dispatch. A
// non-Fault error (a host-side bug) is returned as-is so the caller
// aborts instead of pretending it was handled.
func (c *CPU) fault(err error) error {
	f, ok := err.(*except.Fault)
	if !ok {
		return err
	}
	flags := c.Regs.ReadInternal(arch.MakeRegisterID(arch.RegStatus, 0))
	s := c.currentStack()
	newIP, ierr := c.Interrupts.RaiseInterrupt(uint8(f.Kind), f.IP, flags, s)
	c.commitStack(s)
	if ierr == nil {
		c.Regs.SetIP(newIP)
		return nil
	}
	if redirectIP, ok := interrupt.AsRedirect(ierr); ok {
		c.Regs.SetIP(redirectIP)
		return nil
	}
	return ierr
}

// syncRegisters reconciles CR0/CR3 writes against the virtual MMU's
// configuration. A request to enable paging with an unrepresentable
// (page size, level count) combination (64KiB pages with 5 levels) is
// rejected by leaving CR0 exactly as it was before the write, per
// original_source's SyncRegisters bug where the dirty bit was cleared
// even on a rejected transition.
func (c *CPU) syncRegisters() error {
	cr0ID := arch.MakeRegisterID(arch.RegControl, 0)
	cr3ID := arch.MakeRegisterID(arch.RegControl, 3)
	if c.Regs.Dirty(cr3ID) {
		// A bare CR3 write retargets the walk root without rebuilding
		// anything else (spec.md §4.8).
		c.Virt.Root = c.Regs.CR(3)
		c.Regs.ClearDirty(cr3ID)
	}
	if !c.Regs.Dirty(cr0ID) {
		return nil
	}
	raw := c.Regs.CR(0)
	mode, size, levels := DecodeCR0(raw)
	if mode.Paging && !mmu.ValidConfig(size, levels) {
		c.Regs.WriteInternal(cr0ID, c.lastValidCR0)
		c.Regs.ClearDirty(cr0ID)
		return nil
	}
	c.lastValidCR0 = raw
	c.Virt.Size = size
	c.Virt.Levels = levels
	c.Virt.Root = c.Regs.CR(3)
	c.Regs.ClearDirty(cr0ID)
	c.Regs.ClearDirty(cr3ID)
	return nil
}
