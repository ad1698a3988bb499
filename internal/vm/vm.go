// Package vm wires every Frost64 component — register file, physical
// and virtual MMUs, I/O bus and its devices, interrupt controller and
// dispatcher — into a runnable machine (spec.md §2's data-flow summary
// and §6.1's physical address map). It plays the role the teacher's
// main.go / SystemBus wiring does for IntuitionEngine: a single place
// that owns construction order and device registration, kept deliberately
// thin so the interesting logic stays in internal/cpu and internal/mmu.
//
// spec.md §5 describes the reference implementation as three
// cooperating threads (execution, event, video-render) communicating by
// replacing the execution goroutine on every long jump or MMU swap. Per
// §9's redesign flag against "thread-restart-as-long-jump", Frost64
// models all three as plain steps of one loop: IP and active-MMU changes
// are ordinary field updates the dispatcher already makes in
// internal/cpu.CPU.Step, and the video-render phase is a periodic
// Backend.Present call driven from the same goroutine rather than a
// second thread racing the CPU.
package vm

import (
	"fmt"
	"io"
	"strings"

	"frost64/internal/cpu"
	"frost64/internal/cpuregs"
	"frost64/internal/disasm"
	"frost64/internal/except"
	"frost64/internal/interrupt"
	"frost64/internal/iobus"
	"frost64/internal/mmu"
)

// Physical address map, spec.md §6.1.
const (
	BIOSBase    = 0xF000_0000
	IOBase      = 0xE000_0000
	IOEnd       = 0xF000_0000
	BIOSWindow  = 0x1000_0000 // [BIOSBase, BIOSBase+BIOSWindow)
	MaxImageLen = 0x1000_0000

	consoleBase = IOBase + 0    // register 0
	videoBase   = IOBase + 16*8 // register 16
	storageBase = IOBase + 32*8 // register 32
)

// Config describes how to build one VM. Console, if nil, is built
// internally: over ConsoleIn/ConsoleOut when either is set (a missing
// one reads as empty input or discards output), and otherwise against a
// real terminal (cmd/frost64emu's default). Tests pass ConsoleIn and
// ConsoleOut over in-memory readers and writers.
type Config struct {
	RAMSize    uint64 // defaults to 1 MiB if zero
	Image      []byte // the assembled program, loaded at BIOSBase
	Disk       []byte // optional storage backing; nil disables the storage device
	Backend    iobus.Backend
	Console    *iobus.ConsoleDevice
	ConsoleIn  io.Reader
	ConsoleOut io.Writer
}

const defaultRAMSize = 1 << 20

// VM owns every long-lived component of one Frost64 machine.
type VM struct {
	Regs       *cpuregs.RegisterFile
	Phys       *mmu.PhysicalMMU
	Virt       *mmu.VirtualMMU
	Bus        *iobus.Bus
	Interrupts *interrupt.Controller
	CPU        *cpu.CPU

	console *iobus.ConsoleDevice
	video   *iobus.VideoDevice
	backend iobus.Backend
	bios    *mmu.BIOSRegion
}

// New builds a machine per cfg and loads cfg.Image at BIOSBase. It
// returns an error if the image violates spec.md §6.1's size bounds
// (empty, or larger than the BIOS window).
func New(cfg Config) (*VM, error) {
	if len(cfg.Image) == 0 {
		return nil, fmt.Errorf("vm: image is empty")
	}
	if len(cfg.Image) > MaxImageLen {
		return nil, fmt.Errorf("vm: image is %d bytes, exceeds the %d-byte BIOS window", len(cfg.Image), MaxImageLen)
	}
	ramSize := cfg.RAMSize
	if ramSize == 0 {
		ramSize = defaultRAMSize
	}

	phys := mmu.NewPhysicalMMU()

	lowRAM := ramSize
	if lowRAM > IOBase {
		lowRAM = IOBase
	}
	if lowRAM > 0 {
		phys.AddRegion(mmu.NewRAMRegion(0, lowRAM))
	}

	bus := iobus.NewBus()

	// internal/cpu's OUTB/INB family (execIO) addresses c.Ports — this
	// same Bus — directly with the operand's raw physical address (see
	// spec.md §8 scenario 6's OUTB [0xE000_0000], ...); mapping devices
	// at their absolute physical bases here, rather than offsets
	// relative to IOBase, keeps that path and the memory-mapped path
	// below agreeing on one address space instead of two.
	phys.AddRegion(mmu.NewIORegion(IOBase, IOEnd, bus.ReadAt, bus.WriteAt))

	bios := mmu.NewBIOSRegion(BIOSBase, cfg.Image, BIOSWindow)
	phys.AddRegion(bios)

	if ramSize > IOBase {
		phys.AddRegion(mmu.NewRAMRegion(BIOSBase+BIOSWindow, ramSize-IOBase))
	}

	virt := mmu.NewVirtualMMU(phys)
	regs := cpuregs.New()
	ic := interrupt.New(&physMemory{phys})
	c := cpu.New(regs, phys, virt, bus, ic)

	v := &VM{Regs: regs, Phys: phys, Virt: virt, Bus: bus, Interrupts: ic, CPU: c, backend: cfg.Backend, bios: bios}

	console := cfg.Console
	if console == nil {
		if cfg.ConsoleIn != nil || cfg.ConsoleOut != nil {
			in := cfg.ConsoleIn
			if in == nil {
				in = strings.NewReader("")
			}
			out := cfg.ConsoleOut
			if out == nil {
				out = io.Discard
			}
			console = iobus.NewConsoleDeviceWithIO(in, out)
		} else {
			var err error
			console, err = iobus.NewConsoleDevice()
			if err != nil {
				return nil, fmt.Errorf("vm: console init: %w", err)
			}
		}
	}
	v.console = console
	if err := bus.Map(consoleBase, 16, console); err != nil {
		return nil, err
	}

	if cfg.Backend != nil {
		v.video = iobus.NewVideoDevice(cfg.Backend, phys)
		if err := bus.Map(videoBase, 3*8, v.video); err != nil {
			return nil, err
		}
	}

	if cfg.Disk != nil {
		if err := bus.Map(storageBase, 3*8, iobus.NewStorageDevice(cfg.Disk, phys)); err != nil {
			return nil, err
		}
	}

	regs.SetIP(BIOSBase)
	return v, nil
}

// physMemory adapts *mmu.PhysicalMMU to interrupt.Memory; IDT loads
// always go through the physical MMU directly, matching
// original_source's Interrupts.cpp (descriptors are never themselves
// paged).
type physMemory struct{ phys *mmu.PhysicalMMU }

func (p *physMemory) Read(addr uint64, buf []byte) error { return p.phys.Read(addr, buf) }

// Run steps the CPU until it halts (internal/cpu sets CPU.Halted on
// HLT) or a double fault crashes the machine. It returns nil on a clean
// halt and a non-nil error — carrying a register dump — on a crash,
// mirroring original_source's Emulator.cpp abort path.
func (v *VM) Run() error {
	for !v.CPU.Halted {
		if err := v.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step advances the machine by exactly one instruction, then hands the
// framebuffer to the backend if the guest dirtied it (the render phase
// spec.md §5 runs on its own thread, folded into the main loop per §9's
// redesign note). Exposed separately from Run so cmd/frost64emu and
// tests can single-step without re-implementing the halt/crash handling
// in Run.
func (v *VM) Step() error {
	if err := v.CPU.Step(); err != nil {
		return v.Crash(err)
	}
	if v.video != nil {
		v.video.Tick()
	}
	return nil
}

// Crash renders a register dump plus a short disassembly around the
// faulting instruction (spec.md §7 / original Emulator.cpp's abort
// path) and wraps err with both, rather than exiting the process
// itself — callers (cmd/frost64emu) decide how to report and exit.
func (v *VM) Crash(err error) error {
	_, isFault := err.(*except.Fault)
	_, isDouble := err.(*except.TwiceUnhandled)
	if !isFault && !isDouble {
		return err
	}
	dump := v.Regs.Dump()
	if trace := v.disassembleAroundIP(); trace != "" {
		dump += trace
	}
	return fmt.Errorf("frost64: unrecoverable fault: %w\n%s", err, dump)
}

// disassembleAroundIP renders the loaded image's instructions in a
// small window around the current IP, bounded by the BIOS region's
// real image length rather than its full mapped span so the trace
// stops at the program's actual end instead of decoding padding.
func (v *VM) disassembleAroundIP() string {
	ip := v.Regs.IP()
	size := v.bios.RealSize()
	if ip < BIOSBase || ip >= BIOSBase+size {
		return ""
	}
	img := make([]byte, size)
	if err := v.Phys.Read(BIOSBase, img); err != nil {
		return ""
	}
	lines := disasm.Disassemble(img, BIOSBase)
	at := -1
	for i, l := range lines {
		if l.Addr == ip {
			at = i
			break
		}
	}
	if at < 0 {
		return ""
	}
	const window = 4
	lo, hi := at-window, at+window+1
	if lo < 0 {
		lo = 0
	}
	if hi > len(lines) {
		hi = len(lines)
	}
	s := "\n"
	for _, l := range lines[lo:hi] {
		marker := "   "
		if l.Addr == ip {
			marker = "-> "
		}
		s += fmt.Sprintf("%s0x%08X  %s\n", marker, l.Addr, l.Text)
	}
	return s
}

// Close releases host resources (the console's raw terminal mode).
func (v *VM) Close() error {
	if v.console != nil {
		return v.console.Close()
	}
	return nil
}
