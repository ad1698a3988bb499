package cpu

import (
	"frost64/internal/arch"
	"frost64/internal/mmu"
)

// Mode is the CPU's current protection/paging state, derived from CR0
// (spec.md §4.8, §4.4). CR0's bit layout:
//
//	bit 0:    protected  - privilege gating is enforced at all
//	bit 1:    paging     - the virtual MMU is consulted for every access
//	bits 2-3: page size   (0=4KiB, 1=16KiB, 2=64KiB)
//	bits 4-5: level count (0=3, 1=4, 2=5)
//
// Current privilege level (user vs. supervisor) is not part of CR0:
// original_source's Emulator.cpp tracks it as a standalone flag
// (g_isInUserMode) toggled by ENTERUSER/SYSCALL/SYSRET, not as a
// control-register bit; CPU.UserMode mirrors that.
type Mode struct {
	Protected bool
	Paging    bool
}

func DecodeCR0(v uint64) (Mode, mmu.PageSize, mmu.LevelCount) {
	m := Mode{
		Protected: v&(1<<0) != 0,
		Paging:    v&(1<<1) != 0,
	}
	size := mmu.PageSize((v >> 2) & 0x3)
	levels := mmu.LevelCount(3 + (v>>4)&0x3)
	return m, size, levels
}

func EncodeCR0(m Mode, size mmu.PageSize, levels mmu.LevelCount) uint64 {
	var v uint64
	if m.Protected {
		v |= 1 << 0
	}
	if m.Paging {
		v |= 1 << 1
	}
	v |= uint64(size&0x3) << 2
	v |= uint64(levels-3) << 4
	return v
}

// exitUserMode is SYSCALL's transition to supervisor mode (spec.md
// §4.8, original_source Emulator::ExitUserMode): STS swaps with its
// shadow in CR1, the user's resume IP lands in R14, control transfers
// to the syscall entry point held in CR2, and R15 captures the user
// stack pointer for the eventual SYSRET to restore.
func (c *CPU) exitUserMode(returnIP uint64) {
	c.UserMode = false
	stsID := arch.MakeRegisterID(arch.RegStatus, 0)
	sts := c.Regs.ReadInternal(stsID)
	c.Regs.WriteInternal(stsID, c.Regs.CR(1))
	c.Regs.WriteInternal(arch.MakeRegisterID(arch.RegControl, 1), sts)
	c.Regs.WriteInternal(arch.MakeRegisterID(arch.RegGeneralPurpose, 14), returnIP)
	c.Regs.SetIP(c.Regs.CR(2))
	c.Regs.WriteInternal(arch.MakeRegisterID(arch.RegGeneralPurpose, 15), c.Regs.SCP())
}

// enterUserMode is SYSRET's return path (original_source
// Emulator::EnterUserMode): the STS/CR1 swap reverses, execution
// resumes at the user IP saved in R14, and SCP comes back from R15.
func (c *CPU) enterUserMode() {
	stsID := arch.MakeRegisterID(arch.RegStatus, 0)
	sts := c.Regs.ReadInternal(stsID)
	c.Regs.WriteInternal(stsID, c.Regs.CR(1))
	c.Regs.WriteInternal(arch.MakeRegisterID(arch.RegControl, 1), sts)
	c.Regs.SetIP(c.Regs.ReadInternal(arch.MakeRegisterID(arch.RegGeneralPurpose, 14)))
	c.Regs.SetSCP(c.Regs.ReadInternal(arch.MakeRegisterID(arch.RegGeneralPurpose, 15)))
	c.UserMode = true
}
