package cpu

import (
	"encoding/binary"

	"frost64/internal/except"
	"frost64/internal/mmu"
)

// memView is the address-translating façade the dispatcher and its
// helpers use for every guest memory access: it transparently routes
// through the virtual MMU when paging is enabled, and straight to
// physical memory otherwise. It also exposes the narrower Read64/Write64
// surface internal/stack and internal/interrupt expect.
type memView struct {
	phys   *mmu.PhysicalMMU
	virt   *mmu.VirtualMMU
	paging bool
	user   bool
	ip     uint64 // current instruction IP, for fault attribution
}

func (v *memView) resolve(addr uint64, mode mmu.TranslateMode) (uint64, error) {
	if !v.paging {
		return addr, nil
	}
	phys, ok, err := v.virt.Translate(addr, mode, v.user, v.ip, false)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, except.New(except.PagingViolation, v.ip, "translation failed")
	}
	return phys, nil
}

func (v *memView) Read(addr uint64, buf []byte) error {
	phys, err := v.resolve(addr, mmu.TranslateRead)
	if err != nil {
		return err
	}
	return v.phys.Read(phys, buf)
}

// ReadExecute is Read's counterpart for instruction fetch: the same
// physical access, but translated under TranslateExecute so a faulting
// page table reports error.execute rather than error.read.
func (v *memView) ReadExecute(addr uint64, buf []byte) error {
	phys, err := v.resolve(addr, mmu.TranslateExecute)
	if err != nil {
		return err
	}
	return v.phys.Read(phys, buf)
}

func (v *memView) Write(addr uint64, buf []byte) error {
	phys, err := v.resolve(addr, mmu.TranslateWrite)
	if err != nil {
		return err
	}
	return v.phys.Write(phys, buf)
}

func (v *memView) ReadN(addr uint64, n int) (uint64, error) {
	var buf [8]byte
	if err := v.Read(addr, buf[:n]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:8]), nil
}

func (v *memView) WriteN(addr uint64, val uint64, n int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	return v.Write(addr, buf[:n])
}

func (v *memView) Read64(addr uint64) (uint64, error)  { return v.ReadN(addr, 8) }
func (v *memView) Write64(addr uint64, val uint64) error { return v.WriteN(addr, val, 8) }

// ValidateExecute checks that every byte of [addr, addr+size) is
// executable under the current mode, translating through paging first
// when enabled. Used to pre-validate instruction fetch windows.
func (v *memView) ValidateExecute(addr uint64, size int) bool {
	if !v.paging {
		return v.phys.ValidateExecute(addr, size)
	}
	return v.virt.ValidateRange(addr, size, mmu.TranslateExecute, v.user)
}
