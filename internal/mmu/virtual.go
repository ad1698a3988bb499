package mmu

import (
	"frost64/internal/except"
)

// PageSize selects the leaf page granularity. The numeric values are
// the wire/control-register encoding used by CR0 (spec.md §4.8).
type PageSize uint8

const (
	Page4KiB  PageSize = 0
	Page16KiB PageSize = 1
	Page64KiB PageSize = 2
)

func (p PageSize) shift() uint {
	switch p {
	case Page4KiB:
		return 12
	case Page16KiB:
		return 14
	case Page64KiB:
		return 16
	}
	return 12
}

// LevelCount selects how many page-table levels the walk traverses.
type LevelCount uint8

const (
	Levels3 LevelCount = 3
	Levels4 LevelCount = 4
	Levels5 LevelCount = 5
)

// ValidConfig reports whether (size, levels) is an accepted paging
// configuration. original_source's known bug let (64KiB, 5-level)
// through despite being unrepresentable (it would address far more
// physical memory than the 52-bit PTE frame field can name at that
// granularity); Frost64 rejects it instead of silently corrupting CR0.
func ValidConfig(size PageSize, levels LevelCount) bool {
	if size == Page64KiB && levels == Levels5 {
		return false
	}
	return levels == Levels3 || levels == Levels4 || levels == Levels5
}

const entriesPerLevel = 1024 // 10 bits of index per level
const entryBits = 10
const pteSize = 8

// PageTableEntry is the packed 8-byte page-table entry: Present,
// Readable, Writable, Executable, User and Lowest are each a single
// bit, followed by 6 reserved bits and a 52-bit physical frame number
// (physical address >> 12), matching original_source/VirtualMMU.hpp.
type PageTableEntry struct {
	Present    bool
	Readable   bool
	Writable   bool
	Executable bool
	User       bool
	Lowest     bool
	Frame      uint64 // physical address >> 12
}

func DecodePTE(raw uint64) PageTableEntry {
	return PageTableEntry{
		Present:    raw&(1<<0) != 0,
		Readable:   raw&(1<<1) != 0,
		Writable:   raw&(1<<2) != 0,
		Executable: raw&(1<<3) != 0,
		User:       raw&(1<<4) != 0,
		Lowest:     raw&(1<<5) != 0,
		Frame:      raw >> 12,
	}
}

func (e PageTableEntry) Encode() uint64 {
	var raw uint64
	if e.Present {
		raw |= 1 << 0
	}
	if e.Readable {
		raw |= 1 << 1
	}
	if e.Writable {
		raw |= 1 << 2
	}
	if e.Executable {
		raw |= 1 << 3
	}
	if e.User {
		raw |= 1 << 4
	}
	if e.Lowest {
		raw |= 1 << 5
	}
	raw |= e.Frame << 12
	return raw
}

// TranslateMode is the access kind being validated against a PTE's
// permission bits.
type TranslateMode int

const (
	TranslateRead TranslateMode = iota
	TranslateWrite
	TranslateExecute
)

// PageFaultCode packs the four bits original_source's
// PagingViolationErrorCode carries in a PAGING_VIOLATION's error code:
// which access was attempted and whether it came from user mode.
type PageFaultCode struct {
	Read, Write, Execute, User bool
}

func (c PageFaultCode) Encode() uint64 {
	var v uint64
	if c.Read {
		v |= 1
	}
	if c.Write {
		v |= 2
	}
	if c.Execute {
		v |= 4
	}
	if c.User {
		v |= 8
	}
	return v
}

// VirtualMMU layers paging on top of a PhysicalMMU. Root, Size and
// Levels are set from CR3/CR0 by the cpu package's mode machine whenever
// those registers change.
type VirtualMMU struct {
	phys   *PhysicalMMU
	Root   uint64
	Size   PageSize
	Levels LevelCount
}

func NewVirtualMMU(phys *PhysicalMMU) *VirtualMMU {
	return &VirtualMMU{phys: phys, Size: Page4KiB, Levels: Levels3}
}

// Translate walks the page tables for address under the given mode and
// current-privilege user flag, returning the physical address. safe
// suppresses fault raising (ok=false instead), matching
// original_source's ValidateRead/ValidateExecute probe paths used by
// address-range checks before a bulk transfer.
func (v *VirtualMMU) Translate(address uint64, mode TranslateMode, user bool, ip uint64, safe bool) (uint64, bool, error) {
	shift := v.Size.shift()
	page := address >> shift

	tableBase := v.Root
	levels := int(v.Levels)
	for level := levels - 1; level >= 0; level-- {
		index := (page >> uint(entryBits*level)) & (entriesPerLevel - 1)
		raw, err := v.phys.Read64(tableBase + index*pteSize)
		if err != nil {
			if safe {
				return 0, false, nil
			}
			return 0, false, except.New(except.PagingViolation, ip, "page table walk hit unmapped physical memory")
		}
		pte := DecodePTE(raw)
		if !pte.Present || !permOK(pte, mode, user) {
			if safe {
				return 0, false, nil
			}
			code := PageFaultCode{
				Read:    mode == TranslateRead,
				Write:   mode == TranslateWrite,
				Execute: mode == TranslateExecute,
				User:    user,
			}
			return 0, false, &except.Fault{Kind: except.PagingViolation, IP: ip, Code: code.Encode()}
		}
		if level == 0 || pte.Lowest {
			lowBits := uint(entryBits*level) + shift
			intraOffset := address & (uint64(1)<<lowBits - 1)
			phys := pte.Frame<<12 + intraOffset
			return phys, true, nil
		}
		tableBase = pte.Frame << 12
	}
	// unreachable: the level==0 branch above always returns.
	if safe {
		return 0, false, nil
	}
	return 0, false, except.New(except.PagingViolation, ip, "page table walk did not terminate")
}

func permOK(pte PageTableEntry, mode TranslateMode, user bool) bool {
	if user && !pte.User {
		return false
	}
	switch mode {
	case TranslateRead:
		return pte.Readable
	case TranslateWrite:
		return pte.Writable
	case TranslateExecute:
		return pte.Executable
	}
	return false
}

// ValidateRange checks that every page touched by
// [address, address+size) translates successfully under the given mode,
// without raising — used to pre-validate a bulk DMA or instruction
// prefetch window before committing to it.
func (v *VirtualMMU) ValidateRange(address uint64, size int, mode TranslateMode, user bool) bool {
	shift := v.Size.shift()
	pageSize := uint64(1) << shift
	end := address + uint64(size)
	for a := address - (address % pageSize); a < end; a += pageSize {
		if _, ok, _ := v.Translate(a, mode, user, 0, true); !ok {
			return false
		}
	}
	return true
}
