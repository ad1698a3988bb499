package mmu

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"frost64/internal/except"
)

// PhysicalMMU owns the flat physical address space as a sorted,
// non-overlapping array of regions, looked up by binary search. This
// replaces the doubly-linked region list original_source/MMU/MMU.cpp
// walks linearly, per the spec's note that repeated linear region scans
// should become a sorted array with binary search.
type PhysicalMMU struct {
	mu      sync.RWMutex
	regions []Region
	holes   map[[2]uint64]removedSegment
}

// removedSegment remembers the region RemoveRegionSegment carved a hole
// out of, so ReaddRegionSegment can restore exactly that region rather
// than trying to reconstruct it from its surviving clipped pieces.
type removedSegment struct {
	orig               Region
	origStart, origEnd uint64
}

func NewPhysicalMMU() *PhysicalMMU {
	return &PhysicalMMU{}
}

// AddRegion inserts r, keeping regions sorted by start address. It
// panics on overlap with an existing region: overlapping regions are a
// host-side configuration bug (wiring RAM/BIOS/I/O windows), not a
// guest-triggerable fault.
func (m *PhysicalMMU) AddRegion(r Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].Start() >= r.Start() })
	if i < len(m.regions) && m.regions[i].Start() < r.End() {
		panic("mmu: overlapping region added")
	}
	if i > 0 && m.regions[i-1].End() > r.Start() {
		panic("mmu: overlapping region added")
	}
	m.regions = append(m.regions, nil)
	copy(m.regions[i+1:], m.regions[i:])
	m.regions[i] = r
}

// RemoveRegion unmaps the region that starts exactly at start, if any.
// Used to tear down a BIOS shadow or a temporary DMA window.
func (m *PhysicalMMU) RemoveRegion(start uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].Start() >= start })
	if i < len(m.regions) && m.regions[i].Start() == start {
		m.regions = append(m.regions[:i], m.regions[i+1:]...)
	}
}

// removeLocked drops target from the region list by identity, rather
// than by start address: clipped pieces created by RemoveRegionSegment
// can share a start address with other mappings once merged back, so
// matching on the concrete region avoids removing the wrong one.
func (m *PhysicalMMU) removeLocked(target Region) {
	for i, r := range m.regions {
		if r == target {
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			return
		}
	}
}

// insertLocked keeps regions sorted by start address without the
// overlap check AddRegion does: callers that use it (RemoveRegionSegment,
// ReaddRegionSegment) only ever reinsert spans carved from a region this
// MMU already owned, so they cannot newly overlap anything.
func (m *PhysicalMMU) insertLocked(r Region) {
	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].Start() >= r.Start() })
	m.regions = append(m.regions, nil)
	copy(m.regions[i+1:], m.regions[i:])
	m.regions[i] = r
}

// clippedRegion narrows an underlying Region to [start, end), used by
// RemoveRegionSegment to keep serving the parts of a region that
// survive a carve.
type clippedRegion struct {
	Region
	start, end uint64
}

func (c *clippedRegion) Start() uint64 { return c.start }
func (c *clippedRegion) End() uint64   { return c.end }

// RemoveRegionSegment carves the hole [start, end) out of whichever
// region currently covers it, splitting that region into up to two
// surviving pieces (spec.md §4.3). It is the basis for the video device
// claiming a contiguous framebuffer window out of general RAM when a
// mode is set, per original_source's MMU::RemoveRegionSegment /
// VideoDevice mode-change path.
func (m *PhysicalMMU) RemoveRegionSegment(start, end uint64) error {
	if end <= start {
		return fmt.Errorf("mmu: empty or inverted segment [0x%X,0x%X)", start, end)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.findLocked(start)
	if r == nil || r != m.findLocked(end-1) {
		return fmt.Errorf("mmu: [0x%X,0x%X) is not contained in a single mapped region", start, end)
	}
	origStart, origEnd := r.Start(), r.End()
	m.removeLocked(r)
	if origStart < start {
		m.insertLocked(&clippedRegion{Region: r, start: origStart, end: start})
	}
	if end < origEnd {
		m.insertLocked(&clippedRegion{Region: r, start: end, end: origEnd})
	}
	if m.holes == nil {
		m.holes = make(map[[2]uint64]removedSegment)
	}
	m.holes[[2]uint64{start, end}] = removedSegment{orig: r, origStart: origStart, origEnd: origEnd}
	return nil
}

// ReaddRegionSegment undoes a prior RemoveRegionSegment(start, end),
// removing whatever clipped pieces it left behind and reinstating the
// original region across its full original span.
func (m *PhysicalMMU) ReaddRegionSegment(start, end uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]uint64{start, end}
	seg, ok := m.holes[key]
	if !ok {
		return fmt.Errorf("mmu: no removed segment [0x%X,0x%X) to readd", start, end)
	}
	if seg.origStart < start {
		if r := m.findLocked(seg.origStart); r != nil {
			m.removeLocked(r)
		}
	}
	if end < seg.origEnd {
		if r := m.findLocked(end); r != nil {
			m.removeLocked(r)
		}
	}
	m.insertLocked(seg.orig)
	delete(m.holes, key)
	return nil
}

func (m *PhysicalMMU) findLocked(addr uint64) Region {
	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].End() > addr })
	if i < len(m.regions) && m.regions[i].Start() <= addr {
		return m.regions[i]
	}
	return nil
}

// Find returns the region covering addr, or nil if addr is unmapped.
func (m *PhysicalMMU) Find(addr uint64) Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(addr)
}

// segment is one region-clipped slice of a multi-region access.
type segment struct {
	r    Region
	addr uint64
	buf  []byte
}

// resolve splits the access [addr, addr+len(buf)) into per-region
// segments under the lock, so the caller can run the region callbacks
// with no lock held. An I/O region's handler may itself re-enter this
// MMU — a store to the video command register triggers a
// RemoveRegionSegment — which would deadlock if the callbacks ran
// inside the read lock.
func (m *PhysicalMMU) resolve(addr uint64, buf []byte, ok func(Region) bool) ([]segment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var segs []segment
	pos := 0
	for pos < len(buf) {
		r := m.findLocked(addr + uint64(pos))
		if r == nil || !ok(r) {
			return nil, false
		}
		n := int(r.End() - (addr + uint64(pos)))
		if n > len(buf)-pos {
			n = len(buf) - pos
		}
		segs = append(segs, segment{r: r, addr: addr + uint64(pos), buf: buf[pos : pos+n]})
		pos += n
	}
	return segs, true
}

// Read copies len(buf) bytes starting at addr. A single access may span
// multiple adjacent regions, clipped at each region boundary, matching
// original_source MMU::ReadBuffer; any byte not covered by a readable
// region raises PHYS_MEM_VIOLATION.
func (m *PhysicalMMU) Read(addr uint64, buf []byte) error {
	segs, ok := m.resolve(addr, buf, Region.Readable)
	if !ok {
		return except.New(except.PhysMemViolation, 0, "unmapped or unreadable physical address")
	}
	for _, s := range segs {
		s.r.ReadAt(s.addr, s.buf)
	}
	return nil
}

// Write is the Read counterpart; writes to a non-writable region (e.g.
// BIOS) raise PHYS_MEM_VIOLATION.
func (m *PhysicalMMU) Write(addr uint64, buf []byte) error {
	segs, ok := m.resolve(addr, buf, Region.Writable)
	if !ok {
		return except.New(except.PhysMemViolation, 0, "unmapped or unwritable physical address")
	}
	for _, s := range segs {
		s.r.WriteAt(s.addr, s.buf)
	}
	return nil
}

// ValidateRead, ValidateWrite and ValidateExecute probe coverage without
// raising, mirroring original_source's non-raising ValidateRead used by
// the virtual MMU's safe=true translation path.
func (m *PhysicalMMU) ValidateRead(addr uint64, size int) bool  { return m.validate(addr, size, func(r Region) bool { return r.Readable() }) }
func (m *PhysicalMMU) ValidateWrite(addr uint64, size int) bool { return m.validate(addr, size, func(r Region) bool { return r.Writable() }) }
func (m *PhysicalMMU) ValidateExecute(addr uint64, size int) bool {
	return m.validate(addr, size, func(r Region) bool { return r.Executable() })
}

func (m *PhysicalMMU) validate(addr uint64, size int, ok func(Region) bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos := 0
	for pos < size {
		r := m.findLocked(addr + uint64(pos))
		if r == nil || !ok(r) {
			return false
		}
		n := int(r.End() - (addr + uint64(pos)))
		if n > size-pos {
			n = size - pos
		}
		pos += n
	}
	return true
}

func (m *PhysicalMMU) Read8(addr uint64) (uint8, error) {
	var buf [1]byte
	if err := m.Read(addr, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (m *PhysicalMMU) Write8(addr uint64, v uint8) error {
	return m.Write(addr, []byte{v})
}

func (m *PhysicalMMU) Read16(addr uint64) (uint16, error) {
	var buf [2]byte
	if err := m.Read(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (m *PhysicalMMU) Write16(addr uint64, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return m.Write(addr, buf[:])
}

func (m *PhysicalMMU) Read32(addr uint64) (uint32, error) {
	var buf [4]byte
	if err := m.Read(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (m *PhysicalMMU) Write32(addr uint64, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return m.Write(addr, buf[:])
}

func (m *PhysicalMMU) Read64(addr uint64) (uint64, error) {
	var buf [8]byte
	if err := m.Read(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (m *PhysicalMMU) Write64(addr uint64, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return m.Write(addr, buf[:])
}
