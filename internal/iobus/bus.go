// Package iobus implements Frost64's memory-mapped I/O bus (spec.md
// §4.6, §6.2): a small set of byte-addressed device register windows
// multiplexed onto the physical address space, in the spirit of the
// teacher's SystemBus/IORegion pair in memory_bus.go but generalized
// from page-masked lookup to an explicit sorted device list, and with
// devices as a capability interface (Device) rather than a pair of
// bare callback funcs — the "capability interface, not deep
// polymorphism" shape _examples/KTStephano-GVM/vm/devices.go uses for
// its HardwareDevice.
package iobus

import (
	"fmt"
	"sort"
	"sync"
)

// Device is one memory-mapped peripheral. Offsets passed to ReadAt/
// WriteAt are relative to the device's own base address.
type Device interface {
	Name() string
	ReadAt(offset uint64, buf []byte)
	WriteAt(offset uint64, buf []byte)
	Reset()
}

type mapping struct {
	base, end uint64
	dev       Device
}

// Bus multiplexes guest physical accesses across mapped devices.
type Bus struct {
	mu       sync.RWMutex
	mappings []mapping
}

func NewBus() *Bus {
	return &Bus{}
}

// Map registers dev to occupy [base, base+size).
func (b *Bus) Map(base, size uint64, dev Device) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	end := base + size
	i := sort.Search(len(b.mappings), func(i int) bool { return b.mappings[i].base >= base })
	if i < len(b.mappings) && b.mappings[i].base < end {
		return fmt.Errorf("iobus: device %q overlaps existing mapping", dev.Name())
	}
	if i > 0 && b.mappings[i-1].end > base {
		return fmt.Errorf("iobus: device %q overlaps existing mapping", dev.Name())
	}
	b.mappings = append(b.mappings, mapping{})
	copy(b.mappings[i+1:], b.mappings[i:])
	b.mappings[i] = mapping{base: base, end: end, dev: dev}
	return nil
}

func (b *Bus) find(addr uint64) (mapping, bool) {
	i := sort.Search(len(b.mappings), func(i int) bool { return b.mappings[i].end > addr })
	if i < len(b.mappings) && b.mappings[i].base <= addr {
		return b.mappings[i], true
	}
	return mapping{}, false
}

// ReadAt and WriteAt satisfy mmu.Region's callback shape so a Bus can be
// wrapped directly in an mmu.IORegion spanning its whole device window.
func (b *Bus) ReadAt(addr uint64, buf []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.find(addr)
	if !ok {
		return
	}
	m.dev.ReadAt(addr-m.base, buf)
}

func (b *Bus) WriteAt(addr uint64, buf []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.find(addr)
	if !ok {
		return
	}
	m.dev.WriteAt(addr-m.base, buf)
}

// Reset resets every mapped device, mirroring SystemBus.Reset.
func (b *Bus) Reset() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, m := range b.mappings {
		m.dev.Reset()
	}
}

func readLE(buf []byte) uint64 {
	var v uint64
	for i := len(buf) - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

func writeLE(buf []byte, v uint64) {
	for i := range buf {
		buf[i] = byte(v)
		v >>= 8
	}
}
