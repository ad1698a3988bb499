package mmu

import (
	"testing"

	"frost64/internal/except"
)

func TestRAMRegionReadWriteRoundTrip(t *testing.T) {
	m := NewPhysicalMMU()
	m.AddRegion(NewRAMRegion(0x1000, 0x1000))
	if err := m.Write64(0x1000, 0x1122334455667788); err != nil {
		t.Fatalf("write: %v", err)
	}
	v, err := m.Read64(0x1000)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 0x1122334455667788 {
		t.Fatalf("got 0x%X", v)
	}
}

func TestLittleEndianOrdering(t *testing.T) {
	m := NewPhysicalMMU()
	m.AddRegion(NewRAMRegion(0, 0x100))
	if err := m.Write32(0, 0x01020304); err != nil {
		t.Fatal(err)
	}
	b0, _ := m.Read8(0)
	b3, _ := m.Read8(3)
	if b0 != 0x04 || b3 != 0x01 {
		t.Fatalf("expected little-endian byte order, got b0=%x b3=%x", b0, b3)
	}
}

func TestUnmappedAddressFaults(t *testing.T) {
	m := NewPhysicalMMU()
	_, err := m.Read8(0x5000)
	if err == nil {
		t.Fatal("expected PHYS_MEM_VIOLATION")
	}
	f, ok := err.(*except.Fault)
	if !ok || f.Kind != except.PhysMemViolation {
		t.Fatalf("got %v", err)
	}
}

func TestBIOSRegionRejectsWrite(t *testing.T) {
	m := NewPhysicalMMU()
	m.AddRegion(NewBIOSRegion(0, []byte{1, 2, 3}, 0x1000))
	if err := m.Write8(0, 0xFF); err == nil {
		t.Fatal("expected write to BIOS region to fault")
	}
}

func TestBIOSRegionRealSize(t *testing.T) {
	r := NewBIOSRegion(0, []byte{1, 2, 3, 4, 5}, 0x1000)
	if r.RealSize() != 5 {
		t.Fatalf("got %d", r.RealSize())
	}
}

func TestSpanningReadAcrossAdjacentRegions(t *testing.T) {
	m := NewPhysicalMMU()
	m.AddRegion(NewRAMRegion(0, 4))
	m.AddRegion(NewRAMRegion(4, 4))
	if err := m.Write32(0, 0xAAAAAAAA); err != nil {
		t.Fatal(err)
	}
	if err := m.Write32(4, 0xBBBBBBBB); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 8)
	if err := m.Read(0, buf); err != nil {
		t.Fatalf("spanning read failed: %v", err)
	}
}

func TestIORegionForwardsAccess(t *testing.T) {
	m := NewPhysicalMMU()
	var lastWrite uint64
	m.AddRegion(NewIORegion(0x8000, 0x8008,
		func(addr uint64, buf []byte) {
			buf[0] = 0x42
		},
		func(addr uint64, buf []byte) {
			lastWrite = addr
		},
	))
	v, err := m.Read8(0x8000)
	if err != nil || v != 0x42 {
		t.Fatalf("got %v, %v", v, err)
	}
	if err := m.Write8(0x8002, 9); err != nil {
		t.Fatal(err)
	}
	if lastWrite != 0x8002 {
		t.Fatalf("got %d", lastWrite)
	}
}

func TestOverlappingRegionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on overlapping region")
		}
	}()
	m := NewPhysicalMMU()
	m.AddRegion(NewRAMRegion(0, 0x1000))
	m.AddRegion(NewRAMRegion(0x500, 0x1000))
}

func TestRemoveRegionSegmentSplitsRegionInTwo(t *testing.T) {
	m := NewPhysicalMMU()
	m.AddRegion(NewRAMRegion(0, 0x1000))
	if err := m.Write32(0x100, 0xAAAAAAAA); err != nil {
		t.Fatal(err)
	}
	if err := m.Write32(0xA00, 0xBBBBBBBB); err != nil {
		t.Fatal(err)
	}

	if err := m.RemoveRegionSegment(0x200, 0x400); err != nil {
		t.Fatalf("RemoveRegionSegment: %v", err)
	}

	if m.Find(0x300) != nil {
		t.Fatal("expected the carved-out hole to be unmapped")
	}
	v, err := m.Read32(0x100)
	if err != nil || v != 0xAAAAAAAA {
		t.Fatalf("data before the hole did not survive the split: v=0x%X err=%v", v, err)
	}
	v, err = m.Read32(0xA00)
	if err != nil || v != 0xBBBBBBBB {
		t.Fatalf("data after the hole did not survive the split: v=0x%X err=%v", v, err)
	}
}

func TestRemoveRegionSegmentRejectsSpanCrossingRegions(t *testing.T) {
	m := NewPhysicalMMU()
	m.AddRegion(NewRAMRegion(0, 0x1000))
	m.AddRegion(NewRAMRegion(0x2000, 0x1000))
	if err := m.RemoveRegionSegment(0xF00, 0x2100); err == nil {
		t.Fatal("expected an error when the segment is not contained in one region")
	}
}

func TestReaddRegionSegmentRestoresOriginalRegion(t *testing.T) {
	m := NewPhysicalMMU()
	m.AddRegion(NewRAMRegion(0, 0x1000))
	if err := m.Write32(0x300, 0xCAFEBABE); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveRegionSegment(0x200, 0x400); err != nil {
		t.Fatal(err)
	}
	if err := m.ReaddRegionSegment(0x200, 0x400); err != nil {
		t.Fatalf("ReaddRegionSegment: %v", err)
	}
	v, err := m.Read32(0x300)
	if err != nil {
		t.Fatalf("readding the segment should restore the original region's data: %v", err)
	}
	if v != 0xCAFEBABE {
		t.Fatalf("got 0x%X, want 0xCAFEBABE", v)
	}
}

func TestValidateReadWrite(t *testing.T) {
	m := NewPhysicalMMU()
	m.AddRegion(NewRAMRegion(0, 0x1000))
	if !m.ValidateRead(0, 16) {
		t.Fatal("expected validate read to succeed")
	}
	if m.ValidateRead(0xFF0, 32) {
		t.Fatal("expected validate read to fail past region end")
	}
}
