package mmu

import (
	"testing"

	"frost64/internal/except"
)

func buildThreeLevelWalk(t *testing.T, phys *PhysicalMMU, rootBase, table1Base, table0Base, targetPhys uint64, leaf PageTableEntry) {
	t.Helper()
	mid := PageTableEntry{Present: true, Readable: true, Writable: true, Executable: true, User: true}

	mid.Frame = table1Base >> 12
	if err := phys.Write64(rootBase+0*pteSize, mid.Encode()); err != nil {
		t.Fatal(err)
	}
	mid.Frame = table0Base >> 12
	if err := phys.Write64(table1Base+0*pteSize, mid.Encode()); err != nil {
		t.Fatal(err)
	}
	leaf.Frame = targetPhys >> 12
	if err := phys.Write64(table0Base+3*pteSize, leaf.Encode()); err != nil {
		t.Fatal(err)
	}
}

func TestVirtualMMUTranslate(t *testing.T) {
	phys := NewPhysicalMMU()
	phys.AddRegion(NewRAMRegion(0, 0x10000))
	v := NewVirtualMMU(phys)
	v.Root = 0x1000
	v.Size = Page4KiB
	v.Levels = Levels3

	buildThreeLevelWalk(t, phys, 0x1000, 0x2000, 0x3000, 0x9000,
		PageTableEntry{Present: true, Readable: true, Writable: true, Executable: true, User: true})

	phys3, ok, err := v.Translate(0x3000, TranslateRead, false, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || phys3 != 0x9000 {
		t.Fatalf("got phys=0x%X ok=%v", phys3, ok)
	}
}

func TestVirtualMMUTranslateWithOffset(t *testing.T) {
	phys := NewPhysicalMMU()
	phys.AddRegion(NewRAMRegion(0, 0x10000))
	v := NewVirtualMMU(phys)
	v.Root = 0x1000

	buildThreeLevelWalk(t, phys, 0x1000, 0x2000, 0x3000, 0x9000,
		PageTableEntry{Present: true, Readable: true, Writable: true, Executable: true, User: true})

	got, ok, err := v.Translate(0x3042, TranslateRead, false, 0, false)
	if err != nil || !ok {
		t.Fatalf("err=%v ok=%v", err, ok)
	}
	if got != 0x9042 {
		t.Fatalf("got 0x%X, want 0x9042", got)
	}
}

func TestVirtualMMUPermissionViolation(t *testing.T) {
	phys := NewPhysicalMMU()
	phys.AddRegion(NewRAMRegion(0, 0x10000))
	v := NewVirtualMMU(phys)
	v.Root = 0x1000

	buildThreeLevelWalk(t, phys, 0x1000, 0x2000, 0x3000, 0x9000,
		PageTableEntry{Present: true, Readable: false, Writable: false, Executable: false, User: true})

	_, _, err := v.Translate(0x3000, TranslateRead, false, 0x4242, false)
	if err == nil {
		t.Fatal("expected PAGING_VIOLATION")
	}
	f, ok := err.(*except.Fault)
	if !ok || f.Kind != except.PagingViolation {
		t.Fatalf("got %v", err)
	}
	if f.IP != 0x4242 {
		t.Fatalf("fault IP not carried through: %v", f.IP)
	}
}

func TestVirtualMMUUserAccessToSupervisorPage(t *testing.T) {
	phys := NewPhysicalMMU()
	phys.AddRegion(NewRAMRegion(0, 0x10000))
	v := NewVirtualMMU(phys)
	v.Root = 0x1000

	buildThreeLevelWalk(t, phys, 0x1000, 0x2000, 0x3000, 0x9000,
		PageTableEntry{Present: true, Readable: true, Writable: true, Executable: true, User: false})

	_, _, err := v.Translate(0x3000, TranslateRead, true, 0, false)
	if err == nil {
		t.Fatal("expected PAGING_VIOLATION for user access to supervisor-only page")
	}
}

func TestVirtualMMUSafeProbeDoesNotRaise(t *testing.T) {
	phys := NewPhysicalMMU()
	v := NewVirtualMMU(phys)
	v.Root = 0x1000
	_, ok, err := v.Translate(0x3000, TranslateRead, false, 0, true)
	if err != nil {
		t.Fatalf("safe probe must not return an error: %v", err)
	}
	if ok {
		t.Fatal("expected probe to report failure on an empty table")
	}
}

func TestValidConfigRejects64KiBFiveLevel(t *testing.T) {
	if ValidConfig(Page64KiB, Levels5) {
		t.Fatal("(64KiB, 5-level) must be rejected")
	}
	if !ValidConfig(Page4KiB, Levels3) {
		t.Fatal("(4KiB, 3-level) must be accepted")
	}
	if !ValidConfig(Page16KiB, Levels4) {
		t.Fatal("(16KiB, 4-level) must be accepted")
	}
}

func TestPageFaultCodeBits(t *testing.T) {
	c := PageFaultCode{Write: true, User: true}
	if c.Encode() != 0b1010 {
		t.Fatalf("got %b", c.Encode())
	}
}
