package iobus

import "sync"

// Storage register offsets: the three-register COMMAND/STATUS/DATA
// protocol of spec.md §6.2, matching original_source's
// StorageDeviceRegisters enum (StorageDevice.hpp).
const (
	StorageCommand = 0x00
	StorageStatus  = 0x08
	StorageData    = 0x10
)

// Storage command numbers, matching original_source's
// StorageDeviceCommands enum.
const (
	StorageCmdConfigure     = 0
	StorageCmdGetDeviceInfo = 1
	StorageCmdRead          = 2
	StorageCmdWrite         = 3
)

// Status register bits, matching original_source's StorageDeviceStatus
// packed bitfield.
const (
	storageStatusEN   = 1 << 0
	storageStatusERR  = 1 << 1
	storageStatusRDY  = 1 << 2
	storageStatusTRN  = 1 << 3
	storageStatusINTE = 1 << 4
	storageStatusINTP = 1 << 5
)

const sectorSize = 512

// Memory is the byte-buffer read/write surface StorageDevice needs to
// walk the guest-resident physical region list and scatter/gather
// sector data, satisfied by mmu.PhysicalMMU.
type Memory interface {
	Read(addr uint64, buf []byte) error
	Write(addr uint64, buf []byte) error
}

// configureRequest is the payload DATA points at for CONFIGURE,
// matching original_source's StorageDevice_ConfigureRequest.
type configureRequest struct {
	en, inte bool
}

func decodeConfigureRequest(v uint64) configureRequest {
	return configureRequest{en: v&(1<<0) != 0, inte: v&(1<<1) != 0}
}

// transferRequestSize is sizeof(StorageDevice_TransferRequest): five
// qwords (LBA, COUNT, PRLS, PRLNC, FLAGS).
const transferRequestSize = 40

// transferRequest is the descriptor DATA points at for READ/WRITE,
// matching original_source's StorageDevice_TransferRequest: the
// starting LBA and sector count, a physical-region list describing the
// guest buffer (PRLS: list start address, PRLNC: node count), and a
// flags word whose bit 0 requests an interrupt on completion.
type transferRequest struct {
	lba, count  uint64
	prls, prlnc uint64
	wantInt     bool
}

func readTransferRequest(mem Memory, addr uint64) (transferRequest, error) {
	var buf [transferRequestSize]byte
	if err := mem.Read(addr, buf[:]); err != nil {
		return transferRequest{}, err
	}
	return transferRequest{
		lba:     readLE(buf[0:8]),
		count:   readLE(buf[8:16]),
		prls:    readLE(buf[16:24]),
		prlnc:   readLE(buf[24:32]),
		wantInt: readLE(buf[32:40])&(1<<0) != 0,
	}, nil
}

// physicalRegion is one item of a physical-region-list node: a span of
// guest physical memory given as a starting address and a length in
// sectors, matching original_source's PhysicalRegionListBuffer::Item.
type physicalRegion struct {
	start         uint64
	sizeInSectors uint64
}

// readRegionList walks nodeCount linked list nodes starting at
// listStart. Each node is a uint64 item count, that many {start,
// size-in-sectors} items, and a trailing uint64 pointer to the next
// node — the wire format original_source's
// PhysicalRegionListBuffer::ParseList parses.
func readRegionList(mem Memory, listStart, nodeCount uint64) ([]physicalRegion, error) {
	var regions []physicalRegion
	addr := listStart
	for i := uint64(0); i < nodeCount; i++ {
		var hdr [8]byte
		if err := mem.Read(addr, hdr[:]); err != nil {
			return nil, err
		}
		itemCount := readLE(hdr[:])
		addr += 8
		for j := uint64(0); j < itemCount; j++ {
			var item [16]byte
			if err := mem.Read(addr, item[:]); err != nil {
				return nil, err
			}
			regions = append(regions, physicalRegion{start: readLE(item[0:8]), sizeInSectors: readLE(item[8:16])})
			addr += 16
		}
		var next [8]byte
		if err := mem.Read(addr, next[:]); err != nil {
			return nil, err
		}
		addr = readLE(next[:])
	}
	return regions, nil
}

// StorageDevice is a flat-file block device addressed by LBA sector
// number, exposed over the COMMAND/STATUS/DATA register protocol of
// spec.md §6.2. READ copies disk bytes into the guest buffer described
// by DATA's physical-region list; WRITE copies guest bytes to disk.
type StorageDevice struct {
	mu   sync.Mutex
	disk []byte
	mem  Memory

	command, status, data uint64
}

func NewStorageDevice(disk []byte, mem Memory) *StorageDevice {
	return &StorageDevice{disk: disk, mem: mem, status: storageStatusRDY}
}

func (d *StorageDevice) Name() string { return "storage" }

func (d *StorageDevice) ReadAt(offset uint64, buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch offset {
	case StorageCommand:
		writeLE(buf, d.command)
	case StorageStatus:
		writeLE(buf, d.status)
	case StorageData:
		writeLE(buf, d.data)
	}
}

func (d *StorageDevice) WriteAt(offset uint64, buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := readLE(buf)
	switch offset {
	case StorageCommand:
		d.command = v
		d.execute(v)
	case StorageStatus:
		d.status = v
	case StorageData:
		d.data = v
	}
}

func (d *StorageDevice) setFlag(mask uint64, set bool) {
	if set {
		d.status |= mask
	} else {
		d.status &^= mask
	}
}

// fail marks the last command as failed, matching every HandleCommand
// error path in original_source (ERR=1, RDY=1).
func (d *StorageDevice) fail() {
	d.setFlag(storageStatusERR, true)
	d.setFlag(storageStatusRDY, true)
}

func (d *StorageDevice) execute(cmd uint64) {
	d.setFlag(storageStatusRDY, false)
	switch cmd {
	case StorageCmdConfigure:
		req := decodeConfigureRequest(d.data)
		d.setFlag(storageStatusEN, req.en)
		d.setFlag(storageStatusINTE, req.inte)
		d.setFlag(storageStatusERR, false)
		d.setFlag(storageStatusRDY, true)
	case StorageCmdGetDeviceInfo:
		d.getDeviceInfo()
	case StorageCmdRead:
		d.transfer(false)
	case StorageCmdWrite:
		d.transfer(true)
	default:
		d.fail()
	}
}

func (d *StorageDevice) getDeviceInfo() {
	var resp [16]byte
	writeLE(resp[0:8], uint64(len(d.disk)))
	writeLE(resp[8:16], uint64(len(d.disk))/sectorSize)
	if err := d.mem.Write(d.data, resp[:]); err != nil {
		d.fail()
		return
	}
	d.setFlag(storageStatusERR, false)
	d.setFlag(storageStatusRDY, true)
}

// transfer implements both READ and WRITE: they differ only in which
// direction bytes move between d.disk and the guest buffer.
func (d *StorageDevice) transfer(write bool) {
	d.setFlag(storageStatusTRN, false)
	req, err := readTransferRequest(d.mem, d.data)
	if err != nil {
		d.fail()
		return
	}
	if req.wantInt && d.status&storageStatusINTE == 0 {
		d.fail()
		return
	}
	if req.count == 0 {
		d.fail()
		return
	}
	if req.lba+req.count > uint64(len(d.disk))/sectorSize {
		d.fail()
		return
	}
	regions, err := readRegionList(d.mem, req.prls, req.prlnc)
	if err != nil {
		d.fail()
		return
	}

	diskOff := req.lba * sectorSize
	total := req.count * sectorSize
	pos := uint64(0)
	for _, r := range regions {
		if pos >= total {
			break
		}
		n := r.sizeInSectors * sectorSize
		if pos+n > total {
			n = total - pos
		}
		if write {
			buf := make([]byte, n)
			if err := d.mem.Read(r.start, buf); err != nil {
				d.fail()
				return
			}
			copy(d.disk[diskOff+pos:diskOff+pos+n], buf)
		} else if err := d.mem.Write(r.start, d.disk[diskOff+pos:diskOff+pos+n]); err != nil {
			d.fail()
			return
		}
		pos += n
	}

	d.setFlag(storageStatusTRN, false)
	d.setFlag(storageStatusERR, false)
	d.setFlag(storageStatusRDY, true)
	if req.wantInt {
		d.setFlag(storageStatusINTP, true)
	}
}

func (d *StorageDevice) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.command, d.data = 0, 0
	d.status = storageStatusRDY
}
