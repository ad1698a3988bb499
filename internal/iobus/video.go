package iobus

import (
	"sync/atomic"

	"frost64/internal/mmu"
)

// Video register offsets: the COMMAND/DATA/STATUS protocol of spec.md
// §6.2, matching original_source's VideoDevicePorts enum
// (VideoDevice.hpp) at the bus's 8-byte register stride.
const (
	VideoCommand = 0x00
	VideoData    = 0x08
	VideoStatus  = 0x10
)

// Video command numbers, matching original_source's
// VideoDeviceCommands enum.
const (
	VideoCmdInitialise    = 0
	VideoCmdGetScreenInfo = 1
	VideoCmdGetMode       = 2
	VideoCmdSetMode       = 3
)

// VideoMode mirrors original_source's VideoMode: dimensions, refresh
// rate, bits per pixel and the row pitch in bytes.
type VideoMode struct {
	Width       uint32
	Height      uint32
	RefreshRate uint16
	BPP         uint16
	Pitch       uint32
}

// nativeVideoMode is the mode the backend comes up in on INITIALISE,
// original_source's NATIVE_VIDEO_MODE.
var nativeVideoMode = VideoMode{Width: 1024, Height: 768, RefreshRate: 60, BPP: 32, Pitch: 4096}

// videoModes is the fixed mode table INITIALISE installs; indices into
// it are what GET_MODE and SET_MODE exchange with the guest.
var videoModes = []VideoMode{
	nativeVideoMode,
	{Width: 640, Height: 480, RefreshRate: 60, BPP: 32, Pitch: 640 * 4},
	{Width: 800, Height: 600, RefreshRate: 60, BPP: 32, Pitch: 800 * 4},
	{Width: 1280, Height: 720, RefreshRate: 60, BPP: 32, Pitch: 1280 * 4},
	{Width: 1920, Height: 1080, RefreshRate: 60, BPP: 32, Pitch: 1920 * 4},
}

// Backend is the consumed presentation surface (spec.md §6.3):
// internal/videobackend provides an ebiten-backed and a headless
// implementation.
type Backend interface {
	Configure(width, height, bpp int)
	Present(frame []byte)
}

// VideoDevice implements the INITIALISE / GET_SCREEN_INFO / GET_MODE /
// SET_MODE command protocol of original_source's VideoDevice.cpp:
// request and response structures are exchanged through guest physical
// memory at the pointer held in DATA, and SET_MODE claims the
// guest-chosen framebuffer window out of RAM via
// PhysicalMMU.RemoveRegionSegment (spec.md §4.3), remapping it as a
// region that reads and writes the device's framebuffer.
//
// All register and framebuffer accesses arrive on the single execution
// goroutine (spec.md §5's single-writer framebuffer rule); the only
// cross-goroutine signal is the atomic dirty flag Tick consumes.
type VideoDevice struct {
	backend Backend
	phys    *mmu.PhysicalMMU

	data, status uint64
	initialised  bool

	modes       []VideoMode
	currentMode int

	fb            []byte
	fbBase, fbEnd uint64
	dirty         atomic.Bool
}

// NewVideoDevice builds a device presenting through backend; phys is
// the physical address space SET_MODE carves framebuffer windows out
// of.
func NewVideoDevice(backend Backend, phys *mmu.PhysicalMMU) *VideoDevice {
	return &VideoDevice{backend: backend, phys: phys}
}

func (d *VideoDevice) Name() string { return "video" }

func (d *VideoDevice) ReadAt(offset uint64, buf []byte) {
	switch offset {
	case VideoData:
		writeLE(buf, d.data)
	case VideoStatus:
		writeLE(buf, d.status)
	default:
		writeLE(buf, 0)
	}
}

func (d *VideoDevice) WriteAt(offset uint64, buf []byte) {
	v := readLE(buf)
	switch offset {
	case VideoCommand:
		d.handleCommand(v)
	case VideoData:
		d.data = v
	}
}

func (d *VideoDevice) handleCommand(cmd uint64) {
	switch cmd {
	case VideoCmdInitialise:
		if d.initialised {
			return
		}
		if d.backend == nil {
			d.status = 1
			return
		}
		d.backend.Configure(int(nativeVideoMode.Width), int(nativeVideoMode.Height), int(nativeVideoMode.BPP))
		d.modes = videoModes
		d.currentMode = 0
		d.initialised = true
		d.status = 0
	case VideoCmdGetScreenInfo:
		d.getScreenInfo()
	case VideoCmdGetMode:
		d.getMode()
	case VideoCmdSetMode:
		d.setMode()
	}
}

// getScreenInfo writes a GetScreenInfoResponse — the native mode plus
// the mode-table size and current index — to the guest address in DATA.
func (d *VideoDevice) getScreenInfo() {
	if !d.initialised {
		d.status = 1
		return
	}
	var resp [16]byte
	writeLE(resp[0:4], uint64(nativeVideoMode.Width))
	writeLE(resp[4:8], uint64(nativeVideoMode.Height))
	writeLE(resp[8:10], uint64(nativeVideoMode.RefreshRate))
	writeLE(resp[10:12], uint64(nativeVideoMode.BPP))
	writeLE(resp[12:14], uint64(len(d.modes)))
	writeLE(resp[14:16], uint64(d.currentMode))
	if err := d.phys.Write(d.data, resp[:]); err != nil {
		d.status = 1
		return
	}
	d.status = 0
}

// getMode reads a GetModeRequest {address, index} at DATA and writes
// the indexed mode's GetModeResponse to request.address.
func (d *VideoDevice) getMode() {
	if !d.initialised {
		d.status = 1
		return
	}
	var req [16]byte
	if err := d.phys.Read(d.data, req[:]); err != nil {
		d.status = 1
		return
	}
	addr := readLE(req[0:8])
	index := int(readLE(req[8:10]))
	if index >= len(d.modes) {
		d.status = 1
		return
	}
	mode := d.modes[index]
	var resp [16]byte
	writeLE(resp[0:4], uint64(mode.Width))
	writeLE(resp[4:8], uint64(mode.Height))
	writeLE(resp[8:10], uint64(mode.BPP))
	writeLE(resp[10:14], uint64(mode.Pitch))
	writeLE(resp[14:16], uint64(mode.RefreshRate))
	if err := d.phys.Write(addr, resp[:]); err != nil {
		d.status = 1
		return
	}
	d.status = 0
}

// setMode reads a SetModeRequest {address, mode} at DATA, releases any
// previously claimed framebuffer window, carves [address,
// address+pitch*height) out of RAM and remaps it onto the device's
// framebuffer.
func (d *VideoDevice) setMode() {
	if !d.initialised {
		d.status = 1
		return
	}
	var req [16]byte
	if err := d.phys.Read(d.data, req[:]); err != nil {
		d.status = 1
		return
	}
	addr := readLE(req[0:8])
	index := int(readLE(req[8:10]))
	if index >= len(d.modes) {
		d.status = 1
		return
	}

	d.releaseFramebuffer()

	mode := d.modes[index]
	size := uint64(mode.Pitch) * uint64(mode.Height)
	if err := d.phys.RemoveRegionSegment(addr, addr+size); err != nil {
		d.status = 1
		return
	}
	base := addr
	d.phys.AddRegion(mmu.NewIORegion(addr, addr+size,
		func(a uint64, buf []byte) { d.fbRead(a-base, buf) },
		func(a uint64, buf []byte) { d.fbWrite(a-base, buf) },
	))
	d.fb = make([]byte, size)
	d.fbBase, d.fbEnd = addr, addr+size
	d.backend.Configure(int(mode.Width), int(mode.Height), int(mode.BPP))
	d.currentMode = index
	d.status = 0
}

// releaseFramebuffer unmaps the framebuffer window and gives its span
// back to the region it was carved out of.
func (d *VideoDevice) releaseFramebuffer() {
	if d.fb == nil {
		return
	}
	d.phys.RemoveRegion(d.fbBase)
	_ = d.phys.ReaddRegionSegment(d.fbBase, d.fbEnd)
	d.fb = nil
	d.fbBase, d.fbEnd = 0, 0
}

func (d *VideoDevice) fbRead(off uint64, buf []byte) {
	if d.fb == nil || off+uint64(len(buf)) > uint64(len(d.fb)) {
		return
	}
	copy(buf, d.fb[off:])
}

func (d *VideoDevice) fbWrite(off uint64, buf []byte) {
	if d.fb == nil || off+uint64(len(buf)) > uint64(len(d.fb)) {
		return
	}
	copy(d.fb[off:], buf)
	d.dirty.Store(true)
}

// Tick hands the framebuffer to the backend if it changed since the
// last call. The dispatcher calls it once per instruction; the check is
// a single atomic load on the clean path.
func (d *VideoDevice) Tick() {
	if !d.dirty.Swap(false) {
		return
	}
	if d.backend == nil || d.fb == nil {
		return
	}
	d.backend.Present(d.fb)
}

func (d *VideoDevice) Reset() {
	d.releaseFramebuffer()
	d.dirty.Store(false)
	d.initialised = false
	d.modes = nil
	d.currentMode = 0
	d.data, d.status = 0, 0
}
