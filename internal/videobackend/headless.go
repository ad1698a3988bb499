// Package videobackend provides the concrete presentation surfaces
// behind iobus.VideoDevice's abstract Backend (spec.md §6.3): a real
// windowed backend built on the teacher's own windowing library,
// ebiten, and a headless backend for `-d none` runs and tests, mirroring
// the teacher's split between video_backend_ebiten.go and a no-op
// backend used when no display is requested.
package videobackend

import "sync"

// HeadlessBackend discards frames but still tracks configuration and
// frame counts, so device-protocol logic can be exercised without a
// real window.
type HeadlessBackend struct {
	mu                 sync.Mutex
	width, height, bpp int
	lastFrame          []byte
	frameCount         uint64
}

func NewHeadlessBackend() *HeadlessBackend {
	return &HeadlessBackend{}
}

func (h *HeadlessBackend) Configure(width, height, bpp int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.width, h.height, h.bpp = width, height, bpp
}

func (h *HeadlessBackend) Present(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastFrame = append(h.lastFrame[:0], frame...)
	h.frameCount++
}

func (h *HeadlessBackend) FrameCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frameCount
}

func (h *HeadlessBackend) LastFrame() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]byte, len(h.lastFrame))
	copy(out, h.lastFrame)
	return out
}
