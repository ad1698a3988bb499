//go:build !headless

package videobackend

import (
	"image"
	"image/color"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
)

// EbitenBackend presents frames through a real window, grounded on the
// teacher's EbitenOutput in video_backend_ebiten.go: an ebiten.Image
// frame buffer behind a mutex, refreshed from Present and blitted every
// Ebiten Draw call.
type EbitenBackend struct {
	mu                 sync.RWMutex
	width, height, bpp int
	img                *ebiten.Image
	pending            []byte
	palette            color.Palette
}

func NewEbitenBackend() *EbitenBackend {
	return &EbitenBackend{width: 320, height: 200, bpp: 32, palette: defaultPalette()}
}

// defaultPalette supplies a basic 256-color grayscale ramp for 8bpp
// indexed modes as a plain color.Palette.
func defaultPalette() color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		v := uint8(i)
		p[i] = color.RGBA{R: v, G: v, B: v, A: 0xFF}
	}
	return p
}

func (b *EbitenBackend) Configure(width, height, bpp int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if width == b.width && height == b.height && b.bpp == bpp {
		return
	}
	b.width, b.height, b.bpp = width, height, bpp
	b.img = ebiten.NewImage(width, height)
}

func (b *EbitenBackend) Present(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending[:0], frame...)
}

// Update and Draw implement ebiten.Game, blitting the most recent
// pending frame into the window's backbuffer.
func (b *EbitenBackend) Update() error { return nil }

func (b *EbitenBackend) Draw(screen *ebiten.Image) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.img == nil || len(b.pending) == 0 {
		return
	}
	switch b.bpp {
	case 32:
		b.blit32(b.pending)
	case 8:
		b.blit8(b.pending)
	}
	screen.DrawImage(b.img, nil)
}

func (b *EbitenBackend) blit32(frame []byte) {
	img := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	n := b.width * b.height
	if len(frame) < n*4 {
		return
	}
	copy(img.Pix, frame[:n*4])
	b.img.WritePixels(img.Pix)
}

func (b *EbitenBackend) blit8(frame []byte) {
	img := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	n := b.width * b.height
	if len(frame) < n {
		return
	}
	for i := 0; i < n; i++ {
		c := b.palette[frame[i]].(color.RGBA)
		img.Pix[i*4+0] = c.R
		img.Pix[i*4+1] = c.G
		img.Pix[i*4+2] = c.B
		img.Pix[i*4+3] = 0xFF
	}
	b.img.WritePixels(img.Pix)
}

func (b *EbitenBackend) Layout(outsideWidth, outsideHeight int) (int, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.width, b.height
}

// Run starts the ebiten event loop; it blocks until the window is
// closed, matching the teacher's own window lifecycle in main.go.
func (b *EbitenBackend) Run(title string) error {
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowSize(b.width*2, b.height*2)
	return ebiten.RunGame(b)
}
