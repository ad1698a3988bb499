//go:build !headless

package main

import (
	"frost64/internal/videobackend"
	"frost64/internal/vm"
)

// run wires a VM for the requested display mode and runs it to
// completion. "sdl" drives the CPU from a background goroutine while
// ebiten owns the main thread (the teacher's EbitenBackend.Run has the
// same requirement in video_backend_ebiten.go); "none" runs the CPU
// loop directly with no backend attached.
func run(display string, image []byte, ramBytes uint64, disk []byte) error {
	if display == "none" {
		machine, err := vm.New(vm.Config{RAMSize: ramBytes, Image: image, Disk: disk})
		if err != nil {
			return err
		}
		defer machine.Close()
		return machine.Run()
	}

	backend := videobackend.NewEbitenBackend()
	machine, err := vm.New(vm.Config{RAMSize: ramBytes, Image: image, Disk: disk, Backend: backend})
	if err != nil {
		return err
	}
	defer machine.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- machine.Run() }()

	// backend.Run blocks until the window closes. spec.md §5 notes that
	// cancelling the execution side isn't cooperative in the reference
	// implementation either; closing the window here simply stops
	// waiting on the CPU goroutine rather than joining it, the same
	// "detach, don't join" tradeoff the spec describes for a long jump.
	if err := backend.Run("frost64emu"); err != nil {
		return err
	}
	select {
	case err := <-runErr:
		return err
	default:
		return nil
	}
}
