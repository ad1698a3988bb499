//go:build headless

package main

import (
	"fmt"

	"frost64/internal/vm"
)

// run is the headless build's counterpart to display_ebiten.go: "sdl"
// has no backend to drive in this build, so it's rejected rather than
// silently falling back to "none".
func run(display string, image []byte, ramBytes uint64, disk []byte) error {
	if display == "sdl" {
		return fmt.Errorf("frost64emu: built without display support (headless build tag); use -d none")
	}
	machine, err := vm.New(vm.Config{RAMSize: ramBytes, Image: image, Disk: disk})
	if err != nil {
		return err
	}
	defer machine.Close()
	return machine.Run()
}
