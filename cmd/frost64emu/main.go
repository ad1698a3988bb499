// Command frost64emu loads a Frost64 binary image and runs it to
// completion or crash, grounded on the teacher's main.go wiring (sans
// its ASCII banner) and on oisee-z80-optimizer/cmd/z80opt's cobra
// command shape — explicit RunE, flags bound with Flags().XVar.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var (
		programPath string
		ramBytes    uint64
		display     string
		drivePath   string
	)

	root := &cobra.Command{
		Use:   "frost64emu",
		Short: "Run a Frost64 binary image",
		RunE: func(cmd *cobra.Command, args []string) error {
			if programPath == "" {
				return fmt.Errorf("frost64emu: -p/--program is required")
			}
			image, err := os.ReadFile(programPath)
			if err != nil {
				return fmt.Errorf("frost64emu: reading %s: %w", programPath, err)
			}

			var disk []byte
			if drivePath != "" {
				disk, err = os.ReadFile(drivePath)
				if err != nil {
					return fmt.Errorf("frost64emu: reading drive image %s: %w", drivePath, err)
				}
			}

			switch display {
			case "sdl", "none":
			default:
				return fmt.Errorf("frost64emu: -d must be %q or %q, got %q", "sdl", "none", display)
			}
			return run(display, image, ramBytes, disk)
		},
	}

	root.Flags().StringVarP(&programPath, "program", "p", "", "path to the assembled Frost64 binary image (required)")
	root.Flags().Uint64VarP(&ramBytes, "ram", "m", 0, "guest RAM size in bytes (default 1 MiB)")
	root.Flags().StringVarP(&display, "display", "d", "none", "video backend: sdl or none")
	root.Flags().StringVarP(&drivePath, "drive", "D", "", "path to a flat storage backing file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
