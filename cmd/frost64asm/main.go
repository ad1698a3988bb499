// Command frost64asm assembles Frost64 source into the flat binary
// image internal/vm loads at BIOSBase, following the same cobra
// command shape as cmd/frost64emu.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"frost64/internal/assemble"
)

func main() {
	root := &cobra.Command{
		Use:   "frost64asm <input> <output>",
		Short: "Assemble Frost64 source into a flat binary image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath, outputPath := args[0], args[1]
			source, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("frost64asm: reading %s: %w", inputPath, err)
			}

			baseDir := filepath.Dir(inputPath)
			include := func(path string) (string, error) {
				if !filepath.IsAbs(path) {
					path = filepath.Join(baseDir, path)
				}
				b, err := os.ReadFile(path)
				if err != nil {
					return "", err
				}
				return string(b), nil
			}

			image, err := assemble.Assemble(string(source), include)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outputPath, image, 0o644); err != nil {
				return fmt.Errorf("frost64asm: writing %s: %w", outputPath, err)
			}
			return nil
		},
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
