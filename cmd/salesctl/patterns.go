package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/slots"
)

func newPatternsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect slot pattern files",
	}

	var file string
	check := &cobra.Command{
		Use:   "check",
		Short: "Compile a pattern file and report every broken regex",
		RunE: func(cmd *cobra.Command, _ []string) error {
			def := slots.Default()
			source := "built-in"
			if file != "" {
				loaded, err := slots.LoadFile(file)
				if err != nil {
					return err
				}
				def = loaded
				source = file
			}

			report := slots.NewStore(def, c.log).Report()
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s: %d slots, %d patterns compiled\n", source, len(def.Slots), report.Compiled)
			for _, e := range report.Errors {
				_, _ = fmt.Fprintf(out, "  %s=%s  %q: %v\n", e.Slot, e.Value, e.Pattern, e.Err)
			}
			if !report.OK() {
				return errors.New("pattern file has compile errors")
			}
			return nil
		},
	}
	check.Flags().StringVarP(&file, "file", "f", "", "YAML pattern file (default: built-in schema)")

	cmd.AddCommand(check)
	return cmd
}
