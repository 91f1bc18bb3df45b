package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-ballista/internal/gguf"
	"github.com/23skdu/longbow-ballista/internal/ollama"
)

// newInspectCmd dumps the GGUF metadata the benchmark derives its estimates
// from, so surprising bandwidth numbers can be traced back to the header.
func newInspectCmd() *cobra.Command {
	var showKV bool

	cmd := &cobra.Command{
		Use:   "inspect <model>",
		Short: "Print model hyperparameters from a GGUF header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ollama.Resolve(args[0])
			if err != nil {
				return err
			}
			f, err := gguf.ReadHeader(path)
			if err != nil {
				return err
			}
			info, err := gguf.Analyze(f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			color.New(color.FgCyan, color.Bold).Fprintf(out, "%s\n", path)
			fmt.Fprintln(out, info.String())

			if showKV {
				keys := make([]string, 0, len(f.KV))
				for k := range f.KV {
					keys = append(keys, k)
				}
				sort.Strings(keys)

				tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
				for _, k := range keys {
					fmt.Fprintf(tw, "%s\t%v\n", k, f.KV[k])
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showKV, "kv", false, "also dump the raw metadata key-value pairs")
	return cmd
}
