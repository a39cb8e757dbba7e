// Command ufo-dump parses a pipeline description and prints its graph as
// Graphviz dot, without running it — a diagnostic tool adapted from the
// original engine's compile-only sublc invocation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evoliptic/ufo/plugins"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:           "ufo-dump <pipeline description>",
		Short:         "Print a UFO pipeline's graph structure as Graphviz dot",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc := args[0]
			for _, a := range args[1:] {
				desc += " " + a
			}

			g, _, err := plugins.ParsePipeline(desc, plugins.Default)
			if err != nil {
				return err
			}

			dot := g.DumpDot()
			if outPath == "" {
				fmt.Print(dot)
				return nil
			}
			return os.WriteFile(outPath, []byte(dot), 0o644)
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write dot output to this path instead of stdout")
	return cmd
}
