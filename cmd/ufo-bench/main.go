// Command ufo-bench repeatedly runs a pipeline description and reports
// throughput, the successor of the original engine's sublperf tool.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/evoliptic/ufo/plugins"
	"github.com/evoliptic/ufo/resources"
	"github.com/evoliptic/ufo/scheduler"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		iterations int
		trace      bool
	)

	cmd := &cobra.Command{
		Use:           "ufo-bench <pipeline description>",
		Short:         "Run a UFO pipeline repeatedly and report throughput",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc := args[0]
			for _, a := range args[1:] {
				desc += " " + a
			}

			if iterations < 1 {
				iterations = 1
			}

			var total time.Duration
			for i := 0; i < iterations; i++ {
				g, stages, err := plugins.ParsePipeline(desc, plugins.Default)
				if err != nil {
					return err
				}
				sched, err := scheduler.New(g, stages, scheduler.Options{
					Context: resources.NewSoftware(nil),
					Trace:   trace,
				})
				if err != nil {
					return err
				}

				start := time.Now()
				if err := sched.Run(context.Background()); err != nil {
					return err
				}
				total += time.Since(start)
			}

			avg := total / time.Duration(iterations)
			fmt.Printf("iterations: %d\ntotal: %s\naverage: %s\n", iterations, total, avg)
			return nil
		},
	}

	cmd.Flags().IntVarP(&iterations, "iterations", "n", 1, "number of times to run the pipeline")
	cmd.Flags().BoolVarP(&trace, "trace", "t", false, "record per-node latency histograms")
	return cmd
}
