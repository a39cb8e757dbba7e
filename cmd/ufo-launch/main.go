// Command ufo-launch parses a pipeline description and runs it to
// completion, the successor of the original engine's sublrun runner.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

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
		progress bool
		trace    bool
		showTime bool
		dumpPath string
		address  []string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:           "ufo-launch <pipeline description>",
		Short:         "Run a UFO pipeline description to completion",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc := args[0]
			for _, a := range args[1:] {
				desc += " " + a
			}

			log := zap.NewNop()
			if verbose || progress {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				log = l
			}
			defer log.Sync() //nolint:errcheck

			devices := 1
			if len(address) > 0 {
				log.Warn("remote worker dispatch requested but not supported; partitioning locally instead",
					zap.Strings("address", address))
				devices = len(address) + 1
			}

			g, stages, err := plugins.ParsePipeline(desc, plugins.Default)
			if err != nil {
				return err
			}

			if dumpPath != "" {
				if err := os.WriteFile(dumpPath, []byte(g.DumpDot()), 0o644); err != nil {
					return fmt.Errorf("write dot dump: %w", err)
				}
			}

			sched, err := scheduler.New(g, stages, scheduler.Options{
				Context: resources.NewSoftware(log),
				Log:     log,
				Trace:   trace,
				Devices: devices,
			})
			if err != nil {
				return err
			}

			start := time.Now()
			if progress {
				log.Info("starting pipeline", zap.Int("stages", len(stages)))
			}

			if err := sched.Run(context.Background()); err != nil {
				return err
			}

			if showTime {
				fmt.Printf("elapsed: %s\n", time.Since(start))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&progress, "progress", "p", false, "log pipeline start")
	flags.BoolVarP(&trace, "trace", "t", false, "record per-node latency histograms")
	flags.BoolVar(&showTime, "time", false, "print total elapsed time on exit")
	flags.StringVarP(&dumpPath, "dump", "d", "", "write the pipeline graph as Graphviz dot to this path")
	flags.StringArrayVarP(&address, "address", "a", nil, "remote worker address (recorded, not dispatched)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable development logging")

	return cmd
}
