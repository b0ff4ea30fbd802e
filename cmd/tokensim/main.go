// Command tokensim runs the ring-based token-coherence memory simulator
// with synthetic traffic, either in batch mode or under the interactive
// monitor.
package main

import (
	"fmt"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/tokensim/config"
	"github.com/sarchlab/tokensim/tslog"
)

var (
	flagConfig   string
	flagBackend  string
	flagCycles   uint64
	flagClients  int
	flagOps      int
	flagSeed     int64
	flagVerbose  bool
	flagTraceDB  string
	flagMonitor  string
	flagInjected bool
	flagSample   string
)

func main() {
	root := &cobra.Command{
		Use:   "tokensim",
		Short: "Cycle-accurate many-core memory hierarchy simulator",
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "configuration file (key = value)")
	root.PersistentFlags().StringVarP(&flagBackend, "backend", "b", "cdma",
		"memory backend: cdma, zlcdma, banked, parallel, ddr")
	root.PersistentFlags().IntVar(&flagClients, "clients", 8, "number of synthetic clients")
	root.PersistentFlags().IntVar(&flagOps, "ops", 1000, "operations per client")
	root.PersistentFlags().Int64Var(&flagSeed, "seed", 1, "traffic seed")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVar(&flagTraceDB, "trace-db", "", "SQLite trace database path")
	root.PersistentFlags().StringVar(&flagMonitor, "http", "", "HTTP monitor listen address")
	root.PersistentFlags().BoolVar(&flagInjected, "injection", false, "enable cache injection (zlcdma)")
	root.PersistentFlags().StringVar(&flagSample, "sample", "", "write a TRF binary sample stream to this file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation to completion and print statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch()
		},
	}
	runCmd.Flags().Uint64Var(&flagCycles, "cycles", 0, "maximum master cycles (0 = until idle)")

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run under the interactive monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor()
		},
	}

	root.AddCommand(runCmd, monitorCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func newLogger() *tslog.Logger {
	level := logiface.LevelInformational
	if flagVerbose {
		level = logiface.LevelDebug
	}
	return tslog.New(os.Stderr, level)
}

func loadConfig() (*config.Store, error) {
	if flagConfig == "" {
		return config.NewStore(), nil
	}
	f, err := os.Open(flagConfig)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return config.Parse(f)
}
