// Command grader replays historical candles through an external prediction
// service, grades every signal against the bars that followed and trades it
// on a simulated ledger. The live subcommand runs the same pipeline on a timer.
//
// Usage:
//
//	grader backtest --config grader.yaml
//	grader live
//	grader fetch --from 2025-03-17 --to 2025-04-07
//	grader report --limit 20
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"signal-grader/config"
	"signal-grader/internal/logger"
)

const version = "v0.4.0"

// app is shared by the subcommands once the root pre-run has loaded config.
type app struct {
	cfg *config.Config
	log zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		cfgPath  string
		logLevel string
		pretty   bool
	)

	root := &cobra.Command{
		Use:           "grader",
		Short:         "Grade trading signals from a prediction service against market data",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if cmd.Flags().Changed("pretty") {
				cfg.Log.Pretty = pretty
			}
			a.cfg = cfg
			a.log = logger.Init("grader", logger.Options{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&pretty, "pretty", false, "Human-readable console logs")

	root.AddCommand(
		newBacktestCmd(a),
		newLiveCmd(a),
		newFetchCmd(a),
		newReportCmd(a),
	)
	return root
}
