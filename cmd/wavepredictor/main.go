package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/wavepredictor/boatrace"
	"github.com/wavepredictor/boatrace/pkg/config"
)

var version = "dev"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        *config.Config
	logger     zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "wavepredictor",
		Short:         "Boat race predictions from the command line",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cfg.Log, cmd.ErrOrStderr())
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newVenuesCmd(a),
		newRacesCmd(a),
		newPredictionCmd(a),
		newEntriesCmd(a),
		newStatusCmd(a),
		newReportCmd(a),
		newScheduleCmd(a),
		newRecomputeCmd(a),
		newWatchCmd(a),
	)
	return root
}

// client builds an API client from the loaded config.
func (a *app) client(opts ...boatrace.Option) *boatrace.Client {
	all := append(a.cfg.ClientOptions(), boatrace.WithLogger(a.logger))
	return boatrace.NewClient(a.cfg.API.BaseURL, append(all, opts...)...)
}
