package main

import (
	"context"
	"os"
	"os/signal"

	areaverde "github.com/H4miiiid/Ethisc-in-AI-Unibo-Project"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func simulateCommand() *cobra.Command {
	var cadence string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate one day per seed over the road network",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cadence != "" {
				cfg.Simulation.Cadence, err = areaverde.ParseCadence(cadence)
				if err != nil {
					return err
				}
			}
			logger := cfg.Logger()

			net, err := areaverde.LoadNetwork(cfg.Network.Nodes, cfg.Network.Links)
			if err != nil {
				return errors.Wrap(err, "Can't load network")
			}
			sources, err := cfg.DemandSources()
			if err != nil {
				return err
			}
			runner, err := areaverde.NewRunner(net, sources, cfg.RunnerOptions(logger)...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			manifest, err := runner.Run(ctx)
			if manifest != nil {
				for _, result := range manifest.Seeds {
					logger.WithField("seed", result.Seed).Infof("Emitted %d vehicles, resumed %d platoons, wrote %d files", result.Emitted, result.Resumed, len(result.Files))
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&cadence, "cadence", "", "Override the cadence: continuous, hourly-carryover or hourly-independent")
	return cmd
}
