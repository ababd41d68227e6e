package main

import (
	"fmt"
	"os"

	areaverde "github.com/H4miiiid/Ethisc-in-AI-Unibo-Project"
	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "areaverde",
		Short:         "Area Verde traffic demand simulation and behavioural model evaluation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "YAML configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	root.AddCommand(
		simulateCommand(),
		evaluateCommand(),
		convertCommand(),
		analyzeCommand(),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig falls back to the defaults when the default config file is absent
func loadConfig(cmd *cobra.Command) (areaverde.Config, error) {
	cfg := areaverde.DefaultConfig()
	if _, err := os.Stat(configFile); err == nil || cmd.Flags().Changed("config") {
		loaded, err := areaverde.LoadConfig(configFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}
