package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vishwatch/internal/config"
)

type rootOptions struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "vishwatch",
		Short:         "Scam call monitor for the vishing detection dashboard",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a yaml or json config file")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config")

	root.AddCommand(
		newServeCmd(opts),
		newPollCmd(opts),
		newSummaryCmd(opts),
	)
	return root
}

// loadConfig reads env files and the config file, falling back to defaults
// plus environment when no file is given.
func loadConfig(opts *rootOptions) (*config.Manager, error) {
	if err := config.LoadEnvFiles(opts.envFiles...); err != nil {
		return nil, err
	}
	m, err := config.NewManager(config.ResolvePath(opts.configPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return m, nil
}
