// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/xdg"
)

// globalFlags are available to all subcommands.
type globalFlags struct {
	configFile string
	envFile    string
}

// NewRootCmd creates the root command for the authd CLI.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "authd",
		Short: "authd - account authentication service",
		Long: `authd issues and rotates access and refresh tokens, verifies passwords
and one-time codes, and keeps the session records behind them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadDotenv(flags.envFile)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/authd/config.yaml)")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded into the environment when present")

	cmd.AddCommand(NewServeCmd(flags))
	cmd.AddCommand(NewMigrateCmd(flags))
	cmd.AddCommand(NewConfigCmd(flags))

	return cmd
}

// loadConfig reads the config file named by --config, or the one in the XDG
// config directory, and applies the command's changed flags and the
// environment on top.
func loadConfig(g *globalFlags, fs *pflag.FlagSet) (*config.Config, error) {
	path := g.configFile
	if path == "" {
		found, err := xdg.FindConfig()
		if err != nil {
			return nil, err //nolint:wrapcheck // coded by xdg
		}
		path = found
	}
	return config.Load(path, fs) //nolint:wrapcheck // coded by config
}
