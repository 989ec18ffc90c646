// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/authd-dev/authd/internal/config"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g, cmd.Flags())
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err //nolint:wrapcheck // write to stdout
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := config.Schema()
			if err != nil {
				return err //nolint:wrapcheck // coded by config
			}
			_, err = cmd.OutOrStdout().Write(append(out, '\n'))
			return err //nolint:wrapcheck // write to stdout
		},
	})

	return cmd
}
