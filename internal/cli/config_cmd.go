// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-research/internal/config"
)

func newConfigCommand(a *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:         "config",
		Short:       "Show or change configuration",
		Annotations: map[string]string{annotationNoSession: ""},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(out(cmd), a.cfg.String())
			return nil
		},
	}
	cfgCmd.RunE = show.RunE

	cfgCmd.AddCommand(
		show,
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path := a.flags.configPath
				if path == "" {
					p, err := config.ConfigPathTOML()
					if err != nil {
						return err
					}
					path = p
				}
				fmt.Fprintln(out(cmd), path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one setting",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := a.cfg.Get(args[0])
				if err != nil {
					return &UsageError{Message: err.Error()}
				}
				fmt.Fprintln(out(cmd), v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one setting in the config file",
			Example: `  research config set server.url https://research.example.com
  research config set auth.public_paths /login,/status`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg := a.cfg
				if err := cfg.Set(args[0], args[1]); err != nil {
					return &UsageError{Message: err.Error()}
				}
				if err := cfg.Validate(); err != nil {
					return &ConfigError{Err: err}
				}
				var err error
				if a.flags.configPath != "" {
					err = config.SaveTOML(cfg, a.flags.configPath)
				} else {
					err = config.Save(cfg)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out(cmd), SuccessStyle.Render("Set "+args[0]))
				return nil
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List every setting name",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				for _, k := range config.AllKeys() {
					fmt.Fprintln(out(cmd), k)
				}
				return nil
			},
		},
	)
	return cfgCmd
}
