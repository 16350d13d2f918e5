// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Validate the config file and print the federation",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			rows := make([][]string, len(a.cfg.Nodes))
			for i, n := range a.cfg.Nodes {
				rows[i] = []string{n.Name, n.URL}
			}
			a.printer.Title("Config " + a.configPath)
			a.printer.Table([]string{"node", "url"}, rows)
			a.printer.Box("user", a.cfg.User.Name+" ("+strings.Join(a.cfg.User.Roles, ", ")+")")
			a.printer.Box("query timeout", a.cfg.Query.Timeout.String())
			return nil
		},
	})
	return cfg
}
