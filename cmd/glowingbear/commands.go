// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lca1/glowing-bear/cmd/glowingbear/config"
	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/pkg/ux"
)

// skipConfigAnnotation marks commands that run without the config file.
const skipConfigAnnotation = "glowingbear/skip-config"

// cliOptions holds the persistent flags.
type cliOptions struct {
	configPath string
	output     string
	logLevel   string
}

// app is the state shared by every subcommand, set up before RunE.
type app struct {
	opts       cliOptions
	configPath string
	cfg        config.Config
	logger     *logging.Logger
	printer    *ux.Printer
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "glowingbear",
		Short: "Explore client of a federated i2b2 network",
		Long: `glowingbear queries every node of a federation for encrypted
patient counts, reverse maps saved panels into constraints and manages
the patient lists of saved cohorts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				a.logger.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.configPath, "config", "", "config file (default ~/.glowingbear/config.yaml)")
	flags.StringVarP(&a.opts.output, "output", "o", "auto", "output style: rich, plain or auto")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newQueryCmd(a),
		newReverseCmd(a),
		newCohortCmd(a),
		newServeCmd(a),
		newMockNodeCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup resolves the printer, the config and the logger for cmd.
func (a *app) setup(cmd *cobra.Command) error {
	a.printer = ux.NewPrinter(cmd.OutOrStdout(), outputLevel(a.opts.output, cmd.OutOrStdout()))

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		level, err := logging.ParseLevel(a.opts.logLevel)
		if err != nil {
			return &CommandError{Command: cmd.Name(), ExitCode: exitUsage, Wrapped: err}
		}
		a.logger = logging.New(logging.Config{Level: level, Service: "glowingbear-" + cmd.Name(), Output: cmd.ErrOrStderr()})
		return nil
	}

	path := a.opts.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return &CommandError{Command: cmd.Name(), ExitCode: exitUsage, Wrapped: err}
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return &CommandError{Command: cmd.Name(), ExitCode: exitUsage, Wrapped: err}
	}
	if a.opts.logLevel != "" {
		cfg.Logging.Level = a.opts.logLevel
	}

	lc := cfg.LoggerConfig("glowingbear-" + cmd.Name())
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return &CommandError{Command: cmd.Name(), ExitCode: exitUsage, Wrapped: err}
	}
	lc.Output = cmd.ErrOrStderr()

	a.configPath = path
	a.cfg = cfg
	a.logger = logging.New(lc)
	return nil
}

// outputLevel picks the printer level. "auto" is rich only on a terminal.
func outputLevel(flag string, w io.Writer) ux.Level {
	if level, ok := ux.ParseLevel(flag); ok {
		return level
	}
	if f, ok := w.(*os.File); ok {
		return ux.DetectLevel(f)
	}
	return ux.LevelPlain
}

// readInput returns the content of the file named by args[0], or stdin
// when no file or "-" is given.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}
