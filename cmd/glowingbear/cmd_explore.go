// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lca1/glowing-bear/pkg/extensions"
	"github.com/lca1/glowing-bear/pkg/validation"
	"github.com/lca1/glowing-bear/services/explore/alerts"
	"github.com/lca1/glowing-bear/services/explore/cohorts"
	"github.com/lca1/glowing-bear/services/explore/constraint"
	"github.com/lca1/glowing-bear/services/explore/i2b2"
	"github.com/lca1/glowing-bear/services/explore/query"
)

// =============================================================================
// query
// =============================================================================

func newQueryCmd(a *app) *cobra.Command {
	var sameInstance, showPatients bool

	cmd := &cobra.Command{
		Use:   "query [constraint.json|-]",
		Short: "Run an explore query on every node",
		Long: `Reads a constraint document and sends it to every node of the
federation. Each node answers with its patient count encrypted for this
run's ephemeral key; the counts are decrypted locally.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return &CommandError{Command: "query", ExitCode: exitUsage, Wrapped: err}
			}
			return wrapCommandError("query", a.runQuery(cmd.Context(), data, sameInstance, showPatients))
		},
	}
	cmd.Flags().BoolVar(&sameInstance, "same-instance", false, "require all panels to match the same observation instance")
	cmd.Flags().BoolVar(&showPatients, "patients", false, "also print the decrypted patient IDs")
	return cmd
}

func (a *app) runQuery(ctx context.Context, data []byte, sameInstance, showPatients bool) error {
	c, err := constraint.Decode(data)
	if err != nil {
		return err
	}

	e, err := newExplorer(a.cfg, a.logger, nil)
	if err != nil {
		return err
	}
	defer e.close()

	q := query.NewExploreQuery(c, sameInstance)
	results, err := e.query.ExploreQuery(ctx, q)
	if err != nil {
		return err
	}

	header := []string{"node", "count"}
	if showPatients {
		header = append(header, "patients")
	}
	rows := make([][]string, 0, len(results)+1)
	var total int64
	for _, r := range results {
		counts, err := e.keys.DecryptIntegers(ctx, []string{r.Result.EncryptedCount})
		if err != nil {
			return fmt.Errorf("decrypt count of %s: %w", r.Node.Name, err)
		}
		total += counts[0]
		row := []string{r.Node.Name, strconv.FormatInt(counts[0], 10)}
		if showPatients {
			ids, err := e.keys.DecryptIntegers(ctx, r.Result.EncryptedPatientList)
			if err != nil {
				return fmt.Errorf("decrypt patients of %s: %w", r.Node.Name, err)
			}
			row = append(row, joinIDs(ids))
		}
		rows = append(rows, row)
	}

	a.printer.Title("Explore query " + q.ID)
	a.printer.Table(header, rows)
	a.printer.Box("total", strconv.FormatInt(total, 10))
	return nil
}

// =============================================================================
// reverse
// =============================================================================

// reverseInput is the panels document read by the reverse command.
type reverseInput struct {
	Panels []i2b2.Panel `json:"panels"`
}

func newReverseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reverse [panels.json|-]",
		Short: "Rebuild a constraint from saved query panels",
		Long: `Reads {"panels": [...]} as stored with a saved query and prints the
constraint document it describes. Concepts are looked up on the nodes.
Panels holding encrypted items cannot be mapped back.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return &CommandError{Command: "reverse", ExitCode: exitUsage, Wrapped: err}
			}
			return wrapCommandError("reverse", a.runReverse(cmd, data))
		},
	}
}

func (a *app) runReverse(cmd *cobra.Command, data []byte) error {
	var in reverseInput
	if err := json.Unmarshal(data, &in); err != nil {
		return &CommandError{Command: "reverse", ExitCode: exitUsage, Wrapped: fmt.Errorf("parse panels: %w", err)}
	}

	e, err := newExplorer(a.cfg, a.logger, nil)
	if err != nil {
		return err
	}
	defer e.close()

	c, err := e.reverse.MapPanels(cmd.Context(), in.Panels, nil, nil)
	if err != nil {
		return err
	}
	for _, alert := range e.alerts.Alerts() {
		if alert.Severity != alerts.SeverityInfo {
			a.printer.Warning(alert.Message)
		}
	}
	if c == nil {
		a.printer.Warning("no panels to map")
		return nil
	}

	raw, err := constraint.Encode(c)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.String())
	return nil
}

// =============================================================================
// cohort
// =============================================================================

func newCohortCmd(a *app) *cobra.Command {
	cohort := &cobra.Command{
		Use:   "cohort",
		Short: "Work with saved cohorts",
	}

	var showPatients bool
	list := &cobra.Command{
		Use:   "list <name>",
		Short: "Fetch and decrypt the patient list of a cohort",
		Long: `Asks every node for the patient list of a saved cohort and decrypts
it locally. Requires the patient_list role.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wrapCommandError("cohort list", a.runCohortList(cmd.Context(), args[0], showPatients))
		},
	}
	list.Flags().BoolVar(&showPatients, "patients", false, "print the patient IDs")

	cohort.AddCommand(list)
	return cohort
}

func (a *app) runCohortList(ctx context.Context, name string, showPatients bool) error {
	name, err := validation.SanitizeCohortName(name)
	if err != nil {
		return &CommandError{Command: "cohort list", ExitCode: exitUsage, Wrapped: err}
	}

	e, err := newExplorer(a.cfg, a.logger, nil)
	if err != nil {
		return err
	}
	defer e.close()

	session := a.cfg.AuthInfo()
	svc := e.newCohorts(&session, extensions.NewLogAuditLogger(a.logger))
	defer svc.Close()

	updates, cancel := svc.StatusNotifier(name).Subscribe()
	lists, err := svc.GetList(ctx, name)
	drainStatuses(a, name, updates)
	cancel()
	if err != nil {
		return err
	}
	if lists == nil {
		a.printer.Warning("a request for " + name + " is already running")
		return nil
	}

	header := []string{"node", "patients"}
	if showPatients {
		header = append(header, "ids")
	}
	rows := make([][]string, len(lists.Nodes))
	for i, n := range lists.Nodes {
		rows[i] = []string{n.Name, strconv.Itoa(len(lists.Lists[i]))}
		if showPatients {
			rows[i] = append(rows[i], joinIDs(lists.Lists[i]))
		}
	}
	a.printer.Title("Cohort " + name)
	a.printer.Table(header, rows)
	return nil
}

// drainStatuses prints the transitions already delivered on updates.
func drainStatuses(a *app, name string, updates <-chan cohorts.OperationStatus) {
	for {
		select {
		case st, ok := <-updates:
			if !ok {
				return
			}
			a.printer.Status(name, string(st))
		default:
			return
		}
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
