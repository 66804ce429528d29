package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"docpipe/internal/api"
	"docpipe/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, worker lane and session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				stdout := cmd.OutOrStdout()
				renderStatus(stdout, *status, isTerminal(stdout))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status as JSON")
	return cmd
}

func renderStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	w := newReportWriter(out, colorize)

	w.section("System Status")
	if status.Running {
		w.line("Daemon", levelOK, "Running (pid "+strconv.Itoa(status.PID)+")")
	} else {
		w.line("Daemon", levelWarn, "Not started")
	}
	w.line("Database", levelInfo, status.DatabasePath)
	w.line("API", levelInfo, status.APIBind)
	if status.LogPath != "" {
		w.line("Log", levelInfo, status.LogPath)
	}
	w.line("Storage", levelInfo, status.Storage)
	w.line("Dispatch", levelInfo, status.Workflow.Mode)
	if status.Workflow.LastError != "" {
		w.line("Last error", levelError, status.Workflow.LastError)
	}
	if status.Workflow.LastSweep != "" {
		w.line("Last sweep", levelInfo, fmt.Sprintf("%s (%d reclaimed)", status.Workflow.LastSweep, status.Workflow.Reclaimed))
	}
	w.blank()

	w.section("Preflight")
	for _, check := range status.Checks {
		lvl := levelOK
		if !check.Passed {
			lvl = levelError
		}
		w.line(check.Name, lvl, check.Detail)
	}
	for _, line := range dependencyLines(w, status.Dependencies) {
		fmt.Fprintln(out, line)
	}
	w.blank()

	if len(status.Workflow.Lanes) > 0 {
		w.section("Worker Lanes")
		fmt.Fprint(out, renderTable([]string{"Lane", "State", "Session", "Handled"},
			buildLaneRows(status.Workflow.Lanes),
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
		w.blank()
		w.blank()
	}

	w.section("Sessions")
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, buildCountRows(status.Workflow.SessionStats),
		[]columnAlignment{alignLeft, alignRight}))
	w.blank()
	w.blank()

	w.section("Documents")
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, buildCountRows(status.Workflow.DocumentStats),
		[]columnAlignment{alignLeft, alignRight}))
	w.blank()
}

func dependencyLines(w *reportWriter, deps []api.DependencyStatus) []string {
	lines := make([]string, 0, len(deps))
	for _, dep := range deps {
		switch {
		case dep.Available && dep.Version != "":
			lines = append(lines, w.format(dep.Name, levelOK, "Ready ("+dep.Version+")"))
		case dep.Available:
			lines = append(lines, w.format(dep.Name, levelOK, "Ready"))
		default:
			lvl := levelError
			if dep.Optional {
				lvl = levelWarn
			}
			detail := dep.Detail
			if detail == "" {
				detail = "Not available"
			}
			lines = append(lines, w.format(dep.Name, lvl, detail))
		}
	}
	return lines
}
