package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/finsight/internal/bootstrap"
	"github.com/spherical-ai/finsight/internal/progress"
	"github.com/spherical-ai/finsight/internal/storage"
)

var runsLimit int

var statusCmd = &cobra.Command{
	Use:   "status TASK_ID",
	Short: "Show the latest state of a task",
	Long: `Show the latest progress event of a task. Once the status entry has
expired the ledger row of its most recent run is shown instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs from the ledger",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ui := NewUI(jsonMode, noColor)
	taskID := args[0]

	app, err := openApp(ctx, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	ev, err := app.Status.Latest(ctx, taskID)
	if err == nil {
		return printEvent(ui, ev)
	}
	if !errors.Is(err, progress.ErrNotFound) {
		return err
	}

	run, err := app.Runs.LatestForTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("task %s not found", taskID)
	}
	if err != nil {
		return err
	}
	return printRun(ui, run)
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ui := NewUI(jsonMode, noColor)

	app, err := openApp(ctx, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	runs, err := app.Runs.ListRecent(ctx, runsLimit)
	if err != nil {
		return err
	}
	if jsonMode {
		return printJSON(ui, runs)
	}
	if len(runs) == 0 {
		ui.Info("No runs recorded")
		return nil
	}
	ui.Section("Recent runs")
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-9s  %-20s  %s", r.StartedAt.Local().Format(time.DateTime), r.Status, r.DocumentType, r.Filename)
		if r.Status == storage.RunStatusFailed {
			ui.Error("%s (%s)", line, r.ErrorType)
			continue
		}
		ui.Success("%s", line)
	}
	return nil
}

func printRun(ui *UI, run *storage.Run) error {
	if jsonMode {
		return printJSON(ui, run)
	}
	ui.Section("Run " + run.ID)
	ui.KeyValue("Task", run.TaskID)
	ui.KeyValue("File", run.Filename)
	ui.KeyValue("Status", run.Status)
	if run.DocumentType != "" {
		ui.KeyValue("Type", run.DocumentType)
	}
	if run.ErrorType != "" {
		ui.KeyValue("Error type", run.ErrorType)
		ui.KeyValue("Error", run.ErrorMessage)
	}
	ui.KeyValue("Cache hit", run.CacheHit)
	ui.KeyValue("Started", run.StartedAt.Local().Format(time.DateTime))
	if run.FinishedAt != nil {
		ui.KeyValue("Duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	return nil
}
