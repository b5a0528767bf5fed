package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/finsight/internal/bootstrap"
	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/progress"
	"github.com/spherical-ai/finsight/internal/queue"
)

var (
	submitType    string
	submitWait    bool
	submitTimeout time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit FILE",
	Short: "Queue a document for the worker pool",
	Example: `  finsight submit statement.pdf --wait
  finsight submit payslip.docx --type salary_slip`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var batchCmd = &cobra.Command{
	Use:   "batch KIND FILE...",
	Short: "Queue several files as one batch task",
	Long: `Queue a batch task. KIND is process_gst_files or process_audit_files
(gst and audit are accepted). Each file becomes its own run, and the batch
reports how many files were processed.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runBatch,
}

func init() {
	submitCmd.Flags().StringVarP(&submitType, "type", "t", "", "declared document type (skips classification)")
	for _, c := range []*cobra.Command{submitCmd, batchCmd} {
		c.Flags().BoolVarP(&submitWait, "wait", "w", false, "wait for the task to finish")
		c.Flags().DurationVar(&submitTimeout, "timeout", 30*time.Minute, "how long --wait waits")
	}
}

func runSubmit(cmd *cobra.Command, args []string) error {
	sub, err := readSubmission(args[0], submitType)
	if err != nil {
		return err
	}
	return enqueue(cmd.Context(), queue.NewDocumentTask(sub))
}

func runBatch(cmd *cobra.Command, args []string) error {
	kind, ok := queue.ParseKind(args[0])
	if !ok || !kind.IsBatch() {
		return fmt.Errorf("unknown batch kind %q", args[0])
	}
	subs, err := readSubmissions(args[1:], "")
	if err != nil {
		return err
	}
	task, err := queue.NewBatchTask(kind, subs)
	if err != nil {
		return err
	}
	return enqueue(cmd.Context(), task)
}

func enqueue(ctx context.Context, task queue.Task) error {
	ui := NewUI(jsonMode, noColor)
	app, err := openApp(ctx, bootstrap.Options{SkipLedger: true})
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Config.Queue.Driver != "redis" {
		return errors.New("submit needs a shared queue: set REDIS_URL or queue.driver: redis")
	}
	if err := app.Queue.Enqueue(ctx, task); err != nil {
		return err
	}

	if !submitWait {
		if jsonMode {
			return printJSON(ui, map[string]string{"task_id": task.ID, "kind": string(task.Kind)})
		}
		ui.Success("Queued %s", task.ID)
		ui.KeyValue("Kind", task.Kind)
		ui.KeyValue("Files", len(task.Submissions))
		return nil
	}

	ev, err := waitForTask(ctx, ui, app, task.ID, submitTimeout)
	if err != nil {
		return err
	}
	return printEvent(ui, ev)
}

// waitForTask blocks until taskID reaches a terminal state. It follows the
// event stream when pub/sub is wired and polls the status store otherwise.
func waitForTask(ctx context.Context, ui *UI, app *bootstrap.App, taskID string, timeout time.Duration) (domain.ProgressEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	spin := ui.NewSpinner("Waiting for " + taskID)
	spin.Start()
	defer spin.Stop()

	var events <-chan domain.ProgressEvent
	if app.Events != nil {
		if ch, err := progress.Watch(ctx, app.Events, taskID); err == nil {
			events = ch
		}
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.ProgressEvent{}, fmt.Errorf("waiting for %s: %w", taskID, ctx.Err())
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			spin.Update(fmt.Sprintf("%s %d%%", ev.Status, ev.Progress))
			if ev.State.IsTerminal() {
				return ev, nil
			}
		case <-ticker.C:
			ev, err := app.Status.Latest(ctx, taskID)
			if errors.Is(err, progress.ErrNotFound) {
				continue
			}
			if err != nil {
				return domain.ProgressEvent{}, err
			}
			spin.Update(fmt.Sprintf("%s %d%%", ev.Status, ev.Progress))
			if ev.State.IsTerminal() {
				return ev, nil
			}
		}
	}
}

func printEvent(ui *UI, ev domain.ProgressEvent) error {
	if jsonMode {
		return printJSON(ui, ev)
	}
	ui.Section("Task " + ev.TaskID)
	ui.KeyValue("State", ev.State)
	ui.KeyValue("Progress", fmt.Sprintf("%d%%", ev.Progress))
	ui.KeyValue("Status", ev.Status)
	if ev.Batch != nil {
		ui.KeyValue("Files", ev.Batch.FilesProcessed)
	}
	if ev.Result != nil {
		printRecord(ui, resultFilename(ev.Result), ev.Result)
	}
	return nil
}

func resultFilename(rec *domain.Record) string {
	if rec.Result != nil {
		return rec.Result.Filename
	}
	return "document"
}

func printJSON(ui *UI, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	ui.Print(string(out) + "\n")
	return nil
}
