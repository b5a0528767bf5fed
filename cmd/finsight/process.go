package main

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/finsight/internal/bootstrap"
	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/progress"
	"github.com/spherical-ai/finsight/internal/queue"
)

var (
	processType        string
	processConcurrency int
	processOutputDir   string
)

var processCmd = &cobra.Command{
	Use:   "process FILE...",
	Short: "Process documents in this process and print the results",
	Long: `Run the full pipeline on one or more local files without a queue.
Each run is recorded in the ledger like a queued run.`,
	Example: `  finsight process statement.pdf
  finsight process --type gst_return gstr3b-*.pdf --output-dir out/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processType, "type", "t", "", "declared document type (skips classification)")
	processCmd.Flags().IntVar(&processConcurrency, "concurrency", 2, "files processed at once")
	processCmd.Flags().StringVarP(&processOutputDir, "output-dir", "o", "", "write one JSON result per file into this directory")
}

// processedFile pairs a file with its terminal record.
type processedFile struct {
	TaskID   string         `json:"task_id"`
	Filename string         `json:"filename"`
	Result   *domain.Record `json:"result"`
}

func runProcess(cmd *cobra.Command, args []string) error {
	ui := NewUI(jsonMode, noColor)
	ctx := cmd.Context()

	subs, err := readSubmissions(args, processType)
	if err != nil {
		return err
	}

	rec := progress.NewRecorder()
	app, err := openApp(ctx, bootstrap.Options{Progress: rec})
	if err != nil {
		return err
	}
	defer app.Close()

	if !app.Config.LLMEnabled() {
		ui.Warning("OPENROUTER_API_KEY is not set: only cached documents can succeed")
	}

	files := make([]processedFile, len(subs))
	if len(subs) == 1 {
		files[0] = processSingle(ctx, ui, app, rec, subs[0])
	} else {
		files = processMany(ctx, ui, app, rec, subs)
	}

	if processOutputDir != "" {
		if err := writeResults(processOutputDir, files); err != nil {
			return err
		}
	}

	if jsonMode {
		out, err := json.MarshalIndent(files, "", "  ")
		if err != nil {
			return err
		}
		ui.Print(string(out) + "\n")
	} else {
		for _, f := range files {
			printRecord(ui, f.Filename, f.Result)
		}
	}

	failed := 0
	for _, f := range files {
		if f.Result == nil || !f.Result.Succeeded() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(files))
	}
	return nil
}

// runTracked executes sub and reports each event to onEvent until the run is
// terminal.
func runTracked(ctx context.Context, app *bootstrap.App, rec *progress.Recorder, sub domain.Submission, onEvent func(domain.ProgressEvent)) processedFile {
	task := queue.NewDocumentTask(sub)
	events, cancel := rec.Subscribe(task.ID)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			onEvent(ev)
		}
	}()

	app.Pool.Execute(ctx, task)
	cancel()
	<-done

	pf := processedFile{TaskID: task.ID, Filename: sub.Filename}
	if last, err := rec.Latest(ctx, task.ID); err == nil {
		pf.Result = last.Result
	}
	return pf
}

func processSingle(ctx context.Context, ui *UI, app *bootstrap.App, rec *progress.Recorder, sub domain.Submission) processedFile {
	bar := ui.NewProgressBar(sub.Filename)
	pf := runTracked(ctx, app, rec, sub, func(ev domain.ProgressEvent) {
		bar.Update(ev.Progress, ev.Status)
	})
	bar.Finish()
	return pf
}

func processMany(ctx context.Context, ui *UI, app *bootstrap.App, rec *progress.Recorder, subs []domain.Submission) []processedFile {
	mp := ui.NewMultiProgress()
	bars := make([]*FileBar, len(subs))
	for i, sub := range subs {
		bars[i] = mp.AddFile(sub.Filename)
	}

	files := make([]processedFile, len(subs))
	g := new(errgroup.Group)
	g.SetLimit(processConcurrency)
	for i, sub := range subs {
		g.Go(func() error {
			pf := runTracked(ctx, app, rec, sub, func(ev domain.ProgressEvent) {
				bars[i].Update(ev.Progress, ev.Status)
			})
			ok := pf.Result != nil && pf.Result.Succeeded()
			status := "done"
			if !ok {
				status = "failed"
			}
			bars[i].Done(ok, status)
			files[i] = pf
			return nil
		})
	}
	_ = g.Wait()
	mp.Wait()
	return files
}

func writeResults(dir string, files []processedFile) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, f := range files {
		if f.Result == nil {
			continue
		}
		data, err := json.MarshalIndent(f.Result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result for %s: %w", f.Filename, err)
		}
		name := strings.TrimSuffix(f.Filename, filepath.Ext(f.Filename)) + ".json"
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write result for %s: %w", f.Filename, err)
		}
	}
	return nil
}

// printRecord prints a human summary of a terminal record.
func printRecord(ui *UI, filename string, rec *domain.Record) {
	switch {
	case rec == nil:
		ui.Error("%s: no result", filename)
	case rec.Succeeded():
		ui.Success("%s", filename)
		ui.KeyValue("Type", rec.Result.DocumentType)
		ui.KeyValue("Fields", len(rec.Result.ExtractedData))
		ui.KeyValue("Reports", strings.Join(slices.Sorted(maps.Keys(rec.Result.Reports)), ", "))
		if rec.CacheHit {
			ui.KeyValue("Cache", "hit")
		}
	default:
		ui.Error("%s: %s", filename, rec.Failure.ErrorType)
		ui.KeyValue("Error", rec.Failure.Error)
	}
}
