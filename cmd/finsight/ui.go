package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UI provides user-friendly terminal output.
type UI struct {
	out      io.Writer
	err      io.Writer
	jsonMode bool
}

// NewUI creates a UI. In JSON mode only machine-readable output is written
// to stdout.
func NewUI(jsonMode, noColor bool) *UI {
	if noColor {
		color.NoColor = true
	}
	return &UI{out: os.Stdout, err: os.Stderr, jsonMode: jsonMode}
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgGreen).Fprintf(ui.out, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Error prints an error message to stderr.
func (ui *UI) Error(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(ui.err, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgYellow).Fprintf(ui.err, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Info prints an informational message.
func (ui *UI) Info(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgCyan).Fprintf(ui.out, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgMagenta, color.Bold).Fprintf(ui.out, "━━━ %s ━━━\n", strings.ToUpper(title))
}

// KeyValue prints an aligned key/value line.
func (ui *UI) KeyValue(key string, value interface{}) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgYellow).Fprintf(ui.out, "  %-14s ", key+":")
	fmt.Fprintf(ui.out, "%v\n", value)
}

// Print writes raw text to stdout.
func (ui *UI) Print(s string) {
	fmt.Fprint(ui.out, s)
}

// ProgressBar tracks a single run from 0 to 100.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBar creates a percent bar on stderr.
func (ui *UI) NewProgressBar(description string) *ProgressBar {
	w := ui.err
	if ui.jsonMode {
		w = io.Discard
	}
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &ProgressBar{bar: bar}
}

// Update moves the bar to pct and shows status.
func (p *ProgressBar) Update(pct int, status string) {
	p.bar.Describe(status)
	_ = p.bar.Set(pct)
}

// Finish completes the bar.
func (p *ProgressBar) Finish() {
	_ = p.bar.Finish()
}

// Spinner shows indeterminate progress while waiting on a queued task.
type Spinner struct {
	spinner *spinner.Spinner
	enabled bool
}

// NewSpinner creates a spinner with message.
func (ui *UI) NewSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = ui.err
	return &Spinner{spinner: s, enabled: !ui.jsonMode}
}

// Start starts the spinner animation.
func (s *Spinner) Start() {
	if s.enabled {
		s.spinner.Start()
	}
}

// Update replaces the spinner message.
func (s *Spinner) Update(message string) {
	s.spinner.Lock()
	s.spinner.Suffix = " " + message
	s.spinner.Unlock()
}

// Stop stops the spinner and clears the line.
func (s *Spinner) Stop() {
	if s.enabled {
		s.spinner.Stop()
	}
}

// MultiProgress renders one bar per file of a local batch.
type MultiProgress struct {
	progress *mpb.Progress
}

// NewMultiProgress creates a bar group on stderr.
func (ui *UI) NewMultiProgress() *MultiProgress {
	w := ui.err
	if ui.jsonMode {
		w = io.Discard
	}
	return &MultiProgress{progress: mpb.New(mpb.WithWidth(40), mpb.WithOutput(w))}
}

// FileBar is the bar of one file.
type FileBar struct {
	bar    *mpb.Bar
	status *string
}

// AddFile adds a bar for name.
func (m *MultiProgress) AddFile(name string) *FileBar {
	status := "queued"
	fb := &FileBar{status: &status}
	fb.bar = m.progress.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.Percentage(decor.WC{W: 5}),
		),
		mpb.AppendDecorators(
			decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 8}),
			decor.Any(func(decor.Statistics) string { return " " + *fb.status }),
		),
	)
	return fb
}

// Update moves the bar to pct with status.
func (b *FileBar) Update(pct int, status string) {
	*b.status = status
	b.bar.SetCurrent(int64(pct))
}

// Done completes the bar, or aborts it in place when the run failed.
func (b *FileBar) Done(ok bool, status string) {
	*b.status = status
	if ok {
		b.bar.SetCurrent(100)
		return
	}
	b.bar.Abort(false)
}

// Wait blocks until every bar has finished rendering.
func (m *MultiProgress) Wait() {
	m.progress.Wait()
}
