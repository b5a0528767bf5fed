// Package pipeline sequences the stages of a document run: materialize,
// extract text, resolve the type, extract structured data, compile reports
// and cache the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/finsight/internal/artifact"
	"github.com/spherical-ai/finsight/internal/classify"
	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/fingerprint"
	"github.com/spherical-ai/finsight/internal/observability"
	"github.com/spherical-ai/finsight/internal/progress"
	"github.com/spherical-ai/finsight/internal/report"
	"github.com/spherical-ai/finsight/internal/resultcache"
	"github.com/spherical-ai/finsight/internal/structured"
)

// Dependencies are the collaborators of an Orchestrator. They are fixed at
// construction and shared by every run.
type Dependencies struct {
	Artifacts  artifact.Store
	Text       domain.TextExtractor
	Classifier domain.Classifier
	Selector   *structured.Selector
	Reports    *report.Registry
	Cache      *resultcache.Cache
	Progress   progress.Channel
	Logger     *observability.Logger

	// Optional hooks for tests.
	NewRunID func() string
	Clock    func() time.Time
}

// Config tunes run behavior.
type Config struct {
	// CacheLookup serves a cached result for a known fingerprint without
	// running the stages. Off by default: a resubmission recomputes and
	// overwrites the entry.
	CacheLookup bool
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{CacheLookup: false}
}

// Orchestrator runs submissions through the pipeline. It is safe for
// concurrent use; each Run owns its own state.
type Orchestrator struct {
	deps   Dependencies
	config Config
	logger *observability.Logger
}

// New validates deps and fills defaults for the optional ones.
func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	if deps.Artifacts == nil {
		return nil, errors.New("artifact store is required")
	}
	if deps.Text == nil {
		return nil, errors.New("text extractor is required")
	}
	if deps.Selector == nil {
		return nil, errors.New("structured selector is required")
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.Unavailable{}
	}
	if deps.Reports == nil {
		deps.Reports = report.NewRegistry()
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	deps.Progress = progress.NewMonotonic(deps.Progress)
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	return &Orchestrator{
		deps:   deps,
		config: cfg,
		logger: deps.Logger.WithOperation("pipeline"),
	}, nil
}

// run is the mutable state of one execution.
type run struct {
	taskID    string
	runID     string
	sub       domain.Submission
	logger    *observability.Logger
	stage     domain.Stage
	progress  int
	startedAt time.Time
	resolved  domain.DocumentType
	cacheKey  string
	cacheHit  bool
}

// Run executes one submission to a terminal record. It never panics and
// always returns exactly one of a result or a failure. The terminal progress
// event is published after the artifact has been released.
func (o *Orchestrator) Run(ctx context.Context, taskID string, sub domain.Submission) domain.Record {
	r := &run{
		taskID:    taskID,
		runID:     o.deps.NewRunID(),
		sub:       sub,
		startedAt: o.deps.Clock(),
	}
	if r.taskID == "" {
		r.taskID = r.runID
	}
	r.logger = o.logger.WithRun(r.taskID, r.runID)

	r.logger.Info().
		Str("filename", sub.Filename).
		Str("declared_type", sub.DeclaredType).
		Msg("Starting document processing")

	rec := o.execute(ctx, r)
	return o.finish(ctx, r, rec)
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (rec domain.Record) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Str("stage", string(r.stage)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic in pipeline run")
			rec = o.failure(r, domain.InternalError(fmt.Sprintf("panic: %v", p), nil))
		}
	}()

	o.advance(ctx, r, domain.StageReceived)
	o.advance(ctx, r, domain.StageMaterializing)
	handle, err := o.deps.Artifacts.Materialize(ctx, r.runID, r.sub)
	if err != nil {
		return o.failure(r, err)
	}
	defer o.release(ctx, r, handle)

	return o.process(ctx, r, handle)
}

func (o *Orchestrator) process(ctx context.Context, r *run, handle artifact.Handle) domain.Record {
	content, err := handle.Bytes(ctx)
	if err != nil {
		return o.failure(r, domain.InternalError("read artifact", err))
	}
	digest := fingerprint.Fingerprint(content)

	declared, hasDeclared := o.declaredType(r)
	lookupKey := fingerprint.CacheKey(digest, declared)

	if o.config.CacheLookup {
		if lookup := o.deps.Cache.Get(ctx, lookupKey); lookup.Hit {
			r.cacheKey, r.cacheHit = lookupKey, true
			r.resolved = lookup.Result.DocumentType
			result := *lookup.Result
			result.Filename = r.sub.Filename
			r.logger.Info().Str("cache_key", lookupKey).Msg("Serving cached result")
			return domain.Record{Result: &result}
		} else if lookup.Degraded() {
			r.logger.Warn().Err(lookup.Err).Str("stage", string(r.stage)).Msg("Cache lookup degraded to miss")
		}
	}

	o.advance(ctx, r, domain.StageTextExtracting)
	text, err := o.deps.Text.ExtractText(ctx, handle)
	if err != nil {
		var de *domain.DomainError
		if !errors.As(err, &de) {
			err = domain.ExtractionError("text extraction failed", err)
		}
		return o.failure(r, err)
	}
	r.logger.Info().Int("chars", len(text)).Msg("Text extracted")

	if hasDeclared {
		r.resolved = declared
	} else {
		o.advance(ctx, r, domain.StageClassifying)
		r.resolved = o.classify(ctx, r, text).Value
	}

	o.advance(ctx, r, domain.StageStructuredExtracting)
	sel, err := o.deps.Selector.Select(r.resolved, text)
	if err != nil {
		return o.failure(r, err)
	}
	if sel.Via != structured.ByType {
		r.logger.Info().
			Str("resolved_type", string(r.resolved)).
			Str("selected_type", string(sel.Type)).
			Str("via", sel.Via).
			Str("rule", sel.Rule).
			Msg("Structured extractor chosen by fallback")
	}
	r.resolved = sel.Type

	record, err := sel.Extractor.ExtractStructured(ctx, text)
	if err != nil {
		if domain.KindOf(err) != domain.KindStructuredExtraction {
			err = domain.StructuredExtractionError(sel.Type, err)
		}
		return o.failure(r, err)
	}
	if record == nil {
		record = domain.StructuredRecord{}
	}

	o.advance(ctx, r, domain.StageReportCompiling)
	reports := o.compile(ctx, r, record, text).Value

	o.advance(ctx, r, domain.StageCaching)
	result := &domain.Result{
		ExtractedData: record,
		Reports:       reports,
		DocumentType:  r.resolved,
		Filename:      r.sub.Filename,
	}

	r.cacheKey = fingerprint.CacheKey(digest, r.resolved)
	o.store(ctx, r, r.cacheKey, result)
	if lookupKey != r.cacheKey {
		o.store(ctx, r, lookupKey, result)
	}

	return domain.Record{Result: result}
}

// declaredType normalizes the submission's type hint. ok is false when no
// hint was given; a hint outside the enumeration resolves to unknown.
func (o *Orchestrator) declaredType(r *run) (domain.DocumentType, bool) {
	if strings.TrimSpace(r.sub.DeclaredType) == "" {
		return "", false
	}
	t, known := domain.ParseDocumentType(r.sub.DeclaredType)
	if !known {
		r.logger.Warn().Str("declared_type", r.sub.DeclaredType).Msg("Declared type is not recognized, using unknown")
	}
	return t, true
}

func (o *Orchestrator) store(ctx context.Context, r *run, key string, result *domain.Result) {
	if err := o.deps.Cache.Put(ctx, key, result); err != nil {
		r.logger.Warn().Err(err).Str("stage", string(r.stage)).Str("cache_key", key).Msg("Result not cached")
	}
}

func (o *Orchestrator) release(ctx context.Context, r *run, h artifact.Handle) {
	if err := o.deps.Artifacts.Release(context.WithoutCancel(ctx), h); err != nil {
		r.logger.Warn().Err(err).Str("artifact", h.Name()).Msg("Could not release artifact")
		return
	}
	r.logger.Debug().Str("artifact", h.Name()).Msg("Released artifact")
}

func (o *Orchestrator) failure(r *run, err error) domain.Record {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		err = domain.InternalError("unhandled error", err)
	}
	return domain.Record{Failure: domain.NewFailure(err)}
}

// advance moves the run to stage and publishes the event. Publication
// failures, panics included, are logged and never affect the run.
func (o *Orchestrator) advance(ctx context.Context, r *run, stage domain.Stage) {
	r.stage = stage
	if pct, ok := stage.Percent(); ok && pct > r.progress {
		r.progress = pct
	}
	o.publish(ctx, r, nil)
}

func (o *Orchestrator) publish(ctx context.Context, r *run, rec *domain.Record) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Str("stage", string(r.stage)).
				Interface("panic", p).
				Msg("Recovered panic in progress publisher")
		}
	}()

	ev := domain.ProgressEvent{
		TaskID:    r.taskID,
		RunID:     r.runID,
		State:     r.stage,
		Progress:  r.progress,
		Status:    r.stage.StatusMessage(),
		Result:    rec,
		Timestamp: o.deps.Clock(),
	}
	send := func() {
		if err := o.deps.Progress.Publish(ctx, ev); err != nil {
			r.logger.Warn().Err(err).Str("stage", string(r.stage)).Msg("Failed to publish progress")
		}
	}
	if ev.State.IsTerminal() {
		if !progress.Commit(ctx, r.taskID, send) {
			r.logger.Warn().Str("stage", string(r.stage)).Msg("Run was abandoned, terminal event dropped")
		}
		return
	}
	if progress.Revoked(ctx) {
		return
	}
	send()
}

func (o *Orchestrator) finish(ctx context.Context, r *run, rec domain.Record) domain.Record {
	rec.TaskID = r.taskID
	rec.RunID = r.runID
	rec.CacheKey = r.cacheKey
	rec.CacheHit = r.cacheHit
	rec.StartedAt = r.startedAt

	r.stage = rec.Stage()
	if rec.Succeeded() {
		r.progress = 100
	}
	rec.Progress = r.progress
	rec.FinishedAt = o.deps.Clock()

	o.publish(context.WithoutCancel(ctx), r, &rec)

	duration := rec.FinishedAt.Sub(rec.StartedAt)
	if rec.Succeeded() {
		r.logger.Info().
			Str("document_type", string(rec.Result.DocumentType)).
			Bool("cache_hit", rec.CacheHit).
			Dur("duration", duration).
			Msg("Task completed successfully")
	} else {
		r.logger.Error().
			Str("stage", string(domain.StageFailed)).
			Str("error_type", string(rec.Failure.ErrorType)).
			Str("error", rec.Failure.Error).
			Int("progress", rec.Progress).
			Dur("duration", duration).
			Msg("Task failed")
	}
	return rec
}
