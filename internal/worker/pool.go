// Package worker consumes the task queue and runs each task through the
// pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/observability"
	"github.com/spherical-ai/finsight/internal/progress"
	"github.com/spherical-ai/finsight/internal/queue"
	"github.com/spherical-ai/finsight/internal/storage"
)

// Runner executes one submission to a terminal record.
type Runner interface {
	Run(ctx context.Context, taskID string, sub domain.Submission) domain.Record
}

// Ledger stores terminal records.
type Ledger interface {
	Record(ctx context.Context, run *storage.Run) error
}

// Config tunes a Pool.
type Config struct {
	Concurrency      int
	PollTimeout      time.Duration
	HardTimeLimit    time.Duration
	SoftTimeLimit    time.Duration
	ReclaimInterval  time.Duration
	BatchConcurrency int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Concurrency:      2,
		PollTimeout:      5 * time.Second,
		HardTimeLimit:    30 * time.Minute,
		SoftTimeLimit:    25 * time.Minute,
		ReclaimInterval:  time.Minute,
		BatchConcurrency: 4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.HardTimeLimit <= 0 {
		c.HardTimeLimit = d.HardTimeLimit
	}
	if c.SoftTimeLimit <= 0 || c.SoftTimeLimit > c.HardTimeLimit {
		c.SoftTimeLimit = c.HardTimeLimit
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = d.ReclaimInterval
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = d.BatchConcurrency
	}
	return c
}

// Stats counts task outcomes since the pool started.
type Stats struct {
	Succeeded int64
	Failed    int64
	Breached  int64
}

// Pool runs Concurrency consumers, each holding at most one task.
type Pool struct {
	queue  queue.Queue
	runner Runner
	ledger Ledger
	status progress.Channel
	cfg    Config
	logger *observability.Logger

	succeeded atomic.Int64
	failed    atomic.Int64
	breached  atomic.Int64
}

// NewPool creates a pool. ledger and status may be nil.
func NewPool(q queue.Queue, runner Runner, ledger Ledger, status progress.Channel, cfg Config, logger *observability.Logger) *Pool {
	if status == nil {
		status = progress.Nop{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Pool{
		queue:  q,
		runner: runner,
		ledger: ledger,
		status: status,
		cfg:    cfg.withDefaults(),
		logger: logger.WithOperation("worker"),
	}
}

// Stats returns a snapshot of the outcome counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Breached:  p.breached.Load(),
	}
}

// Run consumes tasks until ctx is cancelled. Tasks already taken finish
// before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info().
		Int("concurrency", p.cfg.Concurrency).
		Dur("hard_time_limit", p.cfg.HardTimeLimit).
		Msg("Worker pool started")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			p.consume(gctx, id)
			return nil
		})
	}
	g.Go(func() error {
		p.reclaimLoop(gctx)
		return nil
	})

	err := g.Wait()
	p.logger.Info().Msg("Worker pool stopped")
	return err
}

func (p *Pool) consume(ctx context.Context, id int) {
	logger := p.logger.With().Int("consumer", id).Logger()
	for ctx.Err() == nil {
		d, err := p.queue.Dequeue(ctx, p.cfg.PollTimeout)
		switch {
		case err == nil:
			p.handle(ctx, d)
		case errors.Is(err, queue.ErrQueueEmpty):
		case errors.Is(err, queue.ErrMalformedTask):
			logger.Warn().Err(err).Msg("Skipped malformed task")
		case ctx.Err() != nil:
			return
		default:
			logger.Error().Err(err).Msg("Dequeue failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.Reclaim(ctx)
			if err != nil {
				p.logger.Warn().Err(err).Msg("Reclaim failed")
			} else if n > 0 {
				p.logger.Info().Int("count", n).Msg("Requeued expired tasks")
			}
		}
	}
}

// ErrHardTimeLimit is the cancellation cause of a task that ran past the
// hard time limit.
var ErrHardTimeLimit = errors.New("hard time limit exceeded")

// handle runs one delivery under the time limits. The consumer stays busy
// until the runner returns, even after a breach. A breached task is left
// unacked for redelivery and its late outcome is dropped.
func (p *Pool) handle(parent context.Context, d *queue.Delivery) {
	logger := p.logger.WithTask(d.Task.ID)
	lease := progress.NewLease(d.Task.ID)
	ctx, cancel := context.WithCancelCause(progress.WithLease(context.WithoutCancel(parent), lease))
	defer cancel(nil)

	soft := time.AfterFunc(p.cfg.SoftTimeLimit, func() {
		logger.Warn().
			Str("kind", string(d.Task.Kind)).
			Dur("soft_time_limit", p.cfg.SoftTimeLimit).
			Msg("Task exceeded soft time limit")
	})
	defer soft.Stop()

	hard := time.AfterFunc(p.cfg.HardTimeLimit, func() {
		if !lease.Revoke() {
			return
		}
		p.breached.Add(1)
		logger.Error().
			Str("kind", string(d.Task.Kind)).
			Int("attempts", d.Task.Attempts).
			Dur("hard_time_limit", p.cfg.HardTimeLimit).
			Msg("Task exceeded hard time limit, cancelling it")
		cancel(ErrHardTimeLimit)
	})
	defer hard.Stop()

	p.Execute(ctx, d.Task)
	hard.Stop()

	if lease.Revoked() {
		logger.Warn().Msg("Abandoned task returned, leaving it for redelivery")
		return
	}
	if err := p.queue.Ack(context.WithoutCancel(parent), d); err != nil {
		logger.Warn().Err(err).Msg("Ack failed, task may be delivered again")
	}
}

// Execute runs task to completion without queue bookkeeping.
func (p *Pool) Execute(ctx context.Context, task queue.Task) {
	if task.Kind.IsBatch() {
		p.executeBatch(ctx, task)
		return
	}
	p.runOne(ctx, task.ID, task.Submissions[0])
}

func (p *Pool) runOne(ctx context.Context, taskID string, sub domain.Submission) domain.Record {
	rec := p.runner.Run(ctx, taskID, sub)
	if lease := progress.LeaseFrom(ctx); lease != nil && lease.Revoked() && !lease.Committed(taskID) {
		p.logger.WithTask(taskID).Debug().Msg("Dropped outcome of abandoned run")
		return rec
	}
	if rec.Succeeded() {
		p.succeeded.Add(1)
	} else {
		p.failed.Add(1)
	}
	if p.ledger != nil {
		if err := p.ledger.Record(context.WithoutCancel(ctx), storage.RunFromRecord(rec, sub.Filename)); err != nil {
			p.logger.WithRun(rec.TaskID, rec.RunID).Warn().Err(err).Msg("Could not record run in ledger")
		}
	}
	return rec
}

func (p *Pool) executeBatch(ctx context.Context, task queue.Task) {
	n := len(task.Submissions)
	p.publishBatch(ctx, task, domain.StageReceived, 0, fmt.Sprintf("Processing %d files...", n), nil)

	result := ProcessBatch(ctx, RunnerFunc(p.runOne), task.ID, task.Submissions, p.cfg.BatchConcurrency)

	if !p.publishBatch(ctx, task, domain.StageSucceeded, 100,
		fmt.Sprintf("Processed %d files", result.FilesProcessed), &result) {
		return
	}
	p.logger.WithTask(task.ID).Info().
		Str("kind", string(task.Kind)).
		Int("files_processed", result.FilesProcessed).
		Msg("Batch completed")
}

// publishBatch reports false when the batch was abandoned and the event
// dropped.
func (p *Pool) publishBatch(ctx context.Context, task queue.Task, stage domain.Stage, pct int, status string, result *domain.BatchResult) bool {
	ev := domain.ProgressEvent{
		TaskID:    task.ID,
		RunID:     task.ID,
		State:     stage,
		Progress:  pct,
		Status:    status,
		Batch:     result,
		Timestamp: time.Now(),
	}
	send := func() {
		if err := p.status.Publish(context.WithoutCancel(ctx), ev); err != nil {
			p.logger.WithTask(task.ID).Warn().Err(err).Msg("Failed to publish batch status")
		}
	}
	if stage.IsTerminal() {
		return progress.Commit(ctx, task.ID, send)
	}
	if progress.Revoked(ctx) {
		return false
	}
	send()
	return true
}
