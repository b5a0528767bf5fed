package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spherical-ai/finsight/internal/domain"
)

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("record not found")

// RunStatus is the terminal status stored for a run.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one row of the ledger.
type Run struct {
	ID           string              `json:"id" db:"id"`
	TaskID       string              `json:"task_id" db:"task_id"`
	Filename     string              `json:"filename" db:"filename"`
	DocumentType domain.DocumentType `json:"document_type,omitempty" db:"document_type"`
	Status       RunStatus           `json:"status" db:"status"`
	ErrorType    domain.ErrorKind    `json:"error_type,omitempty" db:"error_type"`
	ErrorMessage string              `json:"error_message,omitempty" db:"error_message"`
	CacheKey     string              `json:"cache_key,omitempty" db:"cache_key"`
	CacheHit     bool                `json:"cache_hit" db:"cache_hit"`
	Progress     int                 `json:"progress" db:"progress"`
	StartedAt    time.Time           `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty" db:"finished_at"`
}

// RunFromRecord builds the ledger row for a terminal record of a run on
// filename.
func RunFromRecord(rec domain.Record, filename string) *Run {
	run := &Run{
		ID:        rec.RunID,
		TaskID:    rec.TaskID,
		Filename:  filename,
		CacheKey:  rec.CacheKey,
		CacheHit:  rec.CacheHit,
		Progress:  rec.Progress,
		StartedAt: rec.StartedAt,
	}
	if !rec.FinishedAt.IsZero() {
		finished := rec.FinishedAt
		run.FinishedAt = &finished
	}
	if rec.Succeeded() {
		run.Status = RunStatusSucceeded
		run.DocumentType = rec.Result.DocumentType
	} else {
		run.Status = RunStatusFailed
		if rec.Failure != nil {
			run.ErrorType = rec.Failure.ErrorType
			run.ErrorMessage = rec.Failure.Error
		}
	}
	return run
}

// RunRepository handles ledger reads and writes.
type RunRepository struct {
	db DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, task_id, filename, document_type, status, error_type, error_message,
	cache_key, cache_hit, progress, started_at, finished_at`

// Record inserts run, or replaces the row with the same id.
func (r *RunRepository) Record(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	query := `
		INSERT INTO pipeline_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			task_id = excluded.task_id,
			filename = excluded.filename,
			document_type = excluded.document_type,
			status = excluded.status,
			error_type = excluded.error_type,
			error_message = excluded.error_message,
			cache_key = excluded.cache_key,
			cache_hit = excluded.cache_hit,
			progress = excluded.progress,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`
	var finished sql.NullTime
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.TaskID, run.Filename, string(run.DocumentType), string(run.Status),
		string(run.ErrorType), run.ErrorMessage, run.CacheKey, run.CacheHit, run.Progress,
		run.StartedAt.UTC(), finished,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// GetByID retrieves a run by its id.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id = $1`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// LatestForTask retrieves the most recent run of a task.
func (r *RunRepository) LatestForTask(ctx context.Context, taskID string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs
		WHERE task_id = $1 ORDER BY started_at DESC LIMIT 1`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRecent returns up to limit runs, newest first.
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run      Run
		docType  string
		status   string
		errType  string
		finished sql.NullTime
	)
	err := s.Scan(
		&run.ID, &run.TaskID, &run.Filename, &docType, &status, &errType, &run.ErrorMessage,
		&run.CacheKey, &run.CacheHit, &run.Progress, &run.StartedAt, &finished,
	)
	if err != nil {
		return nil, err
	}
	run.DocumentType = domain.DocumentType(docType)
	run.Status = RunStatus(status)
	run.ErrorType = domain.ErrorKind(errType)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
