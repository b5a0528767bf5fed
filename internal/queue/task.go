// Package queue carries processing tasks from intake to workers with
// at-least-once delivery.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/finsight/internal/domain"
)

// DefaultName is the queue every task kind is routed to.
const DefaultName = "document_processing"

// Kind selects how a worker handles a task.
type Kind string

const (
	KindProcessDocument   Kind = "process_document"
	KindProcessGSTFiles   Kind = "process_gst_files"
	KindProcessAuditFiles Kind = "process_audit_files"
)

var (
	// ErrQueueEmpty is returned by Dequeue when no task arrived in time.
	ErrQueueEmpty = errors.New("queue empty")
	// ErrMalformedTask marks an entry that could not be decoded. The entry
	// has already been removed from the queue.
	ErrMalformedTask = errors.New("malformed task")
)

// ParseKind accepts a kind with or without a "_task" suffix and with
// dashes or underscores.
func ParseKind(s string) (Kind, bool) {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.ReplaceAll(k, "-", "_")
	k = strings.TrimSuffix(k, "_task")
	switch Kind(k) {
	case KindProcessDocument, KindProcessGSTFiles, KindProcessAuditFiles:
		return Kind(k), true
	}
	switch k {
	case "gst", "gst_files":
		return KindProcessGSTFiles, true
	case "audit", "audit_files":
		return KindProcessAuditFiles, true
	}
	return "", false
}

// IsBatch reports whether k processes a list of submissions.
func (k Kind) IsBatch() bool {
	return k == KindProcessGSTFiles || k == KindProcessAuditFiles
}

// Task is one unit of queued work.
type Task struct {
	ID          string              `json:"id"`
	Kind        Kind                `json:"kind"`
	Submissions []domain.Submission `json:"submissions"`
	EnqueuedAt  time.Time           `json:"enqueued_at"`
	Attempts    int                 `json:"attempts"`
}

// NewDocumentTask wraps a single submission.
func NewDocumentTask(sub domain.Submission) Task {
	return Task{
		ID:          uuid.NewString(),
		Kind:        KindProcessDocument,
		Submissions: []domain.Submission{sub},
		EnqueuedAt:  time.Now().UTC(),
	}
}

// NewBatchTask wraps subs under a batch kind.
func NewBatchTask(kind Kind, subs []domain.Submission) (Task, error) {
	t := Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		Submissions: subs,
		EnqueuedAt:  time.Now().UTC(),
	}
	return t, t.Validate()
}

// Validate checks the task shape.
func (t Task) Validate() error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	switch {
	case t.Kind == KindProcessDocument:
		if len(t.Submissions) != 1 {
			return fmt.Errorf("%s takes exactly one submission, got %d", t.Kind, len(t.Submissions))
		}
	case t.Kind.IsBatch():
		if len(t.Submissions) == 0 {
			return fmt.Errorf("%s needs at least one submission", t.Kind)
		}
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	for i, s := range t.Submissions {
		if s.Filename == "" {
			return fmt.Errorf("submission %d: filename is required", i)
		}
	}
	return nil
}

// Encode serializes t for the wire.
func Encode(t Task) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return data, nil
}

// Decode parses and validates a wire task.
func Decode(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	if err := t.Validate(); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	return t, nil
}
