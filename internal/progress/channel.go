// Package progress carries ordered progress events from pipeline runs to
// whoever is watching them.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spherical-ai/finsight/internal/domain"
)

// ErrNotFound is returned when no event has been published for a task.
var ErrNotFound = errors.New("no progress for task")

// ErrRegression is returned when an event would move a run backwards.
var ErrRegression = errors.New("progress regression")

// Channel accepts progress events in publication order.
type Channel interface {
	Publish(ctx context.Context, ev domain.ProgressEvent) error
}

// StatusReader returns the most recent event of a task.
type StatusReader interface {
	Latest(ctx context.Context, taskID string) (domain.ProgressEvent, error)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, domain.ProgressEvent) error { return nil }

// Tee publishes every event to each channel in turn.
type Tee []Channel

func (t Tee) Publish(ctx context.Context, ev domain.ProgressEvent) error {
	var errs []error
	for _, c := range t {
		if err := c.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to a Channel.
type Func func(ctx context.Context, ev domain.ProgressEvent) error

func (f Func) Publish(ctx context.Context, ev domain.ProgressEvent) error { return f(ctx, ev) }

// Monotonic rejects events that lower a run's progress or move it to an
// earlier stage. Runs are told apart by run ID; a terminal event ends
// tracking for its run.
type Monotonic struct {
	next Channel

	mu   sync.Mutex
	last map[string]domain.ProgressEvent
}

// NewMonotonic wraps next.
func NewMonotonic(next Channel) *Monotonic {
	return &Monotonic{next: next, last: make(map[string]domain.ProgressEvent)}
}

func (m *Monotonic) Publish(ctx context.Context, ev domain.ProgressEvent) error {
	m.mu.Lock()
	prev, seen := m.last[ev.RunID]
	if seen && (ev.Progress < prev.Progress || ev.State.Order() < prev.State.Order()) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s@%d after %s@%d", ErrRegression, ev.State, ev.Progress, prev.State, prev.Progress)
	}
	if ev.State.IsTerminal() {
		delete(m.last, ev.RunID)
	} else {
		m.last[ev.RunID] = domain.ProgressEvent{State: ev.State, Progress: ev.Progress}
	}
	m.mu.Unlock()

	return m.next.Publish(ctx, ev)
}
