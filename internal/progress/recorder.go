package progress

import (
	"context"
	"sync"

	"github.com/spherical-ai/finsight/internal/domain"
)

// Recorder keeps every event in memory and fans them out to subscribers.
// It backs local runs and tests.
type Recorder struct {
	mu     sync.RWMutex
	events map[string][]domain.ProgressEvent
	subs   map[string][]chan domain.ProgressEvent
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		events: make(map[string][]domain.ProgressEvent),
		subs:   make(map[string][]chan domain.ProgressEvent),
	}
}

func (r *Recorder) Publish(ctx context.Context, ev domain.ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[ev.TaskID] = append(r.events[ev.TaskID], ev)
	for _, ch := range r.subs[ev.TaskID] {
		select {
		case ch <- ev:
		default:
			// slow subscriber; it can still read Latest
		}
	}
	if ev.State.IsTerminal() {
		for _, ch := range r.subs[ev.TaskID] {
			close(ch)
		}
		delete(r.subs, ev.TaskID)
	}
	return nil
}

// Events returns a copy of every event published for taskID.
func (r *Recorder) Events(taskID string) []domain.ProgressEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ProgressEvent, len(r.events[taskID]))
	copy(out, r.events[taskID])
	return out
}

// Latest returns the last event published for taskID.
func (r *Recorder) Latest(ctx context.Context, taskID string) (domain.ProgressEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	evs := r.events[taskID]
	if len(evs) == 0 {
		return domain.ProgressEvent{}, ErrNotFound
	}
	return evs[len(evs)-1], nil
}

// Subscribe returns a channel receiving the task's future events. It is
// closed after the terminal event or when cancel is called.
func (r *Recorder) Subscribe(taskID string) (<-chan domain.ProgressEvent, func()) {
	ch := make(chan domain.ProgressEvent, 16)

	r.mu.Lock()
	r.subs[taskID] = append(r.subs[taskID], ch)
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			subs := r.subs[taskID]
			for i, c := range subs {
				if c == ch {
					r.subs[taskID] = append(subs[:i], subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
	return ch, cancel
}
