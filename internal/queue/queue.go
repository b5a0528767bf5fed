package queue

import (
	"context"
	"time"
)

// DefaultVisibility is how long a dequeued task may stay unacknowledged
// before Reclaim hands it to another worker. It exceeds the worker's hard
// time limit.
const DefaultVisibility = 35 * time.Minute

// DefaultMaxAttempts is how many deliveries a task gets before it is moved
// to the dead list.
const DefaultMaxAttempts = 3

// Delivery is a dequeued task awaiting Ack.
type Delivery struct {
	Task     Task
	Deadline time.Time

	receipt string
}

// Queue is a reliable task queue: a dequeued task stays reserved until it
// is acknowledged, and Reclaim returns expired reservations for redelivery.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	// Dequeue blocks up to timeout. It returns ErrQueueEmpty when nothing
	// arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Reclaim requeues reservations past their deadline and returns how
	// many it moved.
	Reclaim(ctx context.Context) (int, error)
	Len(ctx context.Context) (int64, error)
}

// Options tune a queue.
type Options struct {
	Name        string
	Visibility  time.Duration
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.Visibility <= 0 {
		o.Visibility = DefaultVisibility
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// requeued returns the wire form of t for its next delivery and whether it
// still has attempts left.
func requeued(t Task, maxAttempts int) (Task, bool) {
	t.Attempts++
	return t, t.Attempts < maxAttempts
}
