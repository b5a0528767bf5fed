package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue with the same reservation semantics as
// RedisQueue. It backs local runs and tests.
type MemoryQueue struct {
	mu       sync.Mutex
	opts     Options
	pending  []Task
	inflight map[string]*Delivery
	dead     []Task
	notify   chan struct{}
	now      func() time.Time
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:     opts.withDefaults(),
		inflight: make(map[string]*Delivery),
		notify:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

// SetClock overrides the time source for testing.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryQueue) Enqueue(_ context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	q.pending = append(q.pending, t)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if d := q.take(); d != nil {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrQueueEmpty
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) take() *Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		q.wake()
	}
	d := &Delivery{Task: t, Deadline: q.now().Add(q.opts.Visibility), receipt: t.ID}
	q.inflight[d.receipt] = d
	return d
}

func (q *MemoryQueue) Ack(_ context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[d.receipt]; !ok {
		return errors.New("delivery is not reserved")
	}
	delete(q.inflight, d.receipt)
	return nil
}

func (q *MemoryQueue) Reclaim(_ context.Context) (int, error) {
	q.mu.Lock()
	now := q.now()
	moved := 0
	for key, d := range q.inflight {
		if d.Deadline.After(now) {
			continue
		}
		delete(q.inflight, key)
		next, retry := requeued(d.Task, q.opts.MaxAttempts)
		if !retry {
			q.dead = append(q.dead, next)
			continue
		}
		q.pending = append(q.pending, next)
		moved++
	}
	q.mu.Unlock()
	if moved > 0 {
		q.wake()
	}
	return moved, nil
}

func (q *MemoryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

// InFlight returns the number of reserved tasks.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Dead returns the tasks that ran out of attempts.
func (q *MemoryQueue) Dead() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Task(nil), q.dead...)
}
