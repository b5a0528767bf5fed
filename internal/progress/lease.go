package progress

import (
	"context"
	"sync"
)

type leaseState int

const (
	leaseHeld leaseState = iota
	leaseSettled
	leaseRevoked
)

// Lease is a worker's claim on the outcome of a task. While held, runs of
// the task publish normally. Once the worker revokes it, for example when
// the hard time limit fires, further events of the task are dropped so a
// redelivered attempt is the only one that reports a terminal state.
type Lease struct {
	taskID string

	mu        sync.Mutex
	state     leaseState
	committed map[string]bool
}

// NewLease creates a held lease for taskID.
func NewLease(taskID string) *Lease {
	return &Lease{taskID: taskID, committed: make(map[string]bool)}
}

// Commit runs publish unless the lease was revoked and reports whether it
// ran. Committing the lease's own task settles it, after which Revoke has
// no effect.
func (l *Lease) Commit(taskID string, publish func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == leaseRevoked {
		return false
	}
	publish()
	l.committed[taskID] = true
	if taskID == l.taskID {
		l.state = leaseSettled
	}
	return true
}

// Revoke takes the lease back. It returns false when the task already
// settled.
func (l *Lease) Revoke() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == leaseSettled {
		return false
	}
	l.state = leaseRevoked
	return true
}

// Revoked reports whether the lease was taken back.
func (l *Lease) Revoked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == leaseRevoked
}

// Committed reports whether a terminal outcome for taskID was published
// under the lease.
func (l *Lease) Committed(taskID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed[taskID]
}

type leaseKey struct{}

// WithLease attaches l to ctx.
func WithLease(ctx context.Context, l *Lease) context.Context {
	return context.WithValue(ctx, leaseKey{}, l)
}

// LeaseFrom returns the lease attached to ctx, or nil.
func LeaseFrom(ctx context.Context) *Lease {
	l, _ := ctx.Value(leaseKey{}).(*Lease)
	return l
}

// Commit publishes a terminal outcome under the lease in ctx. Without a
// lease publish always runs.
func Commit(ctx context.Context, taskID string, publish func()) bool {
	if l := LeaseFrom(ctx); l != nil {
		return l.Commit(taskID, publish)
	}
	publish()
	return true
}

// Revoked reports whether the lease in ctx was taken back.
func Revoked(ctx context.Context) bool {
	l := LeaseFrom(ctx)
	return l != nil && l.Revoked()
}
