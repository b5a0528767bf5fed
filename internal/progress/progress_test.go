package progress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/finsight/internal/cache"
	"github.com/spherical-ai/finsight/internal/domain"
)

func event(task string, stage domain.Stage, pct int) domain.ProgressEvent {
	return domain.ProgressEvent{
		TaskID:   task,
		RunID:    "run-" + task,
		State:    stage,
		Progress: pct,
		Status:   stage.StatusMessage(),
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	_, err := r.Latest(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	sub, cancel := r.Subscribe("t1")
	defer cancel()

	require.NoError(t, r.Publish(ctx, event("t1", domain.StageTextExtracting, 10)))
	require.NoError(t, r.Publish(ctx, event("t1", domain.StageSucceeded, 100)))
	require.NoError(t, r.Publish(ctx, event("t2", domain.StageReceived, 0)))

	evs := r.Events("t1")
	require.Len(t, evs, 2)
	assert.Equal(t, domain.StageTextExtracting, evs[0].State)

	latest, err := r.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 100, latest.Progress)

	var got []domain.Stage
	for ev := range sub {
		got = append(got, ev.State)
	}
	assert.Equal(t, []domain.Stage{domain.StageTextExtracting, domain.StageSucceeded}, got)
}

func TestRecorder_CancelClosesSubscription(t *testing.T) {
	r := NewRecorder()
	sub, cancel := r.Subscribe("t1")
	cancel()
	cancel()
	_, ok := <-sub
	assert.False(t, ok)
	assert.NoError(t, r.Publish(context.Background(), event("t1", domain.StageReceived, 0)))
}

func TestMonotonic(t *testing.T) {
	rec := NewRecorder()
	m := NewMonotonic(rec)
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, event("t", domain.StageReceived, 0)))
	require.NoError(t, m.Publish(ctx, event("t", domain.StageStructuredExtracting, 40)))

	err := m.Publish(ctx, event("t", domain.StageClassifying, 20))
	assert.ErrorIs(t, err, ErrRegression)

	err = m.Publish(ctx, event("t", domain.StageFailed, 10))
	assert.ErrorIs(t, err, ErrRegression)

	require.NoError(t, m.Publish(ctx, event("t", domain.StageFailed, 40)))
	assert.Len(t, rec.Events("t"), 3)

	// a fresh run of the same task starts over
	next := event("t", domain.StageReceived, 0)
	next.RunID = "run-t-2"
	assert.NoError(t, m.Publish(ctx, next))
}

type failingChannel struct{}

func (failingChannel) Publish(context.Context, domain.ProgressEvent) error {
	return errors.New("down")
}

func TestTee(t *testing.T) {
	rec := NewRecorder()
	err := Tee{rec, failingChannel{}, Nop{}}.Publish(context.Background(), event("t", domain.StageReceived, 0))
	assert.EqualError(t, err, "down")
	assert.Len(t, rec.Events("t"), 1)
}

type memPubSub struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func (p *memPubSub) Publish(_ context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}
	for _, ch := range p.subs[channel] {
		ch <- raw
	}
	return nil
}

func (p *memPubSub) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs == nil {
		p.subs = make(map[string][]chan []byte)
	}
	ch := make(chan []byte, 16)
	p.subs[channel] = append(p.subs[channel], ch)
	return ch, func() {}, nil
}

func TestRedisChannel_StoreAndLatest(t *testing.T) {
	mem := cache.NewMemoryClient(0)
	defer mem.Close()
	c := NewRedisChannel(mem, nil, 0)
	ctx := context.Background()

	_, err := c.Latest(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	final := event("t1", domain.StageFailed, 10)
	final.Result = &domain.Record{Failure: domain.NewFailure(domain.DecodeError("bad base64", nil))}
	require.NoError(t, c.Publish(ctx, event("t1", domain.StageTextExtracting, 10)))
	require.NoError(t, c.Publish(ctx, final))

	latest, err := c.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageFailed, latest.State)
	require.NotNil(t, latest.Result)
	require.NotNil(t, latest.Result.Failure)
	assert.Equal(t, domain.KindDecode, latest.Result.Failure.ErrorType)
	assert.Equal(t, "task:t1:status", StatusKey("t1"))
}

func TestRedisChannel_StatusExpires(t *testing.T) {
	mem := cache.NewMemoryClient(0)
	defer mem.Close()
	now := time.Now()
	mem.SetClock(func() time.Time { return now })

	c := NewRedisChannel(mem, nil, time.Hour)
	require.NoError(t, c.Publish(context.Background(), event("t1", domain.StageSucceeded, 100)))

	now = now.Add(61 * time.Minute)
	_, err := c.Latest(context.Background(), "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWatch(t *testing.T) {
	ps := &memPubSub{}
	mem := cache.NewMemoryClient(0)
	defer mem.Close()
	c := NewRedisChannel(mem, ps, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, err := Watch(ctx, ps, "t1")
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, event("t1", domain.StageClassifying, 20)))
	require.NoError(t, c.Publish(ctx, event("t1", domain.StageSucceeded, 100)))

	var got []int
	for ev := range events {
		got = append(got, ev.Progress)
	}
	assert.Equal(t, []int{20, 100}, got)
}

func TestLease(t *testing.T) {
	t.Run("revoked lease drops outcomes", func(t *testing.T) {
		l := NewLease("t1")
		require.True(t, l.Revoke())

		ran := false
		assert.False(t, l.Commit("t1", func() { ran = true }))
		assert.False(t, ran)
		assert.False(t, l.Committed("t1"))
		assert.True(t, l.Revoked())
	})

	t.Run("settled lease cannot be revoked", func(t *testing.T) {
		l := NewLease("t1")
		assert.True(t, l.Commit("t1", func() {}))
		assert.False(t, l.Revoke())
		assert.False(t, l.Revoked())
		assert.True(t, l.Committed("t1"))
	})

	t.Run("batch items do not settle the lease", func(t *testing.T) {
		l := NewLease("b")
		assert.True(t, l.Commit("b-0", func() {}))
		assert.True(t, l.Revoke())
		assert.True(t, l.Committed("b-0"))
		assert.False(t, l.Committed("b-1"))
	})

	t.Run("context helpers", func(t *testing.T) {
		ran := false
		assert.True(t, Commit(context.Background(), "t", func() { ran = true }))
		assert.True(t, ran)
		assert.False(t, Revoked(context.Background()))

		l := NewLease("t")
		ctx := WithLease(context.Background(), l)
		assert.Same(t, l, LeaseFrom(ctx))
		l.Revoke()
		assert.True(t, Revoked(ctx))
		assert.False(t, Commit(ctx, "t", func() { t.Fatal("published after revoke") }))
	})
}
