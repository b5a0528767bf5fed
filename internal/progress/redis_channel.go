package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spherical-ai/finsight/internal/cache"
	"github.com/spherical-ai/finsight/internal/domain"
)

// DefaultStatusTTL is how long the last status of a task stays readable.
const DefaultStatusTTL = time.Hour

// Publisher fans out messages on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Subscriber receives messages from a named channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// StatusKey is where the latest event of a task is stored.
func StatusKey(taskID string) string {
	return cache.CacheKey("task", taskID, "status")
}

// EventsChannel is the pub/sub channel carrying a task's events.
func EventsChannel(taskID string) string {
	return cache.CacheKey("task", taskID, "events")
}

// RedisChannel stores the latest event of each task under StatusKey and
// broadcasts every event on EventsChannel.
type RedisChannel struct {
	kv  cache.Client
	pub Publisher
	ttl time.Duration
}

// NewRedisChannel creates a channel over kv. pub may be nil, in which case
// events are only stored.
func NewRedisChannel(kv cache.Client, pub Publisher, ttl time.Duration) *RedisChannel {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &RedisChannel{kv: kv, pub: pub, ttl: ttl}
}

func (c *RedisChannel) Publish(ctx context.Context, ev domain.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if err := c.kv.Set(ctx, StatusKey(ev.TaskID), data, c.ttl); err != nil {
		return fmt.Errorf("store task status: %w", err)
	}
	if c.pub != nil {
		if err := c.pub.Publish(ctx, EventsChannel(ev.TaskID), json.RawMessage(data)); err != nil {
			return fmt.Errorf("publish task event: %w", err)
		}
	}
	return nil
}

// Latest reads the stored status of taskID.
func (c *RedisChannel) Latest(ctx context.Context, taskID string) (domain.ProgressEvent, error) {
	data, err := c.kv.Get(ctx, StatusKey(taskID))
	if errors.Is(err, cache.ErrCacheMiss) {
		return domain.ProgressEvent{}, ErrNotFound
	}
	if err != nil {
		return domain.ProgressEvent{}, fmt.Errorf("read task status: %w", err)
	}
	return DecodeEvent(data)
}

// DecodeEvent parses a stored or broadcast event.
func DecodeEvent(data []byte) (domain.ProgressEvent, error) {
	var ev domain.ProgressEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return domain.ProgressEvent{}, fmt.Errorf("decode progress event: %w", err)
	}
	return ev, nil
}

// Watch streams decoded events of taskID until the terminal event, ctx
// cancellation or a subscription failure.
func Watch(ctx context.Context, sub Subscriber, taskID string) (<-chan domain.ProgressEvent, error) {
	raw, unsubscribe, err := sub.Subscribe(ctx, EventsChannel(taskID))
	if err != nil {
		return nil, err
	}

	out := make(chan domain.ProgressEvent, 16)
	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				ev, err := DecodeEvent(msg)
				if err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.State.IsTerminal() {
					return
				}
			}
		}
	}()
	return out, nil
}
