package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spherical-ai/finsight/internal/observability"
)

// RedisQueue keeps pending tasks in a list, reserved tasks in a processing
// list, and reservation deadlines in a sorted set.
//
//	<name>             pending, LPUSH in, BLMOVE out
//	<name>:processing  reserved entries
//	<name>:inflight    zset of reserved entries scored by deadline (unix ms)
//	<name>:dead        entries that ran out of attempts
type RedisQueue struct {
	rdb    *redis.Client
	opts   Options
	logger *observability.Logger
	now    func() time.Time
}

// adoptScript sets a deadline for an entry only while it is still reserved,
// so an entry acked after the scan is not resurrected.
var adoptScript = redis.NewScript(`
if redis.call('LPOS', KEYS[1], ARGV[2]) then
  return redis.call('ZADD', KEYS[2], 'NX', ARGV[1], ARGV[2])
end
return 0
`)

// requeueScript moves a reserved entry to KEYS[2] as ARGV[2]. An entry no
// longer in the processing list was acked and is left alone.
var requeueScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) > 0 then
  redis.call('LPUSH', KEYS[2], ARGV[2])
  return 1
end
return 0
`)

// NewRedisQueue creates a queue over rdb.
func NewRedisQueue(rdb *redis.Client, opts Options, logger *observability.Logger) *RedisQueue {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisQueue{
		rdb:    rdb,
		opts:   opts.withDefaults(),
		logger: logger.WithOperation("queue"),
		now:    time.Now,
	}
}

func (q *RedisQueue) pendingKey() string    { return q.opts.Name }
func (q *RedisQueue) processingKey() string { return q.opts.Name + ":processing" }
func (q *RedisQueue) inflightKey() string   { return q.opts.Name + ":inflight" }
func (q *RedisQueue) deadKey() string       { return q.opts.Name + ":dead" }

// Name is the pending list key.
func (q *RedisQueue) Name() string {
	return q.opts.Name
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	data, err := Encode(t)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.pendingKey(), data).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", t.ID, err)
	}
	q.logger.Debug().Str("task_id", t.ID).Str("kind", string(t.Kind)).Msg("Task enqueued")
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.rdb.BLMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	deadline := q.now().Add(q.opts.Visibility)
	if err := q.rdb.ZAdd(ctx, q.inflightKey(), redis.Z{Score: score(deadline), Member: raw}).Err(); err != nil {
		// The entry stays in the processing list; Reclaim adopts it.
		q.logger.Warn().Err(err).Msg("Could not record reservation deadline")
	}

	t, err := Decode([]byte(raw))
	if err != nil {
		q.remove(ctx, raw)
		return nil, err
	}
	return &Delivery{Task: t, Deadline: deadline, receipt: raw}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(), 1, d.receipt)
		pipe.ZRem(ctx, q.inflightKey(), d.receipt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack task %s: %w", d.Task.ID, err)
	}
	return nil
}

func (q *RedisQueue) Reclaim(ctx context.Context) (int, error) {
	if err := q.adoptOrphans(ctx); err != nil {
		return 0, err
	}

	expired, err := q.rdb.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(score(q.now()), 'f', 0, 64),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan reservations: %w", err)
	}

	moved := 0
	for _, raw := range expired {
		// ZREM decides ownership when several workers reclaim at once.
		n, err := q.rdb.ZRem(ctx, q.inflightKey(), raw).Result()
		if err != nil {
			return moved, fmt.Errorf("claim reservation: %w", err)
		}
		if n == 0 {
			continue
		}

		t, err := Decode([]byte(raw))
		if err != nil {
			q.remove(ctx, raw)
			continue
		}
		next, retry := requeued(t, q.opts.MaxAttempts)
		data, err := Encode(next)
		if err != nil {
			return moved, err
		}

		target := q.pendingKey()
		if !retry {
			target = q.deadKey()
		}
		ok, err := requeueScript.Run(ctx, q.rdb, []string{q.processingKey(), target}, raw, data).Int()
		if err != nil {
			return moved, fmt.Errorf("requeue task %s: %w", t.ID, err)
		}
		if ok == 0 {
			q.logger.Debug().Str("task_id", t.ID).Msg("Expired reservation was already acked")
			continue
		}

		if retry {
			moved++
			q.logger.Warn().Str("task_id", t.ID).Int("attempts", next.Attempts).Msg("Reclaimed expired task")
		} else {
			q.logger.Error().Str("task_id", t.ID).Int("attempts", next.Attempts).Msg("Task exhausted its attempts, moved to dead list")
		}
	}
	return moved, nil
}

// adoptOrphans gives a deadline to processing entries that have none, which
// happens when a worker dies between BLMOVE and ZADD.
func (q *RedisQueue) adoptOrphans(ctx context.Context) error {
	entries, err := q.rdb.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scan processing list: %w", err)
	}
	deadline := score(q.now().Add(q.opts.Visibility))
	keys := []string{q.processingKey(), q.inflightKey()}
	for _, raw := range entries {
		if err := adoptScript.Run(ctx, q.rdb, keys, deadline, raw).Err(); err != nil {
			return fmt.Errorf("adopt orphan: %w", err)
		}
	}
	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.pendingKey()).Result()
}

func (q *RedisQueue) remove(ctx context.Context, raw string) {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(), 1, raw)
		pipe.ZRem(ctx, q.inflightKey(), raw)
		return nil
	})
	if err != nil {
		q.logger.Warn().Err(err).Msg("Could not drop malformed task")
		return
	}
	q.logger.Warn().Msg("Dropped malformed task")
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
