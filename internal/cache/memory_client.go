package cache

import (
	"context"
	"sync"
	"time"
)

const (
	defaultMaxEntries = 10000
	sweepInterval     = time.Minute
	subscriberBuffer  = 64
)

// MemoryClient is the single-process store: an expiring map plus in-process
// pub/sub, so local runs get the same status and event behavior as Redis.
type MemoryClient struct {
	mu         sync.RWMutex
	entries    map[string]memEntry
	maxEntries int
	now        func() time.Time

	subMu sync.Mutex
	subs  map[string]map[chan []byte]struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// NewMemoryClient creates a store holding at most maxEntries keys.
func NewMemoryClient(maxEntries int) *MemoryClient {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	c := &MemoryClient{
		entries:    make(map[string]memEntry),
		maxEntries: maxEntries,
		now:        time.Now,
		subs:       make(map[string]map[chan []byte]struct{}),
		stop:       make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// SetClock replaces the time source. Tests use it to step past expiry.
func (c *MemoryClient) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *MemoryClient) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired(c.now()) {
		return nil, ErrCacheMiss
	}
	return e.value, nil
}

func (c *MemoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictSoonestLocked()
	}
	c.entries[key] = memEntry{
		value:     append([]byte(nil), value...),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *MemoryClient) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len counts stored entries, including expired ones not yet swept.
func (c *MemoryClient) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the sweeper and closes every subscription.
func (c *MemoryClient) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.subMu.Lock()
		for channel, set := range c.subs {
			for ch := range set {
				close(ch)
			}
			delete(c.subs, channel)
		}
		c.subMu.Unlock()
	})
	return nil
}

// Publish delivers message to the current subscribers of channel. A
// subscriber whose buffer is full misses the message.
func (c *MemoryClient) Publish(_ context.Context, channel string, message interface{}) error {
	data, err := encodeMessage(message)
	if err != nil {
		return err
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs[channel] {
		select {
		case ch <- append([]byte(nil), data...):
		default:
		}
	}
	return nil
}

// Subscribe returns the messages published on channel from now on. cancel
// closes the returned channel; so does ctx ending.
func (c *MemoryClient) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriberBuffer)

	c.subMu.Lock()
	if c.subs[channel] == nil {
		c.subs[channel] = make(map[chan []byte]struct{})
	}
	c.subs[channel][ch] = struct{}{}
	c.subMu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[channel][ch]; ok {
				delete(c.subs[channel], ch)
				if len(c.subs[channel]) == 0 {
					delete(c.subs, channel)
				}
				close(ch)
			}
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		case <-c.stop:
		}
	}()
	return ch, cancel, nil
}

// evictSoonestLocked drops the entry closest to expiry.
func (c *MemoryClient) evictSoonestLocked() {
	var victim string
	var soonest time.Time
	for k, e := range c.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim, soonest = k, e.expiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

func (c *MemoryClient) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for k, e := range c.entries {
				if e.expired(now) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
