// Package cache provides the key/value stores behind result caching and
// task status.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client is a key/value store with per-key expiry.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set overwrites any existing value and resets its expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// CacheKey joins key components with ":".
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// encodeMessage turns a pub/sub message into its wire bytes. Raw JSON and
// byte slices pass through unchanged.
func encodeMessage(message interface{}) ([]byte, error) {
	switch m := message.(type) {
	case json.RawMessage:
		return m, nil
	case []byte:
		return m, nil
	case string:
		return []byte(m), nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}
