package resultcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/finsight/internal/cache"
	"github.com/spherical-ai/finsight/internal/domain"
)

type failingClient struct{}

func (failingClient) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (failingClient) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (failingClient) Delete(context.Context, string) error { return nil }
func (failingClient) Close() error                         { return nil }

func sampleResult(name string) *domain.Result {
	return &domain.Result{
		ExtractedData: domain.StructuredRecord{"account_number": "123"},
		Reports:       domain.Reports{},
		DocumentType:  domain.TypeBankStatement,
		Filename:      name,
	}
}

func TestCache_PutGetOverwrite(t *testing.T) {
	mem := cache.NewMemoryClient(0)
	defer mem.Close()
	c := New(mem, nil, 0)
	ctx := context.Background()

	assert.Equal(t, DefaultTTL, c.TTL())

	miss := c.Get(ctx, "k")
	assert.False(t, miss.Hit)
	assert.False(t, miss.Degraded())

	require.NoError(t, c.Put(ctx, "k", sampleResult("first.pdf")))
	require.NoError(t, c.Put(ctx, "k", sampleResult("second.pdf")))

	got := c.Get(ctx, "k")
	require.True(t, got.Hit)
	assert.Equal(t, "second.pdf", got.Result.Filename)
	assert.Equal(t, domain.TypeBankStatement, got.Result.DocumentType)
}

func TestCache_UnavailableStoreDegrades(t *testing.T) {
	c := New(failingClient{}, nil, time.Hour)
	ctx := context.Background()

	lookup := c.Get(ctx, "k")
	assert.False(t, lookup.Hit)
	assert.True(t, lookup.Degraded())
	assert.Equal(t, domain.KindCacheUnavailable, domain.KindOf(lookup.Err))

	err := c.Put(ctx, "k", sampleResult("x.pdf"))
	assert.Equal(t, domain.KindCacheUnavailable, domain.KindOf(err))
}

func TestCache_UndecodableEntryIsMiss(t *testing.T) {
	mem := cache.NewMemoryClient(0)
	defer mem.Close()
	require.NoError(t, mem.Set(context.Background(), "k", []byte("{not json"), time.Hour))

	lookup := New(mem, nil, 0).Get(context.Background(), "k")
	assert.False(t, lookup.Hit)
	assert.False(t, lookup.Degraded())
}

func TestCache_NilIsNoop(t *testing.T) {
	var c *Cache
	assert.False(t, c.Get(context.Background(), "k").Hit)
	assert.NoError(t, c.Put(context.Background(), "k", sampleResult("x")))
}
