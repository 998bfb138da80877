package cache

import (
	"context"
	"testing"
	"time"

	"github.com/flexprice/usagemeter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	Fingerprint string `json:"fingerprint"`
	Count       int    `json:"count"`
}

func newTestCache(enabled bool) *InMemoryCache {
	cfg := config.GetDefaultConfig()
	cfg.Cache.Enabled = enabled
	return NewInMemoryCache(cfg)
}

func TestInMemoryCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(true)

	key := PartialKey("org_1", "sub_1", "api_calls", "fp")
	c.Set(ctx, key, &snapshot{Fingerprint: "fp", Count: 3}, time.Minute)

	value, ok := c.Get(ctx, key)
	require.True(t, ok)
	got, ok := UnmarshalCacheValue[snapshot](value)
	require.True(t, ok)
	assert.Equal(t, 3, got.Count)
}

func TestInMemoryCache_Disabled(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(false)

	c.Set(ctx, "k", "v", 0)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestInMemoryCache_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(true)

	keep := PartialKey("org_1", "sub_10", "api_calls", "fp")
	drop := []string{
		PartialKey("org_1", "sub_1", "api_calls", "fp"),
		PartialKey("org_1", "sub_1", "storage", "fp2"),
	}
	for _, k := range append(drop, keep) {
		c.Set(ctx, k, "x", time.Minute)
	}

	c.DeleteByPrefix(ctx, SubscriptionPrefix("org_1", "sub_1"))

	for _, k := range drop {
		_, ok := c.Get(ctx, k)
		assert.False(t, ok, k)
	}
	_, ok := c.Get(ctx, keep)
	assert.True(t, ok)
}

func TestUnmarshalCacheValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  *snapshot
	}{
		{name: "nil", value: nil},
		{name: "pointer", value: &snapshot{Count: 1}, want: &snapshot{Count: 1}},
		{name: "json string", value: `{"fingerprint":"fp","count":2}`, want: &snapshot{Fingerprint: "fp", Count: 2}},
		{name: "bad json", value: `{"count":`},
		{name: "other type", value: 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := UnmarshalCacheValue[snapshot](tt.value)
			assert.Equal(t, tt.want != nil, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
