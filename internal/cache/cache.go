package cache

import (
	"context"
	"strings"
	"time"
)

// Cache stores read-only snapshots, keyed by strings built with Key.
// Implementations never fail a caller: misses and backend errors look alike.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration)
	Delete(ctx context.Context, key string)
	DeleteByPrefix(ctx context.Context, prefix string)
	Flush(ctx context.Context)
}

const (
	PrefixPartialAggregate = "usage:partial"
)

// Key joins parts with ':' under the given prefix
func Key(prefix string, parts ...string) string {
	return strings.Join(append([]string{prefix}, parts...), ":")
}

// PartialKey is where the partial snapshot of one request fingerprint is cached
func PartialKey(organizationID, subscriptionID, code, fingerprint string) string {
	return Key(PrefixPartialAggregate, organizationID, subscriptionID, code, fingerprint)
}

// SubscriptionPrefix covers every cached partial of a subscription. The
// trailing separator keeps sub_1 from matching sub_10.
func SubscriptionPrefix(organizationID, subscriptionID string) string {
	return Key(PrefixPartialAggregate, organizationID, subscriptionID) + ":"
}
