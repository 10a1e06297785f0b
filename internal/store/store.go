// Package store defines the keyed storage capabilities the security pipeline
// runs on: TTL-aware key/value stores and atomic counters.
package store

import (
	"context"
	"time"
)

// KeyedStore is a TTL-aware key/value capability. The context manager writes
// session state through two independent implementations so that eviction of
// one store does not drop a security-critical session.
type KeyedStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
}

// CounterStore provides atomic increment-and-get with a decay window. The TTL
// is applied when the key is first created, so concurrent requests cannot race
// past a threshold between read and write.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
}
