// Package dedupe provides a Redis-backed first-seen check for webhook
// event ids. It is a fast-path filter in front of the database-level
// idempotency guarantees, not a replacement for them: a Redis outage
// degrades to letting events through, where the ledger's unique keys
// still hold.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long an event id is remembered. Providers
// retry failed deliveries for days, but duplicates past this window
// are caught by the persistent idempotency keys anyway.
const DefaultTTL = 24 * time.Hour

type Deduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Deduper)

// WithTTL overrides the retention window for seen event ids.
func WithTTL(ttl time.Duration) Option {
	return func(d *Deduper) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithPrefix overrides the key namespace. Useful when several services
// share one Redis instance.
func WithPrefix(prefix string) Option {
	return func(d *Deduper) {
		if prefix != "" {
			d.prefix = prefix
		}
	}
}

// New creates a Deduper. Panics if client is nil to fail fast during
// initialization.
func New(client *redis.Client, opts ...Option) *Deduper {
	if client == nil {
		panic("dedupe: redis client is required")
	}
	d := &Deduper{
		client: client,
		prefix: "webhook:event:",
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Seen marks the event id and reports whether it was already recorded.
// The mark and the check are a single SETNX so concurrent deliveries of
// the same event agree on exactly one first-seen winner.
func (d *Deduper) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	ok, err := d.client.SetNX(ctx, d.prefix+eventID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: mark event %s: %w", eventID, err)
	}
	return !ok, nil
}

// Forget removes the mark for an event id so a redelivery is processed
// again. Used when handling failed after the mark was set.
func (d *Deduper) Forget(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := d.client.Del(ctx, d.prefix+eventID).Err(); err != nil {
		return fmt.Errorf("dedupe: forget event %s: %w", eventID, err)
	}
	return nil
}
