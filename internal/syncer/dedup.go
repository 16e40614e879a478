package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/regwatch/regvelocity/internal/telemetry"
)

// snapshotChecker is the persistent-tier lookup the cache needs from storage.
type snapshotChecker interface {
	SnapshotExists(ctx context.Context, title int, date time.Time) (bool, error)
}

// DedupCache decides whether a (title, date) pair already has a stored
// snapshot, in two tiers: an in-run memory set and the persistent snapshot
// table. The memory tier lives for one sync pass; the persistent tier is
// permanent because snapshots are immutable history. There is no eviction.
type DedupCache struct {
	seen  sync.Map
	store snapshotChecker
}

// NewDedupCache builds a cache backed by the given persistent checker.
func NewDedupCache(store snapshotChecker) *DedupCache {
	return &DedupCache{store: store}
}

func pairKey(title int, date time.Time) string {
	return fmt.Sprintf("%d@%s", title, date.Format("2006-01-02"))
}

// Has reports whether the pair is already resolved. A persistent hit also
// populates the memory tier so later references sharing the title skip the
// storage lookup.
func (c *DedupCache) Has(ctx context.Context, title int, date time.Time) (bool, error) {
	key := pairKey(title, date)
	if _, ok := c.seen.Load(key); ok {
		telemetry.IncDedupHit(telemetry.TierMemory)
		return true, nil
	}
	exists, err := c.store.SnapshotExists(ctx, title, date)
	if err != nil {
		return false, fmt.Errorf("check snapshot %s: %w", key, err)
	}
	if exists {
		c.seen.Store(key, struct{}{})
		telemetry.IncDedupHit(telemetry.TierPersistent)
	}
	return exists, nil
}

// Mark records the pair as resolved for the rest of the run. Callers must not
// mark pairs whose fetch failed permanently; those are retried next run.
func (c *DedupCache) Mark(title int, date time.Time) {
	c.seen.Store(pairKey(title, date), struct{}{})
}
