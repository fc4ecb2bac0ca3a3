// Package correlation keeps the sliding-window state behind stateful rules.
//
// A family groups the keys of one correlation (by default one stateful
// subrule); a key identifies the entity being counted, for instance
// "corp|alice" for a (domain, user) pair. Every observation records the
// instant at which it stops counting, now+window. Expired observations
// (expiry <= now) are pruned lazily on every access.
package correlation

import (
	"context"
	"time"
)

// Store records and counts observations per (family, key)
type Store interface {
	// Observe records one observation expiring at now+window and returns
	// the number of live observations including it.
	Observe(ctx context.Context, family, key string, now time.Time, window time.Duration) (int, error)
	// Count returns the number of live observations at now
	Count(ctx context.Context, family, key string, now time.Time) (int, error)
}

// expiry renders an observation deadline in Unix milliseconds; both stores
// use millisecond resolution so they agree on window edges
func expiry(now time.Time, window time.Duration) int64 {
	return now.Add(window).UnixMilli()
}
