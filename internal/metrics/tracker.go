// Package metrics provides connection pool metrics tracking for poolmeter.
// A TrackerFactory is attached to a pool once; the pool then asks it for a
// Tracker and reports connection acquire, usage and timeout events to it.
package metrics

import (
	"database/sql"
	"time"
)

// PoolStatsFunc returns a live statistics snapshot of a pool.
type PoolStatsFunc func() sql.DBStats

// TrackerFactory creates the Tracker for a named pool.
type TrackerFactory interface {
	Create(poolName string, stats PoolStatsFunc) (Tracker, error)
}

// Tracker receives connection lifecycle events from a pool.
// Implementations must be safe for concurrent use.
type Tracker interface {
	RecordConnectionAcquired(elapsed time.Duration)
	RecordConnectionUsage(elapsed time.Duration)
	RecordConnectionTimeout()
	Close()
}

// NoopTracker discards every event. Pools without metrics use it.
type NoopTracker struct{}

var _ Tracker = NoopTracker{}

func (NoopTracker) RecordConnectionAcquired(time.Duration) {}
func (NoopTracker) RecordConnectionUsage(time.Duration)    {}
func (NoopTracker) RecordConnectionTimeout()               {}
func (NoopTracker) Close()                                 {}
