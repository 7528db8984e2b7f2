// Package reporter periodically logs the metadata of every pool.
package reporter

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/poolmeter/internal/logging"
	"github.com/anstrom/poolmeter/internal/metadata"
)

// SnapshotSource provides the pool snapshots to report.
type SnapshotSource interface {
	Snapshots() []metadata.Snapshot
}

// Reporter logs one line per pool on a cron schedule.
type Reporter struct {
	cron     *cron.Cron
	schedule string
	source   SnapshotSource
	logger   *logging.Logger
	entryID  cron.EntryID
	mu       sync.Mutex
	running  bool
	lastRun  time.Time
}

// New creates a reporter for schedule, in standard cron syntax or a
// descriptor such as "@every 1m".
func New(schedule string, source SnapshotSource, logger *logging.Logger) (*Reporter, error) {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Reporter{
		cron:     cron.New(),
		schedule: schedule,
		source:   source,
		logger:   logger.WithComponent("reporter"),
	}

	id, err := r.cron.AddFunc(schedule, r.Report)
	if err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", schedule, err)
	}
	r.entryID = id
	return r, nil
}

// Start begins the schedule.
func (r *Reporter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("reporter is already running")
	}

	r.cron.Start()
	r.running = true

	r.logger.Info("Reporter started", "schedule", r.schedule, "next_run", r.cron.Entry(r.entryID).Next)
	return nil
}

// Stop stops the schedule and waits for a running report to finish.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	<-r.cron.Stop().Done()
	r.logger.Info("Reporter stopped")
}

// LastRun returns when Report last ran.
func (r *Reporter) LastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

// Report logs the current snapshot of every pool.
func (r *Reporter) Report() {
	for _, snap := range r.source.Snapshots() {
		if !snap.Supported {
			r.logger.Info("Pool status", "pool", snap.Name, "supported", false)
			continue
		}
		fields := []any{"pool", snap.Name}
		fields = appendValue(fields, "active", snap.Active)
		fields = appendValue(fields, "idle", snap.Idle)
		fields = appendValue(fields, "max", snap.Max)
		fields = appendValue(fields, "min", snap.Min)
		r.logger.Info("Pool status", fields...)
	}

	r.mu.Lock()
	r.lastRun = time.Now()
	r.mu.Unlock()
}

func appendValue(fields []any, key string, v *int) []any {
	if v == nil {
		return fields
	}
	return append(fields, key, *v)
}
