package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/snowroute/internal/store"
)

// Snapshot is a point-in-time view of run history.
type Snapshot struct {
	RunsInWindow int       `json:"runs_in_window"`
	LastRunID    string    `json:"last_run_id,omitempty"`
	LastRunAt    time.Time `json:"last_run_at,omitzero"`
	LastScenes   int       `json:"last_scenes"`
	LastMinIndex float64   `json:"last_min_index"`
	LastSafest   []string  `json:"last_safest,omitempty"`
	Stale        bool      `json:"stale"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers run health from the store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect summarizes runs over the lookback window. Stale is set when no run
// finished inside the window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Since: now.Add(-time.Duration(lookbackHours) * time.Hour)})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	snap.RunsInWindow = len(runs)
	snap.Stale = len(runs) == 0

	last, err := c.store.LatestRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: latest run")
	}
	if last != nil {
		snap.LastRunID = last.ID
		snap.LastRunAt = last.CreatedAt
		snap.LastScenes = last.Scenes
		snap.LastMinIndex = last.MinIndex
		snap.LastSafest = last.Safest()
	}
	return snap, nil
}
