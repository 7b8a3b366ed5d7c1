// Package scene selects multispectral scenes by footprint, acquisition date,
// and cloud cover.
package scene

import (
	"context"
	"sort"
	"time"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/snowroute/internal/raster"
)

// Query holds the three scene predicates. End is exclusive and a scene
// must have CloudPct strictly below MaxCloudPct.
type Query struct {
	Bounds      *geom.Bounds
	Start       time.Time
	End         time.Time
	MaxCloudPct float64
}

// Match reports whether s satisfies every predicate.
func (q Query) Match(s *raster.Scene) bool {
	if s.Acquired.Before(q.Start) || !s.Acquired.Before(q.End) {
		return false
	}
	if s.CloudPct >= q.MaxCloudPct {
		return false
	}
	if q.Bounds != nil && !q.Bounds.Overlaps(geom.XY, s.Footprint()) {
		return false
	}
	return true
}

// Filter returns the scenes matching q ordered by acquisition date then ID.
// No match yields an empty slice.
func Filter(scenes []*raster.Scene, q Query) []*raster.Scene {
	out := make([]*raster.Scene, 0, len(scenes))
	for _, s := range scenes {
		if q.Match(s) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Acquired.Equal(out[j].Acquired) {
			return out[i].Acquired.Before(out[j].Acquired)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Source supplies scenes for a query.
type Source interface {
	Scenes(ctx context.Context, q Query) ([]*raster.Scene, error)
}

// MemorySource serves scenes held in memory.
type MemorySource struct {
	scenes []*raster.Scene
}

// NewMemorySource creates a MemorySource over scenes.
func NewMemorySource(scenes ...*raster.Scene) *MemorySource {
	return &MemorySource{scenes: scenes}
}

// Scenes implements Source.
func (m *MemorySource) Scenes(_ context.Context, q Query) ([]*raster.Scene, error) {
	return Filter(m.scenes, q), nil
}
