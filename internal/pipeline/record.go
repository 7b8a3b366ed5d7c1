package pipeline

import (
	"github.com/sells-group/snowroute/internal/config"
	"github.com/sells-group/snowroute/internal/store"
)

// Record converts a result into a run record for the store.
func (r *Result) Record(cfg *config.Config) *store.Run {
	start, end, _ := cfg.Scenes.DateRange()
	run := &store.Run{
		ID:        r.RunID,
		CreatedAt: r.CreatedAt,
		Scenes:    r.Scenes,
		MinIndex:  r.MinIndex,
		Params: store.Params{
			Start:       start,
			End:         end,
			MaxCloudPct: cfg.Scenes.MaxCloudPct,
			Threshold:   cfg.Index.Threshold,
			Radius:      cfg.Index.Radius,
			Breaks:      cfg.Classes.Breaks,
			Buffer:      cfg.Routes.Buffer,
			Scale:       cfg.Routes.Scale,
			Tolerance:   cfg.Score.Tolerance,
			NoCoverage:  cfg.Score.NoCoverage,
		},
		Routes: make([]store.RouteScore, 0, len(r.Routes)),
	}
	for i, rs := range r.Routes {
		run.Routes = append(run.Routes, store.RouteScore{
			Rank:      i + 1,
			Name:      rs.Name,
			Histogram: rs.Histogram,
			Index:     rs.Index,
			Covered:   rs.Covered,
			IsSafest:  rs.IsSafest,
			Geometry:  rs.Geometry,
		})
	}
	return run
}
