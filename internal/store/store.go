// Package store persists pipeline runs and their per-route scores.
package store

import (
	"context"
	"time"

	"github.com/twpayne/go-geom"
)

// Params records the analysis settings a run was produced with.
type Params struct {
	Start       time.Time `json:"start" yaml:"start"`
	End         time.Time `json:"end" yaml:"end"`
	MaxCloudPct float64   `json:"max_cloud_pct" yaml:"max_cloud_pct"`
	Threshold   float64   `json:"threshold" yaml:"threshold"`
	Radius      int       `json:"radius" yaml:"radius"`
	Breaks      []float64 `json:"breaks" yaml:"breaks"`
	Buffer      float64   `json:"buffer" yaml:"buffer"`
	Scale       float64   `json:"scale" yaml:"scale"`
	Tolerance   float64   `json:"tolerance" yaml:"tolerance"`
	NoCoverage  float64   `json:"no_coverage" yaml:"no_coverage"`
}

// Run is one completed pipeline execution.
type Run struct {
	ID        string
	CreatedAt time.Time
	Scenes    int
	MinIndex  float64
	Params    Params
	Routes    []RouteScore
}

// Safest returns the names of the routes tagged safest.
func (r *Run) Safest() []string {
	var names []string
	for _, rs := range r.Routes {
		if rs.IsSafest {
			names = append(names, rs.Name)
		}
	}
	return names
}

// RouteScore is one route's persisted rating. Rank starts at 1.
type RouteScore struct {
	Rank      int
	Name      string
	Histogram [4]int64
	Index     float64
	Covered   bool
	IsSafest  bool
	Geometry  geom.T
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Since time.Time `json:"since,omitempty"`
	Limit int       `json:"limit,omitempty"`
}

// Store defines the persistence interface for run history.
type Store interface {
	SaveRun(ctx context.Context, run *Run) error
	// GetRun returns the run with its routes, or nil when it does not exist.
	GetRun(ctx context.Context, id string) (*Run, error)
	// LatestRun returns the newest run with its routes, or nil when none exist.
	LatestRun(ctx context.Context) (*Run, error)
	// ListRuns returns runs newest first, without routes.
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100
