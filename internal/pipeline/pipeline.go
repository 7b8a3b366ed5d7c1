// Package pipeline wires the analysis stages together: scene filtering, cloud
// masking, median compositing, snow classification, and route scoring.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/snowroute/internal/cloudmask"
	"github.com/sells-group/snowroute/internal/composite"
	"github.com/sells-group/snowroute/internal/config"
	"github.com/sells-group/snowroute/internal/danger"
	"github.com/sells-group/snowroute/internal/monitoring"
	"github.com/sells-group/snowroute/internal/raster"
	"github.com/sells-group/snowroute/internal/route"
	"github.com/sells-group/snowroute/internal/scene"
	"github.com/sells-group/snowroute/internal/snow"
)

// Stage names used for logging and metrics.
const (
	StageFilter    = "filter"
	StageMask      = "mask"
	StageComposite = "composite"
	StageClassify  = "classify"
	StageRoutes    = "routes"
	StageRank      = "rank"
)

// Result is the output of one run.
type Result struct {
	RunID     string
	CreatedAt time.Time
	Scenes    int
	Classes   *snow.ClassRaster
	Legend    []snow.LegendEntry
	// Routes are ordered from lowest to highest danger index.
	Routes   []route.Scored
	MinIndex float64
	Safest   []string
}

// Pipeline runs the analysis for one configuration.
type Pipeline struct {
	cfg     *config.Config
	source  scene.Source
	masker  *cloudmask.Masker
	breaks  snow.Breaks
	scorer  danger.Scorer
	start   time.Time
	end     time.Time
	metrics *monitoring.Metrics
	now     func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithMetrics records stage timings and counts.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the run timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New validates cfg and builds a Pipeline reading scenes from source.
func New(cfg *config.Config, source scene.Source, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate("analysis"); err != nil {
		return nil, eris.Wrap(err, "pipeline: config")
	}
	start, end, err := cfg.Scenes.DateRange()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: config")
	}
	breaks, err := snow.NewBreaks(cfg.Classes.Breaks)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: config")
	}

	p := &Pipeline{
		cfg:    cfg,
		source: source,
		masker: cloudmask.New(cfg.Mask.Band, cfg.Mask.ExcludeCodes),
		breaks: breaks,
		scorer: danger.Scorer{NoCoverage: cfg.Score.NoCoverage, Tolerance: cfg.Score.Tolerance},
		start:  start,
		end:    end,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run classifies snow cover over area and ranks the routes built from
// fragments. No matching scenes is not an error: every pixel is undefined
// and every route gets the no-coverage index.
func (p *Pipeline) Run(ctx context.Context, area *geom.Polygon, fragments []route.Fragment) (res *Result, err error) {
	defer func() { p.metrics.RunFinished(err) }()

	res = &Result{RunID: uuid.New().String(), CreatedAt: p.now().UTC(), Legend: snow.LegendFor(p.breaks)}
	log := zap.L().With(zap.String("run_id", res.RunID))
	log.Info("pipeline: starting run", zap.Int("fragments", len(fragments)))

	classes, scenes, err := p.Classify(ctx, area)
	if err != nil {
		return nil, err
	}
	res.Classes = classes
	res.Scenes = scenes
	if scenes == 0 {
		log.Warn("pipeline: no scenes matched the filter")
	}

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: cancelled")
	}

	t := time.Now()
	scores, merged, err := p.scoreRoutes(ctx, classes, fragments)
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveStage(StageRoutes, t)

	t = time.Now()
	ranking := p.scorer.Rank(scores)
	res.MinIndex = ranking.MinIndex
	res.Safest = ranking.Safest()
	res.Routes = make([]route.Scored, 0, len(ranking.Scores))
	for _, s := range ranking.Scores {
		res.Routes = append(res.Routes, route.Scored{
			Merged:     merged[s.Name],
			Histogram:  s.Histogram,
			Index:      s.Index,
			Covered:    s.Covered,
			IsSafest:   s.IsSafest,
			StyleColor: s.StyleColor(),
		})
	}
	p.metrics.ObserveStage(StageRank, t)

	if p.metrics != nil {
		p.metrics.RoutesScored.Add(float64(len(res.Routes)))
		for _, r := range res.Routes {
			if !r.Covered {
				p.metrics.NoCoverage.Inc()
			}
		}
		p.metrics.MinIndex.Set(res.MinIndex)
	}

	log.Info("pipeline: run complete",
		zap.Int("scenes", res.Scenes),
		zap.Int("routes", len(res.Routes)),
		zap.Float64("min_index", res.MinIndex),
		zap.Strings("safest", res.Safest),
	)
	return res, nil
}

// Classify produces the snow-cover class raster for area and reports how
// many scenes contributed.
func (p *Pipeline) Classify(ctx context.Context, area *geom.Polygon) (*snow.ClassRaster, int, error) {
	grid := raster.GridFor(area.Bounds(), p.cfg.Study.PixelSize)

	t := time.Now()
	scenes, err := p.source.Scenes(ctx, scene.Query{
		Bounds:      area.Bounds(),
		Start:       p.start,
		End:         p.end,
		MaxCloudPct: p.cfg.Scenes.MaxCloudPct,
	})
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: load scenes")
	}
	p.metrics.ObserveStage(StageFilter, t)
	if p.metrics != nil {
		p.metrics.ScenesUsed.Observe(float64(len(scenes)))
	}
	zap.L().Debug("pipeline: scenes selected", zap.Int("scenes", len(scenes)))

	t = time.Now()
	masked, err := p.masker.ApplyAll(scenes)
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: mask")
	}
	p.metrics.ObserveStage(StageMask, t)

	if err := ctx.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: cancelled")
	}

	t = time.Now()
	comp, err := composite.Median(grid, masked, []string{p.cfg.Index.BandA, p.cfg.Index.BandB})
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: composite")
	}
	comp = composite.Clip(comp, area)
	p.metrics.ObserveStage(StageComposite, t)

	if err := ctx.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: cancelled")
	}

	t = time.Now()
	idx, err := snow.NormalizedDifference(comp, p.cfg.Index.BandA, p.cfg.Index.BandB)
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: index")
	}
	mask := snow.Threshold(idx, p.cfg.Index.Threshold)
	frac, err := snow.NeighborhoodFraction(ctx, grid, mask, p.cfg.Index.Radius, p.cfg.Index.TileRows)
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: neighborhood fraction")
	}
	classes := snow.ClassifyRaster(grid, frac, p.breaks)
	p.metrics.ObserveStage(StageClassify, t)

	return classes, len(scenes), nil
}

// scoreRoutes merges fragments and scores every merged route concurrently.
// Scores keep merge order.
func (p *Pipeline) scoreRoutes(ctx context.Context, classes *snow.ClassRaster, fragments []route.Fragment) ([]danger.Score, map[string]route.Merged, error) {
	merged, err := route.Merge(fragments)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: merge routes")
	}

	byName := make(map[string]route.Merged, len(merged))
	scores := make([]danger.Score, len(merged))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.Concurrency)
	for i, m := range merged {
		byName[m.Name] = m
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return eris.Wrap(err, "pipeline: cancelled")
			}
			zone, err := route.Buffer(m, p.cfg.Routes.Buffer)
			if err != nil {
				return eris.Wrapf(err, "pipeline: buffer route %q", m.Name)
			}
			h, err := route.ZonalHistogram(zone, classes, p.cfg.Routes.Scale)
			if err != nil {
				return eris.Wrapf(err, "pipeline: histogram route %q", m.Name)
			}
			scores[i] = p.scorer.Score(m.Name, h)
			zap.L().Debug("pipeline: route scored",
				zap.String("route", m.Name),
				zap.Int64("pixels", h.Total()),
				zap.Float64("index", scores[i].Index),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return scores, byName, nil
}
