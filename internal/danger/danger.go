// Package danger turns per-route class histograms into a danger index and
// ranks routes from safest to most exposed.
package danger

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/snowroute/internal/snow"
)

// DefaultNoCoverage is the index assigned to a route with no classified
// pixels. It sits above every real index so such routes sort last.
const DefaultNoCoverage = 999.0

// DefaultTolerance is the index difference below which routes tie.
const DefaultTolerance = 1e-6

// Style colours for rendered routes.
const (
	ColorSafest = "green"
	ColorOther  = "red"
)

// Histogram is a per-class pixel count for one route.
type Histogram = snow.Histogram

var classValues = []float64{1, 2, 3, 4}

// Index returns the mean class of h weighted by pixel count, in [1, 4].
// ok is false when h is empty.
func Index(h Histogram) (float64, bool) {
	if h.Total() == 0 {
		return 0, false
	}
	weights := make([]float64, snow.NumClasses)
	for i, n := range h {
		weights[i] = float64(n)
	}
	return stat.Mean(classValues, weights), true
}

// Score is one route's danger rating.
type Score struct {
	Name      string
	Histogram Histogram
	Index     float64
	Covered   bool
	IsSafest  bool
}

// StyleColor returns the display colour for the route.
func (s Score) StyleColor() string {
	if s.IsSafest {
		return ColorSafest
	}
	return ColorOther
}

// Scorer rates histograms.
type Scorer struct {
	NoCoverage float64
	Tolerance  float64
}

// NewScorer returns a Scorer with the default sentinel and tolerance.
func NewScorer() Scorer {
	return Scorer{NoCoverage: DefaultNoCoverage, Tolerance: DefaultTolerance}
}

// Score rates one route. An empty histogram gets the NoCoverage index.
func (s Scorer) Score(name string, h Histogram) Score {
	idx, ok := Index(h)
	if !ok {
		idx = s.NoCoverage
	}
	return Score{Name: name, Histogram: h, Index: idx, Covered: ok}
}

// Ranking is a set of scores ordered from lowest to highest index.
type Ranking struct {
	Scores []Score
	// MinIndex is the lowest index among covered routes, or NoCoverage when
	// none is covered.
	MinIndex float64
}

// Safest returns the names of the routes tagged safest, in rank order.
func (r Ranking) Safest() []string {
	var names []string
	for _, s := range r.Scores {
		if s.IsSafest {
			names = append(names, s.Name)
		}
	}
	return names
}

// Rank sorts a copy of scores by ascending index, keeping input order among
// equal indices, and tags every covered route within Tolerance of the
// minimum as safest. Uncovered routes are never safest.
func (s Scorer) Rank(scores []Score) Ranking {
	out := make([]Score, len(scores))
	copy(out, scores)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Covered != out[j].Covered {
			return out[i].Covered
		}
		return out[i].Index < out[j].Index
	})

	r := Ranking{Scores: out, MinIndex: s.NoCoverage}
	if len(out) == 0 || !out[0].Covered {
		for i := range out {
			out[i].IsSafest = false
		}
		return r
	}
	r.MinIndex = out[0].Index
	for i := range out {
		out[i].IsSafest = out[i].Covered && math.Abs(out[i].Index-r.MinIndex) < s.Tolerance
	}
	return r
}
