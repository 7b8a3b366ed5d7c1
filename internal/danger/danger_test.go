package danger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex(t *testing.T) {
	tests := []struct {
		name string
		h    Histogram
		want float64
	}{
		{"single class", Histogram{0, 10, 0, 0}, 2},
		{"all full", Histogram{0, 0, 0, 7}, 4},
		{"mixed", Histogram{1, 1, 1, 1}, 2.5},
		{"weighted", Histogram{3, 0, 0, 1}, 1.75},
		{"rising counts", Histogram{10, 20, 30, 40}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Index(tt.h)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}

	_, ok := Index(Histogram{})
	assert.False(t, ok)
}

func TestIndex_ScaleInvariant(t *testing.T) {
	h := Histogram{3, 5, 2, 9}
	var scaled Histogram
	for i, n := range h {
		scaled[i] = n * 37
	}
	a, _ := Index(h)
	b, _ := Index(scaled)
	assert.InDelta(t, a, b, 1e-12)
}

func TestScore_NoCoverage(t *testing.T) {
	s := NewScorer()
	got := s.Score("empty", Histogram{})
	assert.False(t, got.Covered)
	assert.Equal(t, DefaultNoCoverage, got.Index)

	s.NoCoverage = 1e9
	assert.Equal(t, 1e9, s.Score("empty", Histogram{}).Index)
}

func TestRank(t *testing.T) {
	s := NewScorer()
	scores := []Score{
		s.Score("A", Histogram{10, 0, 0, 0}),
		s.Score("B", Histogram{0, 0, 0, 10}),
		s.Score("C", Histogram{}),
		s.Score("D", Histogram{5, 0, 0, 0}),
	}

	r := s.Rank(scores)
	require.Len(t, r.Scores, 4)
	assert.Equal(t, 1.0, r.MinIndex)

	names := []string{r.Scores[0].Name, r.Scores[1].Name, r.Scores[2].Name, r.Scores[3].Name}
	assert.Equal(t, []string{"A", "D", "B", "C"}, names, "ties keep input order, uncovered last")
	assert.Equal(t, []string{"A", "D"}, r.Safest())

	assert.Equal(t, ColorSafest, r.Scores[0].StyleColor())
	assert.Equal(t, ColorOther, r.Scores[2].StyleColor())
	assert.False(t, r.Scores[3].IsSafest)

	assert.False(t, scores[0].IsSafest, "input is not modified")
}

func TestRank_Tolerance(t *testing.T) {
	s := NewScorer()
	scores := []Score{
		{Name: "a", Index: 2.0000005, Covered: true},
		{Name: "b", Index: 2, Covered: true},
		{Name: "c", Index: 2.00001, Covered: true},
	}
	r := s.Rank(scores)
	assert.Equal(t, []string{"b", "a"}, r.Safest())
}

func TestRank_AllUncovered(t *testing.T) {
	s := NewScorer()
	r := s.Rank([]Score{s.Score("x", Histogram{}), s.Score("y", Histogram{})})
	assert.Empty(t, r.Safest())
	assert.Equal(t, DefaultNoCoverage, r.MinIndex)
	assert.Equal(t, "x", r.Scores[0].Name)
}

func TestRank_Empty(t *testing.T) {
	r := NewScorer().Rank(nil)
	assert.Empty(t, r.Scores)
	assert.Empty(t, r.Safest())
}

func TestRank_SentinelNeverMinimum(t *testing.T) {
	s := Scorer{NoCoverage: 5, Tolerance: DefaultTolerance}
	r := s.Rank([]Score{s.Score("none", Histogram{}), s.Score("full", Histogram{0, 0, 0, 1})})
	assert.Equal(t, 4.0, r.MinIndex)
	assert.Equal(t, []string{"full"}, r.Safest())
}

func TestRank_ReorderStable(t *testing.T) {
	s := NewScorer()
	a := s.Score("a", Histogram{1, 2, 0, 0})
	b := s.Score("b", Histogram{0, 0, 4, 1})
	c := s.Score("c", Histogram{2, 0, 0, 0})

	r1 := s.Rank([]Score{a, b, c})
	r2 := s.Rank([]Score{b, c, a})
	for i := range r1.Scores {
		assert.Equal(t, r1.Scores[i].Name, r2.Scores[i].Name)
		assert.Equal(t, r1.Scores[i].IsSafest, r2.Scores[i].IsSafest)
	}
	assert.Equal(t, []string{"c"}, r1.Safest())
}
