package scene

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/snowroute/internal/raster"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func testScene(id, day string, cloud float64, x0 float64) *raster.Scene {
	grid := raster.Grid{X0: x0, Y0: 100, PixelSize: 10, Cols: 2, Rows: 2}
	return &raster.Scene{
		Image: raster.Image{
			Grid: grid,
			Bands: map[string]*raster.Band{
				"B3":  raster.NewBandFrom([]float64{1000, 2000, 3000, 4000}),
				"SCL": raster.NewBandFrom([]float64{4, 8, 4, 3}),
			},
		},
		ID:       id,
		Acquired: date(day),
		CloudPct: cloud,
	}
}

func baseQuery() Query {
	return Query{
		Bounds:      geom.NewBounds(geom.XY).Set(0, 0, 100, 100),
		Start:       date("2023-01-01"),
		End:         date("2023-03-31"),
		MaxCloudPct: 20,
	}
}

func TestQuery_Match(t *testing.T) {
	q := baseQuery()

	tests := []struct {
		name  string
		scene *raster.Scene
		want  bool
	}{
		{"inside every predicate", testScene("a", "2023-02-01", 5, 0), true},
		{"start is inclusive", testScene("b", "2023-01-01", 5, 0), true},
		{"end is exclusive", testScene("c", "2023-03-31", 5, 0), false},
		{"before start", testScene("d", "2022-12-31", 5, 0), false},
		{"cloud at threshold", testScene("e", "2023-02-01", 20, 0), false},
		{"cloud above threshold", testScene("f", "2023-02-01", 35, 0), false},
		{"footprint outside bounds", testScene("g", "2023-02-01", 5, 500), false},
		{"footprint touching bounds", testScene("h", "2023-02-01", 5, 100), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, q.Match(tt.scene))
		})
	}
}

func TestQuery_NilBounds(t *testing.T) {
	q := baseQuery()
	q.Bounds = nil
	assert.True(t, q.Match(testScene("a", "2023-02-01", 5, 10000)))
}

func TestFilter_OrdersAndHandlesEmpty(t *testing.T) {
	scenes := []*raster.Scene{
		testScene("late", "2023-03-01", 5, 0),
		testScene("cloudy", "2023-02-01", 50, 0),
		testScene("early-b", "2023-01-10", 5, 0),
		testScene("early-a", "2023-01-10", 5, 0),
	}

	got := Filter(scenes, baseQuery())
	require.Len(t, got, 3)
	assert.Equal(t, "early-a", got[0].ID)
	assert.Equal(t, "early-b", got[1].ID)
	assert.Equal(t, "late", got[2].ID)

	q := baseQuery()
	q.Start = date("2024-01-01")
	q.End = date("2024-02-01")
	empty := Filter(scenes, q)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource(testScene("a", "2023-02-01", 5, 0), testScene("b", "2023-02-01", 90, 0))
	got, err := src.Scenes(context.Background(), baseQuery())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(filepath.Join(t.TempDir(), "scenes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() }) //nolint:errcheck
	require.NoError(t, c.Migrate(context.Background()))
	return c
}

func TestCatalog_PutAndQuery(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	in := testScene("S2A_20230201", "2023-02-01", 5, 0)
	in.Bands["B3"].Unset(2)
	require.NoError(t, c.Put(ctx, in))
	require.NoError(t, c.Put(ctx, testScene("S2A_20230210", "2023-02-10", 40, 0)))
	require.NoError(t, c.Put(ctx, testScene("S2A_20230401", "2023-04-01", 5, 0)))
	require.NoError(t, c.Put(ctx, testScene("S2A_far", "2023-02-02", 5, 9000)))

	got, err := c.Scenes(ctx, baseQuery())
	require.NoError(t, err)
	require.Len(t, got, 1)

	s := got[0]
	assert.Equal(t, "S2A_20230201", s.ID)
	assert.True(t, s.Acquired.Equal(in.Acquired))
	assert.Equal(t, in.Grid, s.Grid)

	b3, err := s.Band("B3")
	require.NoError(t, err)
	v, ok := b3.At(1)
	assert.True(t, ok)
	assert.Equal(t, 2000.0, v)
	_, ok = b3.At(2)
	assert.False(t, ok, "no-data survives the round trip")
}

func TestCatalog_PutReplaces(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, testScene("a", "2023-02-01", 5, 0)))
	require.NoError(t, c.Put(ctx, testScene("a", "2023-02-01", 50, 0)))

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 50.0, list[0].CloudPct)
	assert.Equal(t, []string{"B3", "SCL"}, list[0].Bands)
}

func TestCatalog_PutValidates(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	err := c.Put(ctx, testScene("", "2023-02-01", 5, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")

	bad := testScene("bad", "2023-02-01", 5, 0)
	bad.Bands["B3"] = raster.NewBand(1)
	require.Error(t, c.Put(ctx, bad))
}

func TestCatalog_EmptyResult(t *testing.T) {
	c := newTestCatalog(t)
	got, err := c.Scenes(context.Background(), baseQuery())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSceneFile_RoundTrip(t *testing.T) {
	in := testScene("file", "2023-02-01", 7.5, 0)
	in.Bands["SCL"].Unset(0)

	var buf bytes.Buffer
	require.NoError(t, WriteSceneFile(&buf, in))

	out, err := ReadSceneFile(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.CloudPct, out.CloudPct)
	assert.True(t, in.Acquired.Equal(out.Acquired))
	assert.Equal(t, in.Grid, out.Grid)
	assert.Equal(t, in.Bands["SCL"].Valid, out.Bands["SCL"].Valid)
}

func TestSceneFile_NonFiniteBecomesNoData(t *testing.T) {
	in := testScene("nan", "2023-02-01", 5, 0)
	in.Bands["B3"].Values[1] = math.NaN()
	in.Bands["B3"].Values[3] = math.Inf(-1)

	var buf bytes.Buffer
	require.NoError(t, WriteSceneFile(&buf, in))
	out, err := ReadSceneFile(&buf)
	require.NoError(t, err)

	b3, err := out.Band("B3")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false}, b3.Valid)
}

func TestCatalog_PutDropsNonFinite(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	in := testScene("S2A_nan", "2023-02-01", 5, 0)
	in.Bands["B3"].Values[0] = math.NaN()
	require.NoError(t, c.Put(ctx, in))

	got, err := c.Scenes(ctx, baseQuery())
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, ok := got[0].Bands["B3"].At(0)
	assert.False(t, ok)
	assert.Equal(t, 3, got[0].Bands["B3"].ValidCount())
}
