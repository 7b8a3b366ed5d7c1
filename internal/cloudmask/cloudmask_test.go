package cloudmask

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/snowroute/internal/raster"
)

func sclScene(codes []float64) *raster.Scene {
	n := len(codes)
	refl := make([]float64, n)
	for i := range refl {
		refl[i] = float64(1000 * (i + 1))
	}
	return &raster.Scene{
		Image: raster.Image{
			Grid: raster.Grid{PixelSize: 10, Cols: n, Rows: 1},
			Bands: map[string]*raster.Band{
				"B3":  raster.NewBandFrom(refl),
				"SCL": raster.NewBandFrom(codes),
			},
		},
		ID:       "s",
		Acquired: time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
		CloudPct: 10,
	}
}

func TestMask(t *testing.T) {
	m := New(DefaultBand, DefaultExclude)
	s := sclScene([]float64{4, 3, 8, 9, 11, 6})
	s.Bands["SCL"].Unset(4)

	mask, err := m.Mask(s)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, false, false, true}, mask.Keep)
	assert.Equal(t, 2, mask.Kept())
}

func TestMask_ConfigurableCodes(t *testing.T) {
	m := New(DefaultBand, []int{CodeCloudShadow, CodeWater, CodeCloudMedium, CodeCloudHigh})
	mask, err := m.Mask(sclScene([]float64{4, 6, 5}))
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, mask.Keep)
	assert.Equal(t, []int{3, 6, 8, 9}, m.Excluded())
}

func TestMask_MissingBand(t *testing.T) {
	m := New("QA60", DefaultExclude)
	_, err := m.Mask(sclScene([]float64{4}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QA60")
}

func TestApply_SetsNoDataNotZero(t *testing.T) {
	m := New(DefaultBand, DefaultExclude)
	s := sclScene([]float64{4, 9, 5})

	out, err := m.Apply(s)
	require.NoError(t, err)

	b3 := out.Bands["B3"]
	_, ok := b3.At(1)
	assert.False(t, ok, "cloudy pixel must be no data")
	v, ok := b3.At(0)
	assert.True(t, ok)
	assert.Equal(t, 1000.0, v)
	_, ok = out.Bands["SCL"].At(1)
	assert.False(t, ok)

	// Input is untouched.
	_, ok = s.Bands["B3"].At(1)
	assert.True(t, ok)
	assert.Equal(t, s.ID, out.ID)
	assert.Equal(t, s.Acquired, out.Acquired)
}

func TestApply_Idempotent(t *testing.T) {
	m := New(DefaultBand, DefaultExclude)
	s := sclScene([]float64{4, 3, 8, 5, 9, 10})

	once, err := m.Apply(s)
	require.NoError(t, err)
	twice, err := m.Apply(once)
	require.NoError(t, err)

	for name, b := range once.Bands {
		assert.Equal(t, b.Valid, twice.Bands[name].Valid, name)
		assert.Equal(t, b.Values, twice.Bands[name].Values, name)
	}
}

func TestApplyAll(t *testing.T) {
	m := New(DefaultBand, DefaultExclude)
	out, err := m.ApplyAll([]*raster.Scene{sclScene([]float64{4}), sclScene([]float64{9})})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Bands["B3"].ValidCount())
	assert.Equal(t, 0, out[1].Bands["B3"].ValidCount())

	empty, err := m.ApplyAll(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
