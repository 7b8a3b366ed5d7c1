// Package snow derives snow cover from a composite: the normalized difference
// snow index, its binary snow mask, the neighbourhood snow fraction, and the
// four-level fraction classes.
package snow

import (
	"context"
	"math"
	"runtime"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/snowroute/internal/raster"
)

// DefaultThreshold is the NDSI value above which a pixel is snow.
const DefaultThreshold = 0.45

// NormalizedDifference computes (a-b)/(a+b) per pixel. The result is
// undefined where either operand is undefined or a+b is zero, and wherever
// the quotient is NaN or falls outside [-1, 1].
func NormalizedDifference(img *raster.Image, a, b string) (*raster.Band, error) {
	ba, err := img.Band(a)
	if err != nil {
		return nil, eris.Wrap(err, "snow: normalized difference")
	}
	bb, err := img.Band(b)
	if err != nil {
		return nil, eris.Wrap(err, "snow: normalized difference")
	}
	out := raster.NewBand(img.Grid.Len())
	for i := range out.Values {
		va, okA := ba.At(i)
		vb, okB := bb.At(i)
		if !okA || !okB {
			continue
		}
		sum := va + vb
		if sum == 0 {
			continue
		}
		v := (va - vb) / sum
		// Out of [-1, 1] only when a reflectance is negative or non-finite.
		if math.IsNaN(v) || v < -1 || v > 1 {
			continue
		}
		out.Set(i, v)
	}
	return out, nil
}

// Threshold returns 1 where idx is strictly greater than cutoff and 0
// elsewhere. Undefined and NaN pixels are undefined in the mask.
func Threshold(idx *raster.Band, cutoff float64) *raster.Band {
	out := raster.NewBand(idx.Len())
	for i := range out.Values {
		v, ok := idx.At(i)
		if !ok || math.IsNaN(v) {
			continue
		}
		if v > cutoff {
			out.Set(i, 1)
		} else {
			out.Set(i, 0)
		}
	}
	return out
}

// NeighborhoodFraction returns, for each pixel, 100 times the mean of mask
// over the (2*radius+1)² square window centred on it. A pixel is undefined
// unless its whole window lies inside the raster and every window pixel is
// defined.
//
// Rows are split into tiles of tileRows processed concurrently; each tile
// reads a halo of radius rows on either side so the result does not depend
// on the tiling.
func NeighborhoodFraction(ctx context.Context, grid raster.Grid, mask *raster.Band, radius, tileRows int) (*raster.Band, error) {
	if radius < 1 {
		return nil, eris.Errorf("snow: radius must be at least 1, got %d", radius)
	}
	if tileRows < 1 {
		return nil, eris.Errorf("snow: tile rows must be at least 1, got %d", tileRows)
	}
	if mask.Len() != grid.Len() {
		return nil, eris.Errorf("snow: mask has %d pixels, grid has %d", mask.Len(), grid.Len())
	}

	out := raster.NewBand(grid.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for r0 := 0; r0 < grid.Rows; r0 += tileRows {
		r1 := min(r0+tileRows, grid.Rows)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return eris.Wrap(err, "snow: neighborhood fraction")
			}
			fractionTile(grid, mask, out, radius, r0, r1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fractionTile fills rows [r0, r1) of out. Tiles write disjoint pixels.
func fractionTile(grid raster.Grid, mask, out *raster.Band, radius, r0, r1 int) {
	cols := grid.Cols
	h0 := max(r0-radius, 0)
	h1 := min(r1+radius, grid.Rows)
	w := cols + 1

	// Summed-area tables over the halo rows: snow count and undefined count.
	snow := make([]int64, (h1-h0+1)*w)
	bad := make([]int64, (h1-h0+1)*w)
	for r := h0; r < h1; r++ {
		lr := r - h0 + 1
		var rowSnow, rowBad int64
		for c := 0; c < cols; c++ {
			v, ok := mask.At(grid.Index(c, r))
			switch {
			case !ok:
				rowBad++
			case v > 0:
				rowSnow++
			}
			snow[lr*w+c+1] = snow[(lr-1)*w+c+1] + rowSnow
			bad[lr*w+c+1] = bad[(lr-1)*w+c+1] + rowBad
		}
	}
	rect := func(sat []int64, top, left, bottom, right int) int64 {
		return sat[bottom*w+right] - sat[top*w+right] - sat[bottom*w+left] + sat[top*w+left]
	}

	area := float64((2*radius + 1) * (2*radius + 1))
	for r := r0; r < r1; r++ {
		if r-radius < 0 || r+radius >= grid.Rows {
			continue
		}
		top := r - radius - h0
		bottom := r + radius - h0 + 1
		for c := radius; c < cols-radius; c++ {
			left, right := c-radius, c+radius+1
			if rect(bad, top, left, bottom, right) > 0 {
				continue
			}
			out.Set(grid.Index(c, r), 100*float64(rect(snow, top, left, bottom, right))/area)
		}
	}
}
