// Package composite reduces a masked scene stack to a single per-pixel median
// image and clips it to the study area.
package composite

import (
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/snowroute/internal/geo"
	"github.com/sells-group/snowroute/internal/raster"
)

// Median computes the per-pixel, per-band median of the defined values across
// scenes, after aligning each scene to grid. A pixel is undefined only when
// no scene defines it; an empty scene set yields an all-undefined image.
// With an even number of contributions the two middle values are averaged.
func Median(grid raster.Grid, scenes []*raster.Scene, bands []string) (*raster.Image, error) {
	stacks := make(map[string][]*raster.Band, len(bands))
	for _, s := range scenes {
		aligned, err := raster.Align(&s.Image, grid)
		if err != nil {
			return nil, eris.Wrapf(err, "composite: align scene %s", s.ID)
		}
		for _, name := range bands {
			b, err := aligned.Band(name)
			if err != nil {
				return nil, eris.Wrapf(err, "composite: scene %s", s.ID)
			}
			stacks[name] = append(stacks[name], b)
		}
	}

	out := raster.NewImage(grid, bands...)
	buf := make([]float64, 0, len(scenes))
	for _, name := range bands {
		dst := out.Bands[name]
		stack := stacks[name]
		for i := 0; i < grid.Len(); i++ {
			buf = buf[:0]
			for _, b := range stack {
				if v, ok := b.At(i); ok {
					buf = append(buf, v)
				}
			}
			if len(buf) == 0 {
				continue
			}
			dst.Set(i, median(buf))
		}
	}
	return out, nil
}

// median sorts vals in place.
func median(vals []float64) float64 {
	slices.Sort(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// Clip returns a copy of img with every pixel whose centre lies outside area
// undefined.
func Clip(img *raster.Image, area *geom.Polygon) *raster.Image {
	inside := Footprint(img.Grid, area)
	out := &raster.Image{Grid: img.Grid, Bands: make(map[string]*raster.Band, len(img.Bands))}
	for name, b := range img.Bands {
		dst := b.Clone()
		for i, in := range inside {
			if !in {
				dst.Unset(i)
			}
		}
		out.Bands[name] = dst
	}
	return out
}

// Footprint reports, per pixel of grid, whether its centre lies inside area.
func Footprint(grid raster.Grid, area *geom.Polygon) []bool {
	inside := make([]bool, grid.Len())
	for r := 0; r < grid.Rows; r++ {
		for c := 0; c < grid.Cols; c++ {
			x, y := grid.Center(c, r)
			inside[grid.Index(c, r)] = geo.Contains(area, x, y)
		}
	}
	return inside
}
