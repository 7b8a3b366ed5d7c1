// Package route merges route fragments by name, buffers them into zones, and
// counts the snow-cover classes each zone overlaps.
package route

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/snowroute/internal/geo"
	"github.com/sells-group/snowroute/internal/snow"
)

// Fragment is one input feature: a named piece of route geometry.
type Fragment struct {
	Name     string
	Geometry geom.T
}

// Merged is every fragment sharing a name, as one multi-part geometry.
type Merged struct {
	Name      string
	Geometry  *geom.GeometryCollection
	Fragments int
}

// Merge groups fragments by exact name in first-seen order. Disjoint legs
// stay as separate parts of the merged geometry. Fragments without geometry
// still register their name.
func Merge(fragments []Fragment) ([]Merged, error) {
	index := make(map[string]int)
	var out []Merged
	for _, f := range fragments {
		i, ok := index[f.Name]
		if !ok {
			i = len(out)
			index[f.Name] = i
			out = append(out, Merged{Name: f.Name, Geometry: geom.NewGeometryCollection()})
		}
		m := &out[i]
		m.Fragments++
		if f.Geometry == nil {
			continue
		}
		if err := m.Geometry.Push(parts(f.Geometry)...); err != nil {
			return nil, eris.Wrapf(err, "route: merge %q", f.Name)
		}
	}
	return out, nil
}

// parts flattens nested collections.
func parts(g geom.T) []geom.T {
	gc, ok := g.(*geom.GeometryCollection)
	if !ok {
		return []geom.T{g}
	}
	var out []geom.T
	for _, p := range gc.Geoms() {
		out = append(out, parts(p)...)
	}
	return out
}

// Zone is the set of points within Distance of a route geometry.
type Zone struct {
	Name     string
	Geometry geom.T
	Distance float64
}

// Buffer returns the zone within distance of m.
func Buffer(m Merged, distance float64) (Zone, error) {
	if distance < 0 || math.IsNaN(distance) {
		return Zone{}, eris.Errorf("route: buffer distance must not be negative, got %g", distance)
	}
	return Zone{Name: m.Name, Geometry: m.Geometry, Distance: distance}, nil
}

// Contains reports whether (x, y) lies in the zone.
func (z Zone) Contains(x, y float64) bool {
	return geo.Distance(z.Geometry, x, y) <= z.Distance
}

// Bounds returns the zone's extent: the geometry bounds grown by Distance.
func (z Zone) Bounds() *geom.Bounds {
	return geo.Bounds(z.Geometry, z.Distance)
}

// ZonalHistogram samples the zone on a lattice of spacing scale anchored at
// the class raster origin and counts the class under every sample that falls
// inside the zone. Samples on undefined pixels or off the raster are not
// counted. With scale equal to the pixel size the samples are pixel centres
// and the counts are pixel counts.
func ZonalHistogram(zone Zone, classes *snow.ClassRaster, scale float64) (snow.Histogram, error) {
	var h snow.Histogram
	grid := classes.Grid
	if scale <= 0 {
		return h, eris.Errorf("route: scale must be positive, got %g", scale)
	}
	if scale > grid.PixelSize {
		return h, eris.Errorf("route: scale %g is coarser than pixel size %g", scale, grid.PixelSize)
	}

	b := zone.Bounds()
	if b.IsEmpty() {
		return h, nil
	}
	nx := int(math.Ceil(float64(grid.Cols) * grid.PixelSize / scale))
	ny := int(math.Ceil(float64(grid.Rows) * grid.PixelSize / scale))
	i0 := max(int(math.Floor((b.Min(0)-grid.X0)/scale)), 0)
	i1 := min(int(math.Ceil((b.Max(0)-grid.X0)/scale)), nx)
	j0 := max(int(math.Floor((grid.Y0-b.Max(1))/scale)), 0)
	j1 := min(int(math.Ceil((grid.Y0-b.Min(1))/scale)), ny)

	for j := j0; j < j1; j++ {
		y := grid.Y0 - (float64(j)+0.5)*scale
		for i := i0; i < i1; i++ {
			x := grid.X0 + (float64(i)+0.5)*scale
			c, r, ok := grid.Locate(x, y)
			if !ok {
				continue
			}
			class, ok := classes.At(grid.Index(c, r))
			if !ok || !zone.Contains(x, y) {
				continue
			}
			h.Add(class, 1)
		}
	}
	return h, nil
}

// Scored is a merged route with its danger rating.
type Scored struct {
	Merged
	Histogram  snow.Histogram
	Index      float64
	Covered    bool
	IsSafest   bool
	StyleColor string
}
