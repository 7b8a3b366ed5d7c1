package geo

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Distance returns the planar distance from (x, y) to g. Points inside a
// polygon are at distance zero. Empty or unsupported geometries are
// infinitely far away.
func Distance(g geom.T, x, y float64) float64 {
	p := geom.Coord{x, y}

	switch t := g.(type) {
	case *geom.Point:
		if t.Empty() {
			return math.Inf(1)
		}
		return math.Hypot(t.X()-x, t.Y()-y)
	case *geom.MultiPoint:
		d := math.Inf(1)
		for i := 0; i < t.NumPoints(); i++ {
			d = math.Min(d, Distance(t.Point(i), x, y))
		}
		return d
	case *geom.LineString:
		return lineDistance(t.Layout(), p, t.FlatCoords())
	case *geom.LinearRing:
		return lineDistance(t.Layout(), p, t.FlatCoords())
	case *geom.MultiLineString:
		d := math.Inf(1)
		for i := 0; i < t.NumLineStrings(); i++ {
			d = math.Min(d, Distance(t.LineString(i), x, y))
		}
		return d
	case *geom.Polygon:
		if Contains(t, x, y) {
			return 0
		}
		d := math.Inf(1)
		for i := 0; i < t.NumLinearRings(); i++ {
			d = math.Min(d, lineDistance(t.Layout(), p, t.LinearRing(i).FlatCoords()))
		}
		return d
	case *geom.MultiPolygon:
		d := math.Inf(1)
		for i := 0; i < t.NumPolygons(); i++ {
			d = math.Min(d, Distance(t.Polygon(i), x, y))
			if d == 0 {
				break
			}
		}
		return d
	case *geom.GeometryCollection:
		d := math.Inf(1)
		for _, part := range t.Geoms() {
			d = math.Min(d, Distance(part, x, y))
			if d == 0 {
				break
			}
		}
		return d
	}
	return math.Inf(1)
}

// lineDistance measures to a flat coordinate sequence, treating a single
// vertex as a point.
func lineDistance(layout geom.Layout, p geom.Coord, flat []float64) float64 {
	stride := layout.Stride()
	switch {
	case len(flat) < stride:
		return math.Inf(1)
	case len(flat) < 2*stride:
		return math.Hypot(flat[0]-p[0], flat[1]-p[1])
	}
	return xy.DistanceFromPointToLineString(layout, p, flat)
}

// Bounds returns the bounds of g expanded by margin on every side.
func Bounds(g geom.T, margin float64) *geom.Bounds {
	minX, minY, maxX, maxY, ok := extent(g)
	if !ok {
		return geom.NewBounds(geom.NoLayout)
	}
	return geom.NewBounds(geom.XY).Set(minX-margin, minY-margin, maxX+margin, maxY+margin)
}

// extent walks collections part by part so mixed-layout members combine.
func extent(g geom.T) (minX, minY, maxX, maxY float64, ok bool) {
	if gc, isGC := g.(*geom.GeometryCollection); isGC {
		minX, minY = math.Inf(1), math.Inf(1)
		maxX, maxY = math.Inf(-1), math.Inf(-1)
		for _, part := range gc.Geoms() {
			x0, y0, x1, y1, partOK := extent(part)
			if !partOK {
				continue
			}
			minX, minY = math.Min(minX, x0), math.Min(minY, y0)
			maxX, maxY = math.Max(maxX, x1), math.Max(maxY, y1)
			ok = true
		}
		return minX, minY, maxX, maxY, ok
	}
	if g == nil || len(g.FlatCoords()) == 0 {
		return 0, 0, 0, 0, false
	}
	b := g.Bounds()
	return b.Min(0), b.Min(1), b.Max(0), b.Max(1), true
}
