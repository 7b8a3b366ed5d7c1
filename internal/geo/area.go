// Package geo provides planar geometry helpers for the study area and route
// buffers: point-in-polygon, point-to-geometry distance, and shapefile and
// GeoJSON conversion into go-geom types.
package geo

import (
	"encoding/json"
	"io"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
)

// Circle approximates a buffered point as a closed polygon with the given
// number of segments.
func Circle(cx, cy, radius float64, segments int) *geom.Polygon {
	flat := make([]float64, 0, 2*(segments+1))
	for i := 0; i < segments; i++ {
		a := 2 * math.Pi * float64(i) / float64(segments)
		flat = append(flat, cx+radius*math.Cos(a), cy+radius*math.Sin(a))
	}
	flat = append(flat, flat[0], flat[1])
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
}

// Contains reports whether (x, y) lies inside the polygon's shell and
// outside all of its holes. Points on the boundary count as inside.
func Contains(poly *geom.Polygon, x, y float64) bool {
	if poly == nil || poly.NumLinearRings() == 0 {
		return false
	}
	p := geom.Coord{x, y}
	layout := poly.Layout()
	if !xy.IsPointInRing(layout, p, poly.LinearRing(0).FlatCoords()) {
		return false
	}
	for i := 1; i < poly.NumLinearRings(); i++ {
		hole := poly.LinearRing(i)
		if xy.IsPointInRing(layout, p, hole.FlatCoords()) && !xy.IsOnLine(layout, p, hole.FlatCoords()) {
			return false
		}
	}
	return true
}

// ReadPolygon decodes a study-area polygon from GeoJSON. The document may be
// a bare geometry, a Feature, or a FeatureCollection whose first feature is
// a polygon.
func ReadPolygon(r io.Reader) (*geom.Polygon, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "geo: read area")
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "geo: decode area")
	}

	var g geom.T
	switch head.Type {
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrap(err, "geo: decode area feature collection")
		}
		if len(fc.Features) == 0 {
			return nil, eris.New("geo: area feature collection is empty")
		}
		g = fc.Features[0].Geometry
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "geo: decode area feature")
		}
		g = f.Geometry
	default:
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, eris.Wrap(err, "geo: decode area geometry")
		}
	}

	poly, ok := g.(*geom.Polygon)
	if !ok {
		return nil, eris.Errorf("geo: area must be a Polygon, got %T", g)
	}
	return poly, nil
}
