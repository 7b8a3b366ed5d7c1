package route

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/snowroute/internal/geo"
)

// ReadShapefile reads route fragments from a shapefile, naming each by the
// nameField attribute (case-insensitive).
func ReadShapefile(path, nameField string) ([]Fragment, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "route: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	idx := -1
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(name, nameField) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, eris.Errorf("route: shapefile %s has no field %q", path, nameField)
	}

	var frags []Fragment
	var empty int
	for reader.Next() {
		_, shape := reader.Shape()
		name := strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
		// Records without usable geometry keep their name so the route
		// still reports, uncovered.
		g := geo.FromShape(shape)
		if g == nil {
			empty++
		}
		frags = append(frags, Fragment{Name: name, Geometry: g})
	}

	if empty > 0 {
		zap.L().Debug("route: shapefile records without geometry",
			zap.String("path", path),
			zap.Int("records", empty),
		)
	}
	return frags, nil
}

// ReadGeoJSON reads route fragments from a GeoJSON FeatureCollection, naming
// each by its nameField property. Non-string names are formatted as JSON.
func ReadGeoJSON(r io.Reader, nameField string) ([]Fragment, error) {
	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "route: decode geojson")
	}

	frags := make([]Fragment, 0, len(fc.Features))
	for i, f := range fc.Features {
		name := propertyString(f.Properties[nameField])
		if f.Geometry == nil {
			zap.L().Debug("route: feature without geometry", zap.Int("feature", i), zap.String("name", name))
			frags = append(frags, Fragment{Name: name})
			continue
		}
		frags = append(frags, Fragment{Name: name, Geometry: f.Geometry})
	}
	return frags, nil
}

func propertyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
