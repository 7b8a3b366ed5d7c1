package pipeline

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/snowroute/internal/config"
	"github.com/sells-group/snowroute/internal/geo"
)

// StudyArea returns the configured study polygon: the GeoJSON area file when
// set, otherwise the buffered centre point.
func StudyArea(cfg config.StudyConfig) (*geom.Polygon, error) {
	if cfg.AreaFile == "" {
		return geo.Circle(cfg.CenterX, cfg.CenterY, cfg.Radius, cfg.Segments), nil
	}
	f, err := os.Open(cfg.AreaFile)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open study area %s", cfg.AreaFile)
	}
	defer f.Close() //nolint:errcheck

	poly, err := geo.ReadPolygon(f)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: study area %s", cfg.AreaFile)
	}
	return poly, nil
}
