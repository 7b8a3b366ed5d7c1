package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "snowroute.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "scenes.db", cfg.Catalog.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.InDelta(t, 20, cfg.Server.RateLimit, 0.001)
	assert.InDelta(t, 15000, cfg.Study.Radius, 0.001)
	assert.InDelta(t, 10, cfg.Study.PixelSize, 0.001)
	assert.Equal(t, "2023-01-01", cfg.Scenes.Start)
	assert.Equal(t, "2023-03-31", cfg.Scenes.End)
	assert.InDelta(t, 20, cfg.Scenes.MaxCloudPct, 0.001)
	assert.Equal(t, "SCL", cfg.Mask.Band)
	assert.Equal(t, []int{3, 8, 9}, cfg.Mask.ExcludeCodes)
	assert.Equal(t, "B3", cfg.Index.BandA)
	assert.Equal(t, "B11", cfg.Index.BandB)
	assert.InDelta(t, 0.45, cfg.Index.Threshold, 0.0001)
	assert.Equal(t, 10, cfg.Index.Radius)
	assert.Equal(t, []float64{25, 50, 75}, cfg.Classes.Breaks)
	assert.Equal(t, "NAME", cfg.Routes.NameField)
	assert.InDelta(t, 50, cfg.Routes.Buffer, 0.001)
	assert.InDelta(t, 10, cfg.Routes.Scale, 0.001)
	assert.InDelta(t, 999, cfg.Score.NoCoverage, 0.001)
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	assert.Empty(t, cfg.Metrics.Textfile)

	require.NoError(t, cfg.Validate("analysis"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/snow
study:
  center_x: 470000
  center_y: 5090000
  radius: 2000
scenes:
  start: "2022-12-01"
  end: "2023-02-01"
routes:
  file: routes.shp
  buffer: 25
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/snow", cfg.Store.DatabaseURL)
	assert.InDelta(t, 470000, cfg.Study.CenterX, 0.001)
	assert.InDelta(t, 2000, cfg.Study.Radius, 0.001)
	assert.Equal(t, "2022-12-01", cfg.Scenes.Start)
	assert.Equal(t, "routes.shp", cfg.Routes.File)
	assert.InDelta(t, 25, cfg.Routes.Buffer, 0.001)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset keys keep their defaults.
	assert.Equal(t, "B11", cfg.Index.BandB)
}

func TestLoadEnvOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SNOWROUTE_STORE_DRIVER", "none")
	t.Setenv("SNOWROUTE_ROUTES_BUFFER", "75")
	t.Setenv("SNOWROUTE_SERVER_PORT", "9090")
	t.Setenv("SNOWROUTE_METRICS_TEXTFILE", "/var/lib/node_exporter/snowroute.prom")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.InDelta(t, 75, cfg.Routes.Buffer, 0.001)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/node_exporter/snowroute.prom", cfg.Metrics.Textfile)
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o600))

	_, err := Load()
	require.Error(t, err)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Routes.File = "routes.geojson"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		mutate func(*Config)
		want   string
	}{
		{"bad start date", "analysis", func(c *Config) { c.Scenes.Start = "01/01/2023" }, "scenes.start"},
		{"end before start", "analysis", func(c *Config) { c.Scenes.End = "2022-12-31" }, "scenes.end must be after"},
		{"empty range", "analysis", func(c *Config) { c.Scenes.End = c.Scenes.Start }, "scenes.end must be after"},
		{"cloud zero", "analysis", func(c *Config) { c.Scenes.MaxCloudPct = 0 }, "scenes.max_cloud_pct"},
		{"cloud above 100", "analysis", func(c *Config) { c.Scenes.MaxCloudPct = 101 }, "scenes.max_cloud_pct"},
		{"radius", "analysis", func(c *Config) { c.Study.Radius = 0 }, "study.radius"},
		{"segments", "analysis", func(c *Config) { c.Study.Segments = 3 }, "study.segments"},
		{"pixel size", "analysis", func(c *Config) { c.Study.PixelSize = 0 }, "study.pixel_size"},
		{"mask band", "analysis", func(c *Config) { c.Mask.Band = "" }, "mask.band"},
		{"exclude codes", "analysis", func(c *Config) { c.Mask.ExcludeCodes = nil }, "mask.exclude_codes"},
		{"same bands", "analysis", func(c *Config) { c.Index.BandB = c.Index.BandA }, "must differ"},
		{"threshold", "analysis", func(c *Config) { c.Index.Threshold = 1.5 }, "index.threshold"},
		{"index radius", "analysis", func(c *Config) { c.Index.Radius = 0 }, "index.radius"},
		{"tile rows", "analysis", func(c *Config) { c.Index.TileRows = 0 }, "index.tile_rows"},
		{"two breaks", "analysis", func(c *Config) { c.Classes.Breaks = []float64{25, 50} }, "exactly 3"},
		{"unordered breaks", "analysis", func(c *Config) { c.Classes.Breaks = []float64{50, 25, 75} }, "ascending"},
		{"break at 100", "analysis", func(c *Config) { c.Classes.Breaks = []float64{25, 50, 100} }, "ascending"},
		{"negative buffer", "analysis", func(c *Config) { c.Routes.Buffer = -1 }, "routes.buffer"},
		{"zero scale", "analysis", func(c *Config) { c.Routes.Scale = 0 }, "routes.scale must be positive"},
		{"coarse scale", "analysis", func(c *Config) { c.Routes.Scale = 20 }, "coarser"},
		{"name field", "analysis", func(c *Config) { c.Routes.NameField = "" }, "routes.name_field"},
		{"tolerance", "analysis", func(c *Config) { c.Score.Tolerance = 0 }, "score.tolerance"},
		{"sentinel in class range", "analysis", func(c *Config) { c.Score.NoCoverage = 4 }, "score.no_coverage"},
		{"concurrency", "analysis", func(c *Config) { c.Pipeline.Concurrency = 0 }, "pipeline.concurrency"},
		{"route file", "run", func(c *Config) { c.Routes.File = "" }, "routes.file"},
		{"catalog path", "run", func(c *Config) { c.Catalog.Path = "" }, "catalog.path"},
		{"store driver", "run", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"store url", "results", func(c *Config) { c.Store.DatabaseURL = "" }, "store.database_url"},
		{"port", "serve", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"rate limit", "serve", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"rate burst", "serve", func(c *Config) { c.Server.RateBurst = 0 }, "server.rate_burst"},
		{"scenes catalog", "scenes", func(c *Config) { c.Catalog.Path = "" }, "catalog.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig(t)
	for _, mode := range []string{"run", "analysis", "serve", "results", "scenes"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}

	cfg.Store.Driver = "none"
	cfg.Store.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("run"))

	cfg.Study.AreaFile = "area.geojson"
	cfg.Study.Radius = 0
	assert.NoError(t, cfg.Validate("analysis"), "area file replaces the buffered point")
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := validConfig(t)
	cfg.Routes.Buffer = -5
	cfg.Score.Tolerance = 0

	err := cfg.Validate("analysis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "routes.buffer")
	assert.Contains(t, err.Error(), "score.tolerance")
}

func TestDateRange(t *testing.T) {
	start, end, err := SceneConfig{Start: "2023-01-01", End: "2023-03-31"}.DateRange()
	require.NoError(t, err)
	assert.Equal(t, 2023, start.Year())
	assert.Equal(t, 31, end.Day())

	_, _, err = SceneConfig{Start: "2023-01-01", End: "soon"}.DateRange()
	require.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	orig := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(orig) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	require.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
