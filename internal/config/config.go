package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DateLayout is the layout used for scene date range bounds.
const DateLayout = "2006-01-02"

// ErrInvalidConfig is returned (wrapped) by Validate when any parameter is malformed.
var ErrInvalidConfig = eris.New("invalid configuration")

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
	Study    StudyConfig    `yaml:"study" mapstructure:"study"`
	Scenes   SceneConfig    `yaml:"scenes" mapstructure:"scenes"`
	Mask     MaskConfig     `yaml:"mask" mapstructure:"mask"`
	Index    IndexConfig    `yaml:"index" mapstructure:"index"`
	Classes  ClassConfig    `yaml:"classes" mapstructure:"classes"`
	Routes   RouteConfig    `yaml:"routes" mapstructure:"routes"`
	Score    ScoreConfig    `yaml:"score" mapstructure:"score"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures where run results are persisted.
// Driver is one of "sqlite", "postgres", or "none".
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CatalogConfig points at the SQLite scene catalog.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// StudyConfig defines the study area and the analysis grid.
// The area is a buffered point unless AreaFile names a GeoJSON polygon.
type StudyConfig struct {
	CenterX   float64 `yaml:"center_x" mapstructure:"center_x"`
	CenterY   float64 `yaml:"center_y" mapstructure:"center_y"`
	Radius    float64 `yaml:"radius" mapstructure:"radius"`
	Segments  int     `yaml:"segments" mapstructure:"segments"`
	AreaFile  string  `yaml:"area_file" mapstructure:"area_file"`
	PixelSize float64 `yaml:"pixel_size" mapstructure:"pixel_size"`
}

// SceneConfig holds the scene filter predicates.
type SceneConfig struct {
	Start       string  `yaml:"start" mapstructure:"start"`
	End         string  `yaml:"end" mapstructure:"end"`
	MaxCloudPct float64 `yaml:"max_cloud_pct" mapstructure:"max_cloud_pct"`
}

// MaskConfig names the categorical quality band and the codes to drop.
type MaskConfig struct {
	Band         string `yaml:"band" mapstructure:"band"`
	ExcludeCodes []int  `yaml:"exclude_codes" mapstructure:"exclude_codes"`
}

// IndexConfig configures the normalized difference snow index and its smoothing.
type IndexConfig struct {
	BandA     string  `yaml:"band_a" mapstructure:"band_a"`
	BandB     string  `yaml:"band_b" mapstructure:"band_b"`
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	Radius    int     `yaml:"radius" mapstructure:"radius"`
	TileRows  int     `yaml:"tile_rows" mapstructure:"tile_rows"`
}

// ClassConfig holds the three fraction breakpoints (percent).
type ClassConfig struct {
	Breaks []float64 `yaml:"breaks" mapstructure:"breaks"`
}

// RouteConfig configures route input and zonal statistics.
type RouteConfig struct {
	File      string  `yaml:"file" mapstructure:"file"`
	NameField string  `yaml:"name_field" mapstructure:"name_field"`
	Buffer    float64 `yaml:"buffer" mapstructure:"buffer"`
	Scale     float64 `yaml:"scale" mapstructure:"scale"`
}

// ScoreConfig configures danger ranking.
type ScoreConfig struct {
	Tolerance  float64 `yaml:"tolerance" mapstructure:"tolerance"`
	NoCoverage float64 `yaml:"no_coverage" mapstructure:"no_coverage"`
}

// PipelineConfig configures execution.
type PipelineConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the results server.
// RateLimit is requests per second across the API; zero disables limiting.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimit   float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// MetricsConfig configures metrics export for batch runs. When Textfile is
// set, `run` writes its metrics there on exit.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SNOWROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "snowroute.db")
	v.SetDefault("catalog.path", "scenes.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("study.radius", 15000.0)
	v.SetDefault("study.segments", 64)
	v.SetDefault("study.pixel_size", 10.0)
	v.SetDefault("scenes.start", "2023-01-01")
	v.SetDefault("scenes.end", "2023-03-31")
	v.SetDefault("scenes.max_cloud_pct", 20.0)
	v.SetDefault("mask.band", "SCL")
	v.SetDefault("mask.exclude_codes", []int{3, 8, 9})
	v.SetDefault("index.band_a", "B3")
	v.SetDefault("index.band_b", "B11")
	v.SetDefault("index.threshold", 0.45)
	v.SetDefault("index.radius", 10)
	v.SetDefault("index.tile_rows", 256)
	v.SetDefault("classes.breaks", []float64{25, 50, 75})
	v.SetDefault("routes.name_field", "NAME")
	v.SetDefault("routes.buffer", 50.0)
	v.SetDefault("routes.scale", 10.0)
	v.SetDefault("score.tolerance", 1e-6)
	v.SetDefault("score.no_coverage", 999.0)
	v.SetDefault("pipeline.concurrency", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// DateRange parses the scene date bounds. End is exclusive.
func (s SceneConfig) DateRange() (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, s.Start)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "config: parse scenes.start %q", s.Start)
	}
	end, err := time.Parse(DateLayout, s.End)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "config: parse scenes.end %q", s.End)
	}
	return start, end, nil
}

// Validate checks the parameters a command needs before any raster work begins.
// Mode is one of "run", "analysis", "serve", "results", or "scenes".
func (c *Config) Validate(mode string) error {
	var missing []string

	switch mode {
	case "run":
		missing = append(missing, c.validateAnalysis()...)
		missing = append(missing, c.validateStore()...)
		if c.Routes.File == "" {
			missing = append(missing, "routes.file is required")
		}
		if c.Catalog.Path == "" {
			missing = append(missing, "catalog.path is required")
		}
	case "analysis":
		missing = append(missing, c.validateAnalysis()...)
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			missing = append(missing, "server.port must be between 1 and 65535")
		}
		if c.Server.RateLimit < 0 {
			missing = append(missing, "server.rate_limit must not be negative")
		} else if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
			missing = append(missing, "server.rate_burst must be at least 1 when rate limiting")
		}
		missing = append(missing, c.validateStore()...)
	case "results":
		missing = append(missing, c.validateStore()...)
	case "scenes":
		if c.Catalog.Path == "" {
			missing = append(missing, "catalog.path is required")
		}
	}

	if len(missing) > 0 {
		return eris.Wrapf(ErrInvalidConfig, "config: %s", strings.Join(missing, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "none":
		return nil
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
		return nil
	default:
		return []string{fmt.Sprintf("store.driver %q is not one of sqlite, postgres, none", c.Store.Driver)}
	}
}

func (c *Config) validateAnalysis() []string {
	var problems []string

	start, end, err := c.Scenes.DateRange()
	if err != nil {
		problems = append(problems, err.Error())
	} else if !end.After(start) {
		problems = append(problems, "scenes.end must be after scenes.start")
	}
	if c.Scenes.MaxCloudPct <= 0 || c.Scenes.MaxCloudPct > 100 {
		problems = append(problems, "scenes.max_cloud_pct must be in (0, 100]")
	}

	if c.Study.AreaFile == "" {
		if c.Study.Radius <= 0 {
			problems = append(problems, "study.radius must be positive")
		}
		if c.Study.Segments < 8 {
			problems = append(problems, "study.segments must be at least 8")
		}
	}
	if c.Study.PixelSize <= 0 {
		problems = append(problems, "study.pixel_size must be positive")
	}

	if c.Mask.Band == "" {
		problems = append(problems, "mask.band is required")
	}
	if len(c.Mask.ExcludeCodes) == 0 {
		problems = append(problems, "mask.exclude_codes must not be empty")
	}

	if c.Index.BandA == "" || c.Index.BandB == "" {
		problems = append(problems, "index.band_a and index.band_b are required")
	} else if c.Index.BandA == c.Index.BandB {
		problems = append(problems, "index.band_a and index.band_b must differ")
	}
	if c.Index.Threshold < -1 || c.Index.Threshold > 1 {
		problems = append(problems, "index.threshold must be in [-1, 1]")
	}
	if c.Index.Radius < 1 {
		problems = append(problems, "index.radius must be at least 1")
	}
	if c.Index.TileRows < 1 {
		problems = append(problems, "index.tile_rows must be at least 1")
	}

	if len(c.Classes.Breaks) != 3 {
		problems = append(problems, "classes.breaks must hold exactly 3 values")
	} else {
		prev := 0.0
		for i, b := range c.Classes.Breaks {
			if b <= prev || b >= 100 {
				problems = append(problems, fmt.Sprintf("classes.breaks[%d]=%g must be ascending within (0, 100)", i, b))
				break
			}
			prev = b
		}
	}

	if c.Routes.Buffer < 0 {
		problems = append(problems, "routes.buffer must not be negative")
	}
	if c.Routes.Scale <= 0 {
		problems = append(problems, "routes.scale must be positive")
	} else if c.Study.PixelSize > 0 && c.Routes.Scale > c.Study.PixelSize {
		problems = append(problems, "routes.scale must not be coarser than study.pixel_size")
	}
	if c.Routes.NameField == "" {
		problems = append(problems, "routes.name_field is required")
	}

	if c.Score.Tolerance <= 0 {
		problems = append(problems, "score.tolerance must be positive")
	}
	if c.Score.NoCoverage <= 4 {
		problems = append(problems, "score.no_coverage must be greater than 4")
	}
	if c.Pipeline.Concurrency < 1 {
		problems = append(problems, "pipeline.concurrency must be at least 1")
	}

	return problems
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
