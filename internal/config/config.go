// Package config loads backscatter settings from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/backscatter/internal/anomaly"
	"github.com/HerbHall/backscatter/internal/regression"
	"github.com/HerbHall/backscatter/pkg/series"
	"github.com/spf13/viper"
)

// Anomaly input frames.
const (
	InputRaw        = "raw"
	InputRegression = "regression"
)

// Config is the typed view of all settings.
type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Source   SourceConfig   `mapstructure:"source"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DatabaseConfig locates the SQLite run ledger.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// PipelineConfig holds the processing parameters for every orbit.
type PipelineConfig struct {
	regression.Config `mapstructure:",squash"`

	AnomalyInput  string  `mapstructure:"anomaly_input"`  // raw or regression
	AnomalyFactor float64 `mapstructure:"anomaly_factor"` // insensitive band in linear std units
	PeakDistance  int     `mapstructure:"peak_distance"`
	AdjacencyDays int     `mapstructure:"adjacency_days"`
	SplitFeatures bool    `mapstructure:"split_features"`
	Concurrency   int     `mapstructure:"concurrency"` // orbits processed in parallel
}

// SourceConfig configures the statistics API client.
type SourceConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	Rate    float64       `mapstructure:"rate"` // requests per second, 0 disables limiting
	Burst   int           `mapstructure:"burst"`
}

// CatalogConfig configures the optional scene catalog.
type CatalogConfig struct {
	URL        string `mapstructure:"url"`
	Collection string `mapstructure:"collection"`
	WindowDays int    `mapstructure:"window_days"`
}

// MetricsConfig sets the /metrics listen address; empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:  "./data",
		Database: DatabaseConfig{Path: "./data/backscatter.db"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Pipeline: PipelineConfig{
			Config:        regression.DefaultConfig(),
			AnomalyInput:  InputRaw,
			AnomalyFactor: anomaly.DefaultFactor,
			PeakDistance:  anomaly.DefaultDistance,
			AdjacencyDays: 31,
			SplitFeatures: true,
			Concurrency:   2,
		},
		Source:  SourceConfig{Timeout: 60 * time.Second, Rate: 1, Burst: 1},
		Catalog: CatalogConfig{Collection: "sentinel-1-grd", WindowDays: 12},
	}
}

// Load reads configuration from configPath, or from backscatter.yaml in the
// usual locations when configPath is empty, then from BS_* environment
// variables. A missing default config file is not an error.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("backscatter")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/backscatter")
	}

	// BS_PIPELINE_REGRESSION_MODE=poly
	v.SetEnvPrefix("BS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("pipeline.regression_mode", string(d.Pipeline.Mode))
	v.SetDefault("pipeline.monthly", d.Pipeline.Monthly)
	v.SetDefault("pipeline.rolling_window", d.Pipeline.Window)
	v.SetDefault("pipeline.spline_smoothing", d.Pipeline.Smoothing)
	v.SetDefault("pipeline.poly_degree", d.Pipeline.Degree)
	v.SetDefault("pipeline.min_observations", d.Pipeline.MinObservations)
	v.SetDefault("pipeline.anomaly_input", d.Pipeline.AnomalyInput)
	v.SetDefault("pipeline.anomaly_factor", d.Pipeline.AnomalyFactor)
	v.SetDefault("pipeline.peak_distance", d.Pipeline.PeakDistance)
	v.SetDefault("pipeline.adjacency_days", d.Pipeline.AdjacencyDays)
	v.SetDefault("pipeline.split_features", d.Pipeline.SplitFeatures)
	v.SetDefault("pipeline.concurrency", d.Pipeline.Concurrency)

	v.SetDefault("source.url", d.Source.URL)
	v.SetDefault("source.token", d.Source.Token)
	v.SetDefault("source.timeout", d.Source.Timeout)
	v.SetDefault("source.rate", d.Source.Rate)
	v.SetDefault("source.burst", d.Source.Burst)

	v.SetDefault("catalog.url", d.Catalog.URL)
	v.SetDefault("catalog.collection", d.Catalog.Collection)
	v.SetDefault("catalog.window_days", d.Catalog.WindowDays)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated and bounded settings.
func (c *Config) Validate() error {
	mode, err := regression.ParseMode(string(c.Pipeline.Mode))
	if err != nil {
		return err
	}
	c.Pipeline.Mode = mode

	switch strings.ToLower(c.Pipeline.AnomalyInput) {
	case InputRaw, InputRegression:
		c.Pipeline.AnomalyInput = strings.ToLower(c.Pipeline.AnomalyInput)
	default:
		return &series.ConfigError{Field: "anomaly input", Value: c.Pipeline.AnomalyInput,
			Valid: []string{InputRaw, InputRegression}}
	}

	if c.Pipeline.AnomalyFactor < 0 {
		return &series.ConfigError{Field: "anomaly factor", Value: fmt.Sprint(c.Pipeline.AnomalyFactor),
			Valid: []string{">= 0"}}
	}
	if c.Pipeline.Concurrency < 1 {
		c.Pipeline.Concurrency = 1
	}
	return nil
}

// Detector builds the anomaly detector described by the pipeline settings.
func (p PipelineConfig) Detector() *anomaly.Detector {
	return anomaly.NewDetector(
		anomaly.WithFactor(p.AnomalyFactor),
		anomaly.WithDistance(p.PeakDistance),
		anomaly.WithAdjacency(time.Duration(p.AdjacencyDays)*24*time.Hour),
	)
}

// Window returns the catalog search radius.
func (c CatalogConfig) Window() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}
