package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/HerbHall/backscatter/internal/aoi"
	"github.com/HerbHall/backscatter/internal/catalog"
	"github.com/HerbHall/backscatter/internal/collection"
	"github.com/HerbHall/backscatter/internal/config"
	"github.com/HerbHall/backscatter/internal/metrics"
	"github.com/HerbHall/backscatter/internal/pipeline"
	"github.com/HerbHall/backscatter/internal/source"
	"github.com/HerbHall/backscatter/internal/store"
	"github.com/HerbHall/backscatter/internal/version"
	"github.com/HerbHall/backscatter/pkg/series"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type runFlags struct {
	configPath string
	aoiPath    string
	wkt        string
	name       string
	orbits     []series.Orbit
	pol        series.Polarization
	start      time.Time
	end        time.Time
}

func parseRunFlags(args []string, stderr io.Writer) (*runFlags, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to configuration file")
	aoiPath := fs.String("aoi", "", "GeoJSON file with the area of interest")
	wktGeom := fs.String("wkt", "", "area of interest as WKT POLYGON or MULTIPOLYGON")
	name := fs.String("name", "", "AOI name (default: file name without extension)")
	orbit := fs.String("orbit", "both", "orbit: asc, desc or both")
	pol := fs.String("pol", "VV", "polarization: VV, VH, HH or HV")
	start := fs.String("start", "", "first day, YYYY-MM-DD")
	end := fs.String("end", "", "last day, YYYY-MM-DD (default: today)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	f := &runFlags{configPath: *configPath, aoiPath: *aoiPath, wkt: *wktGeom, name: *name}
	switch {
	case f.aoiPath == "" && f.wkt == "":
		return nil, errors.New("one of -aoi or -wkt is required")
	case f.aoiPath != "" && f.wkt != "":
		return nil, errors.New("-aoi and -wkt are mutually exclusive")
	case f.wkt != "" && f.name == "":
		return nil, errors.New("-name is required with -wkt")
	}

	var err error
	if f.orbits, err = series.ParseOrbits(*orbit); err != nil {
		return nil, err
	}
	if f.pol, err = series.ParsePolarization(*pol); err != nil {
		return nil, err
	}
	if *start == "" {
		return nil, errors.New("-start is required")
	}
	if f.start, err = time.Parse(time.DateOnly, *start); err != nil {
		return nil, fmt.Errorf("-start: %w", err)
	}
	f.end = series.Day(time.Now().UTC())
	if *end != "" {
		if f.end, err = time.Parse(time.DateOnly, *end); err != nil {
			return nil, fmt.Errorf("-end: %w", err)
		}
	}
	if f.end.Before(f.start) {
		return nil, fmt.Errorf("-end %s before -start %s", *end, *start)
	}
	return f, nil
}

func (f *runFlags) loadAOI(split bool) (*aoi.AOI, error) {
	if f.wkt != "" {
		return aoi.ParseWKT(f.name, f.wkt, split)
	}
	a, err := aoi.Load(f.aoiPath, split)
	if err != nil {
		return nil, err
	}
	if f.name != "" {
		a.Name = f.name
	}
	return a, nil
}

func runPipeline(args []string) int {
	flags, err := parseRunFlags(args, os.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "run: %v\n", err)
		}
		return 2
	}

	// Load configuration (before logger, so log level/format can be configured).
	v, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("backscatter starting", zap.String("version", version.Short()))
	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("component", "config"), zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults", zap.String("component", "config"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, flags, cfg, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		return 1
	}
	return 0
}

func execute(ctx context.Context, flags *runFlags, cfg *config.Config, logger *zap.Logger) error {
	area, err := flags.loadAOI(cfg.Pipeline.SplitFeatures)
	if err != nil {
		return err
	}
	if cfg.Source.URL == "" {
		return &series.ConfigError{Field: "source.url", Value: ""}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		return err
	}
	logger.Info("database initialized", zap.String("component", "database"), zap.String("path", cfg.Database.Path))

	m := metrics.New(prometheus.NewRegistry())
	if cfg.Metrics.Addr != "" {
		srv := m.NewServer(cfg.Metrics.Addr, logger.Named("metrics"))
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", zap.Error(err))
			}
		}()
	}

	opts := pipeline.Options{
		Config: cfg,
		Logger: logger.Named("pipeline"),
		Source: source.NewLimited(
			source.NewHTTPClient(cfg.Source.URL, cfg.Source.Token, cfg.Source.Timeout, logger.Named("source")),
			cfg.Source.Rate, cfg.Source.Burst,
		),
		Store:   db,
		Metrics: m,
	}
	if cfg.Catalog.URL != "" {
		opts.Catalog = catalog.NewHTTPClient(cfg.Catalog.URL, cfg.Catalog.Collection,
			cfg.Source.Timeout, cfg.Source.Rate, logger.Named("catalog"))
	}

	runner, err := pipeline.New(ctx, opts)
	if err != nil {
		return err
	}
	oc, err := runner.Run(ctx, pipeline.Job{
		AOI:          area,
		Orbits:       flags.orbits,
		Polarization: flags.pol,
		Start:        flags.start,
		End:          flags.end,
	})
	if err != nil {
		return err
	}
	printSummary(os.Stdout, oc)
	return nil
}

// printSummary writes one line per flagged observation.
func printSummary(w io.Writer, oc *collection.OrbitCollection) {
	for _, e := range oc.Entries() {
		if e.Subset == nil {
			continue
		}
		for _, fid := range e.Subset.FIDs() {
			res, ok := e.Anomalies[fid]
			if !ok {
				fmt.Fprintf(w, "%-10s %-6s skipped\n", e.Orbit, fid)
				continue
			}
			for _, ev := range res.Events {
				fmt.Fprintf(w, "%-10s %-6s %s %-4s %8.2f dB  z=%+.2f %s\n",
					e.Orbit, fid, ev.Date.Format(time.DateOnly), ev.Direction, ev.Value, ev.ZScore,
					strings.ToUpper(ev.Severity))
			}
		}
	}
}
