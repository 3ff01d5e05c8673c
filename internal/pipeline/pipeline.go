// Package pipeline drives one run over an AOI: per orbit it reconciles the
// raw archive with the statistics source, fits baselines, flags anomalies,
// persists every stage as CSV and records the run in the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/backscatter/internal/anomaly"
	"github.com/HerbHall/backscatter/internal/aoi"
	"github.com/HerbHall/backscatter/internal/archive"
	"github.com/HerbHall/backscatter/internal/catalog"
	"github.com/HerbHall/backscatter/internal/collection"
	"github.com/HerbHall/backscatter/internal/config"
	"github.com/HerbHall/backscatter/internal/csvio"
	"github.com/HerbHall/backscatter/internal/metrics"
	"github.com/HerbHall/backscatter/internal/regression"
	"github.com/HerbHall/backscatter/internal/source"
	"github.com/HerbHall/backscatter/internal/store"
	"github.com/HerbHall/backscatter/pkg/series"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configures a Runner. Source is required; Catalog, Store and
// Metrics are optional.
type Options struct {
	Config  *config.Config
	Logger  *zap.Logger
	Source  source.Source
	Catalog catalog.Catalog
	Store   *store.Store
	Metrics *metrics.Metrics
}

// Job is one requested run.
type Job struct {
	AOI          *aoi.AOI
	Orbits       []series.Orbit
	Polarization series.Polarization
	Start        time.Time
	End          time.Time
}

func (j Job) validate() error {
	if j.AOI == nil || len(j.AOI.Features) == 0 {
		return &series.ConfigError{Field: "aoi feature count", Value: "0", Valid: []string{"at least one polygon"}}
	}
	if len(j.Orbits) == 0 {
		return &series.ConfigError{Field: "orbit", Value: "", Valid: []string{"asc", "desc", "both"}}
	}
	if _, err := series.ParsePolarization(string(j.Polarization)); err != nil {
		return err
	}
	if j.End.Before(j.Start) {
		return fmt.Errorf("end %s before start %s", j.End.Format(time.DateOnly), j.Start.Format(time.DateOnly))
	}
	return nil
}

// Runner executes jobs. A Runner may serve several jobs in sequence.
type Runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	source   source.Source
	catalog  catalog.Catalog
	ledger   *Ledger
	metrics  *metrics.Metrics
	engine   *regression.Engine
	detector *anomaly.Detector
}

// New validates opts and migrates the ledger when a store is given.
func New(ctx context.Context, opts Options) (*Runner, error) {
	if opts.Source == nil {
		return nil, errors.New("pipeline: source is required")
	}
	cfg := opts.Config
	if cfg == nil {
		d := config.DefaultConfig()
		cfg = &d
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	engine, err := regression.New(cfg.Pipeline.Config)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		source:   opts.Source,
		catalog:  opts.Catalog,
		metrics:  opts.Metrics,
		engine:   engine,
		detector: cfg.Pipeline.Detector(),
	}
	if opts.Store != nil {
		if r.ledger, err = NewLedger(ctx, opts.Store); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Ledger returns the run ledger, or nil without a store.
func (r *Runner) Ledger() *Ledger { return r.ledger }

// Run processes every orbit of job, at most pipeline.concurrency at a time.
// The first orbit error cancels the others and is returned.
func (r *Runner) Run(ctx context.Context, job Job) (oc *collection.OrbitCollection, err error) {
	if err := job.validate(); err != nil {
		return nil, err
	}
	job.Start, job.End = series.Day(job.Start), series.Day(job.End)

	runID := uuid.NewString()
	logger := r.logger.With(
		zap.String("run_id", runID),
		zap.String("aoi", job.AOI.Name),
		zap.String("polarization", string(job.Polarization)),
	)

	if r.ledger != nil {
		if err := r.ledger.StartRun(ctx, RunRecord{
			ID: runID, AOI: job.AOI.Name, Polarization: job.Polarization,
			Start: job.Start, End: job.End,
		}); err != nil {
			return nil, err
		}
	}
	defer func() {
		r.metrics.RunFinished(err)
		if r.ledger == nil {
			return
		}
		// the run context may already be cancelled
		if ferr := r.ledger.FinishRun(context.WithoutCancel(ctx), runID, err); ferr != nil {
			logger.Error("failed to finish run in ledger", zap.Error(ferr))
		}
	}()

	logger.Info("run started",
		zap.Int("features", len(job.AOI.Features)),
		zap.Time("start", job.Start),
		zap.Time("end", job.End),
	)

	oc = collection.NewOrbitCollection(job.Orbits)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Pipeline.Concurrency)
	for _, orbit := range oc.Orbits() {
		g.Go(func() error {
			return r.runOrbit(gctx, runID, job, orbit, oc, logger.With(zap.String("orbit", string(orbit))))
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("run failed", zap.Error(err))
		return nil, err
	}
	logger.Info("run finished")
	return oc, nil
}

func (r *Runner) runOrbit(ctx context.Context, runID string, job Job, orbit series.Orbit,
	oc *collection.OrbitCollection, logger *zap.Logger) error {
	key := Key{AOI: job.AOI.Name, Orbit: orbit, Polarization: job.Polarization}

	sub, carried, err := r.reconcile(ctx, runID, key, job, logger)
	if err != nil {
		return fmt.Errorf("orbit %s: %w", orbit, err)
	}
	if sub.AddTotal() {
		logger.Debug("total feature added", zap.Int("features", sub.Len()-1))
	}
	if len(carried) > 0 {
		logger.Debug("archived features carried over", zap.Int("features", len(carried)))
	}
	if err := r.write(key, series.StageRaw, archived(sub, carried), series.RawFields, false); err != nil {
		return fmt.Errorf("orbit %s: %w", orbit, err)
	}

	view := sub.Window(job.Start, job.End)
	if r.cfg.Pipeline.Monthly {
		view = view.MonthlySubset()
		if err := r.write(key, series.StageRawMonthly, view.Features(), series.RawFields, false); err != nil {
			return fmt.Errorf("orbit %s: %w", orbit, err)
		}
	}

	fits, fids := r.fit(view, logger)
	var regs, lins []series.Series
	for _, fid := range fids {
		regs = append(regs, fits[fid].Regression)
		lins = append(lins, fits[fid].Linear.Daily())
	}
	if err := r.write(key, series.StageRegression, regs, []string{series.FieldMean}, true); err != nil {
		return fmt.Errorf("orbit %s: %w", orbit, err)
	}
	if err := r.write(key, series.StageLinear, lins, []string{series.FieldMean, series.FieldStd}, true); err != nil {
		return fmt.Errorf("orbit %s: %w", orbit, err)
	}

	results, err := r.detect(ctx, runID, key, job.AOI, view, fits, fids, logger)
	if err != nil {
		return fmt.Errorf("orbit %s: %w", orbit, err)
	}

	if err := oc.Set(orbit, view); err != nil {
		return err
	}
	return oc.Attach(orbit, results)
}

// reconcile merges each feature's archive with freshly fetched windows.
// Archived features the job does not name are returned untouched as carried
// so the raw rewrite keeps them. The archived total is always recomputed.
func (r *Runner) reconcile(ctx context.Context, runID string, key Key, job Job,
	logger *zap.Logger) (sub *collection.Subset, carried []series.Series, err error) {
	table, err := csvio.ReadFile(r.path(key, series.StageRaw))
	if err != nil {
		return nil, nil, err
	}
	stored := map[string]series.Series{}
	if table != nil {
		if stored, err = table.SeriesByFID(); err != nil {
			return nil, nil, fmt.Errorf("archive: %w", err)
		}
	}

	named := make(map[string]bool, len(job.AOI.Features))
	for _, f := range job.AOI.Features {
		named[f.FID] = true
	}
	for fid, s := range stored {
		if fid != series.TotalFID && !named[fid] {
			carried = append(carried, s)
		}
	}

	sub = collection.NewSubset(key.AOI, key.Orbit, key.Polarization)
	for _, f := range job.AOI.Features {
		rec := archive.New(stored, f.FID, logger)
		out, err := rec.Reconcile(ctx, job.Start, job.End, r.fetcher(f, key))
		if err != nil {
			return nil, nil, err
		}
		sub.Add(out.Series)
		sub.SetReconciliation(f.FID, out)

		for _, w := range out.Windows {
			r.metrics.Fetched(string(key.Orbit), string(w.Direction), out.Added[w.Direction])
			if r.ledger == nil {
				continue
			}
			if err := r.ledger.RecordFetch(ctx, FetchRecord{
				RunID: runID, Key: key, FID: f.FID, Direction: w.Direction,
				Start: w.Start, End: w.End, Added: out.Added[w.Direction],
			}); err != nil {
				return nil, nil, err
			}
		}
		if r.ledger != nil && !out.Series.Empty() {
			if err := r.ledger.UpsertBounds(ctx, key, Bounds{
				FID: f.FID, First: out.Series.MinDate(), Last: out.Series.MaxDate(),
			}); err != nil {
				return nil, nil, err
			}
		}
		logger.Info("feature reconciled",
			zap.String("fid", f.FID),
			zap.Int("windows", len(out.Windows)),
			zap.Int("rows", out.Series.Len()),
		)
	}
	return sub, carried, nil
}

// archived returns the raw archive content: the job's features and their
// total followed by carried features, in column order.
func archived(sub *collection.Subset, carried []series.Series) []series.Series {
	all := append(sub.Features(), carried...)
	byFID := make(map[string]series.Series, len(all))
	fids := make([]string, 0, len(all))
	for _, s := range all {
		byFID[s.FID] = s
		fids = append(fids, s.FID)
	}
	collection.SortFIDs(fids)
	out := make([]series.Series, len(fids))
	for i, fid := range fids {
		out[i] = byFID[fid]
	}
	return out
}

func (r *Runner) fetcher(f aoi.Feature, key Key) archive.FetchFunc {
	return func(ctx context.Context, w archive.Window) (series.Series, error) {
		obs, err := r.source.Statistics(ctx, source.Request{
			Geometry:     f.Geometry,
			From:         w.Start,
			To:           w.End,
			Orbit:        key.Orbit,
			Polarization: key.Polarization,
		})
		if err != nil {
			return series.Series{}, err
		}
		return series.New(f.FID, obs), nil
	}
}

// fit runs the regression engine per feature. Features with too few
// observations are skipped. The returned fids are in column order.
func (r *Runner) fit(view *collection.Subset, logger *zap.Logger) (map[string]*regression.Result, []string) {
	mode := string(r.engine.Config().Mode)
	fits := make(map[string]*regression.Result, view.Len())
	var fids []string
	for _, s := range view.Features() {
		start := time.Now()
		res, err := r.engine.Fit(s)
		if err != nil {
			logger.Warn("feature skipped", zap.String("fid", s.FID), zap.Error(err))
			continue
		}
		r.metrics.ObserveFit(mode, time.Since(start))
		fits[s.FID] = res
		fids = append(fids, s.FID)
	}
	return fits, fids
}

// detect flags anomalies on the configured frame, persists the anomaly stage
// and records flagged events in the ledger.
func (r *Runner) detect(ctx context.Context, runID string, key Key, area *aoi.AOI, view *collection.Subset,
	fits map[string]*regression.Result, fids []string, logger *zap.Logger) (map[string]*anomaly.Result, error) {
	fields := series.RawFields
	if r.cfg.Pipeline.AnomalyInput == config.InputRegression {
		fields = []string{series.FieldMean, series.FieldStd}
	}

	frame := make([]series.Series, 0, len(fids))
	linears := make(map[string]series.Series, len(fids))
	for _, fid := range fids {
		if r.cfg.Pipeline.AnomalyInput == config.InputRegression {
			frame = append(frame, fits[fid].Regression)
		} else {
			s, _ := view.Get(fid)
			frame = append(frame, s)
		}
		linears[fid] = fits[fid].Linear.Series()
	}

	results, err := r.detector.DetectAll(frame, linears)
	if err != nil {
		return nil, err
	}
	flagged := anomaly.Apply(frame, results)
	if err := r.write(key, series.StageAnomaly, flagged, append(append([]string(nil), fields...), series.FieldAnomaly), false); err != nil {
		return nil, err
	}

	var records []AnomalyRecord
	for _, fid := range fids {
		res := results[fid]
		for _, ev := range res.Events {
			records = append(records, AnomalyRecord{
				RunID: runID, Key: key, FID: fid, Event: ev,
				SceneID: r.sceneID(ctx, area, fid, ev.Date, logger),
			})
		}
		logger.Debug("anomalies detected",
			zap.String("fid", fid),
			zap.Int("extrema", len(res.Extrema)),
			zap.Int("significant", len(res.Significant)),
			zap.Int("flagged", res.Count()),
		)
	}
	r.metrics.Flagged(string(key.Orbit), len(records))
	logger.Info("anomaly detection complete", zap.Int("flagged", len(records)))

	if r.ledger != nil {
		if err := r.ledger.InsertAnomalies(ctx, records); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// sceneID resolves the catalog scene nearest to an anomaly. Lookup failures
// leave the id empty.
func (r *Runner) sceneID(ctx context.Context, area *aoi.AOI, fid string, date time.Time, logger *zap.Logger) string {
	if r.catalog == nil {
		return ""
	}
	geom := area.Geometry()
	for _, f := range area.Features {
		if f.FID == fid {
			geom = f.Geometry
		}
	}
	window := r.cfg.Catalog.Window()
	if window <= 0 {
		window = catalog.DefaultWindow
	}
	scene, ok, err := catalog.Lookup(ctx, r.catalog, geom, date, window)
	if err != nil {
		logger.Warn("scene lookup failed", zap.String("fid", fid), zap.Time("date", date), zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return scene.ID
}

func (r *Runner) path(key Key, stage series.Stage) string {
	return csvio.Path(r.cfg.DataDir, key.AOI, key.Orbit, key.Polarization, stage)
}

func (r *Runner) write(key Key, stage series.Stage, features []series.Series, fields []string, dedupe bool) error {
	t := csvio.FromSeries(features, fields)
	if dedupe {
		if dropped := t.DropDuplicateColumns(); len(dropped) > 0 {
			r.logger.Debug("duplicate columns dropped",
				zap.String("stage", string(stage)),
				zap.Strings("columns", dropped),
			)
		}
	}
	if err := csvio.WriteFile(r.path(key, stage), t); err != nil {
		return fmt.Errorf("write %s: %w", stage, err)
	}
	return nil
}
