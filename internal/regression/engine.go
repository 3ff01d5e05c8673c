// Package regression fits per-feature baseline curves: a linear reference
// used for significance testing and a smoothed display curve (rolling,
// spline, or polynomial).
package regression

import (
	"fmt"

	"github.com/HerbHall/backscatter/pkg/series"
)

// Result is the regression output for one feature.
type Result struct {
	FID string
	// Regression holds the smoothed mean with the observed std carried through.
	Regression series.Series
	Linear     Linear
}

// Engine fits baseline curves. It holds no per-feature state, so one Engine
// may serve features concurrently.
type Engine struct {
	cfg Config
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.Window < 1 {
		cfg.Window = 5
	}
	if cfg.Degree < 1 {
		cfg.Degree = 5
	}
	if cfg.Smoothing <= 0 {
		cfg.Smoothing = 0.25
	}
	if cfg.MinObservations < 2 {
		cfg.MinObservations = 2
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Fit computes the linear reference and the smoothed curve for s.
// s must hold at least MinObservations rows.
func (e *Engine) Fit(s series.Series) (*Result, error) {
	n := s.Len()
	if n < e.cfg.MinObservations {
		return nil, fmt.Errorf("feature %s: %w: have %d, need %d",
			s.FID, series.ErrTooFewObservations, n, e.cfg.MinObservations)
	}

	lin := FitLinear(s)
	means := s.Means()

	var smoothed []float64
	var err error
	switch {
	case e.cfg.Monthly:
		// monthly input is already an aggregate
		smoothed = means
	case e.cfg.Mode == ModeRolling:
		smoothed = Rolling(means, e.cfg.Window)
	case e.cfg.Mode == ModeSpline:
		w := SplineWeights(means, lin.Mean)
		smoothed, err = SmoothingSpline(means, w, e.cfg.Smoothing*float64(n))
	case e.cfg.Mode == ModePoly:
		smoothed, err = Polynomial(IntervalDiff(s.Dates()), means, e.cfg.Degree)
	}
	if err != nil {
		return nil, fmt.Errorf("feature %s: %s fit: %w", s.FID, e.cfg.Mode, err)
	}

	obs := make([]series.Observation, n)
	for i, o := range s.Observations {
		obs[i] = series.Observation{Date: o.Date, Mean: smoothed[i], Std: o.Std}
	}

	return &Result{
		FID:        s.FID,
		Regression: series.Series{FID: s.FID, Observations: obs},
		Linear:     lin,
	}, nil
}

// FitAll fits every feature independently, keyed by fid.
func (e *Engine) FitAll(features []series.Series) (map[string]*Result, error) {
	out := make(map[string]*Result, len(features))
	for _, f := range features {
		r, err := e.Fit(f)
		if err != nil {
			return nil, err
		}
		out[f.FID] = r
	}
	return out, nil
}
