package regression

import (
	"strings"

	"github.com/HerbHall/backscatter/pkg/series"
)

// Mode selects the smoothing curve fitted to a feature's mean column.
type Mode string

const (
	ModeRolling Mode = "rolling"
	ModeSpline  Mode = "spline"
	ModePoly    Mode = "poly"
)

// Modes lists the accepted modes.
var Modes = []Mode{ModeRolling, ModeSpline, ModePoly}

// ParseMode resolves a configured mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Modes {
		if m == valid {
			return m, nil
		}
	}
	names := make([]string, len(Modes))
	for i, v := range Modes {
		names[i] = string(v)
	}
	return "", &series.ConfigError{Field: "regression mode", Value: s, Valid: names}
}

// Config holds the regression engine parameters.
type Config struct {
	Mode            Mode    `mapstructure:"regression_mode"`
	Monthly         bool    `mapstructure:"monthly"`
	Window          int     `mapstructure:"rolling_window"`   // Rolling window size
	Smoothing       float64 `mapstructure:"spline_smoothing"` // Spline s = Smoothing * n
	Degree          int     `mapstructure:"poly_degree"`
	MinObservations int     `mapstructure:"min_observations"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeSpline,
		Window:          5,
		Smoothing:       0.25,
		Degree:          5,
		MinObservations: 2,
	}
}
