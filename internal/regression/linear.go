package regression

import (
	"time"

	"github.com/HerbHall/backscatter/pkg/series"
	"gonum.org/v1/gonum/stat"
)

// Line is an ordinary least-squares fit y = Intercept + Slope*x.
type Line struct {
	Slope     float64
	Intercept float64
	RSquared  float64 // Coefficient of determination (0-1)
}

// At evaluates the line at x.
func (l Line) At(x float64) float64 {
	return l.Intercept + l.Slope*x
}

// FitLine performs least-squares regression of y on x.
// A constant x (including a single point) yields a flat line through the mean.
func FitLine(x, y []float64) Line {
	if len(x) == 0 || len(x) != len(y) {
		return Line{}
	}
	if len(x) < 2 || stat.Variance(x, nil) == 0 {
		return Line{Intercept: stat.Mean(y, nil)}
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	var r2 float64
	if stat.Variance(y, nil) > 0 {
		r2 = stat.RSquared(x, y, nil, alpha, beta)
	}
	return Line{Slope: beta, Intercept: alpha, RSquared: r2}
}

// IntervalDiff returns each date's whole-day offset from the first date.
func IntervalDiff(dates []time.Time) []float64 {
	if len(dates) == 0 {
		return nil
	}
	out := make([]float64, len(dates))
	base := series.Day(dates[0])
	for i, d := range dates {
		out[i] = float64(series.Day(d).Sub(base) / (24 * time.Hour))
	}
	return out
}

// Linear is the linear reference for one feature: OLS fits of mean and std
// against day offset. It is a statistical baseline, not a display curve.
type Linear struct {
	FID     string
	Start   time.Time   // first observed date, day offset 0
	End     time.Time   // last observed date
	Dates   []time.Time // observed dates
	Mean    []float64   // MeanFit evaluated on Dates
	Std     []float64   // StdFit evaluated on Dates
	MeanFit Line
	StdFit  Line
}

// FitLinear fits the linear reference for s.
func FitLinear(s series.Series) Linear {
	lin := Linear{FID: s.FID}
	if s.Empty() {
		return lin
	}
	dates := s.Dates()
	x := IntervalDiff(dates)
	lin.Start = dates[0]
	lin.End = dates[len(dates)-1]
	lin.Dates = dates
	lin.MeanFit = FitLine(x, s.Means())
	lin.StdFit = FitLine(x, s.Stds())

	lin.Mean = make([]float64, len(x))
	lin.Std = make([]float64, len(x))
	for i, xi := range x {
		lin.Mean[i] = lin.MeanFit.At(xi)
		lin.Std[i] = lin.StdFit.At(xi)
	}
	return lin
}

// Series projects the reference onto the observed dates.
func (l Linear) Series() series.Series {
	obs := make([]series.Observation, len(l.Dates))
	for i, d := range l.Dates {
		obs[i] = series.Observation{Date: d, Mean: l.Mean[i], Std: l.Std[i]}
	}
	return series.Series{FID: l.FID, Observations: obs}
}

// Daily evaluates the reference on every calendar day from Start to End.
func (l Linear) Daily() series.Series {
	if len(l.Dates) == 0 {
		return series.Series{FID: l.FID}
	}
	var obs []series.Observation
	for d, x := l.Start, 0.0; !d.After(l.End); d, x = d.AddDate(0, 0, 1), x+1 {
		obs = append(obs, series.Observation{Date: d, Mean: l.MeanFit.At(x), Std: l.StdFit.At(x)})
	}
	return series.Series{FID: l.FID, Observations: obs}
}
