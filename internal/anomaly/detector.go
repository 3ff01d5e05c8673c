// Package anomaly flags significant local extrema in backscatter series. A
// point is anomalous when it is a local maximum or minimum of the observed
// mean, lies outside an insensitivity band around the feature's linear
// reference, and is not followed closely by another such extremum.
package anomaly

import (
	"fmt"
	"sort"
	"time"

	"github.com/HerbHall/backscatter/pkg/series"
	"github.com/montanaflynn/stats"
)

// Defaults used by NewDetector.
const (
	DefaultFactor    = 0.2
	DefaultDistance  = 10
	DefaultAdjacency = 31 * 24 * time.Hour
)

// severityThreshold is the |z| at which a flagged observation becomes a warning.
const severityThreshold = 1.0

// Detector finds anomalies. It holds only configuration and is safe for
// concurrent use.
type Detector struct {
	Factor    float64       // insensitivity band width in linear std units
	Distance  int           // minimum sample distance between extrema
	Adjacency time.Duration // extrema closer than this are merged
}

// Option configures a Detector.
type Option func(*Detector)

// WithFactor sets the insensitive band width in linear std units.
func WithFactor(f float64) Option { return func(d *Detector) { d.Factor = f } }

// WithDistance sets the minimum position gap between peaks of one mode.
func WithDistance(n int) Option { return func(d *Detector) { d.Distance = n } }

// WithAdjacency sets the window within which consecutive flags are merged.
func WithAdjacency(w time.Duration) Option { return func(d *Detector) { d.Adjacency = w } }

// NewDetector returns a Detector with the default thresholds and any overrides applied.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{Factor: DefaultFactor, Distance: DefaultDistance, Adjacency: DefaultAdjacency}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Event describes one flagged observation.
type Event struct {
	Date      time.Time
	Value     float64
	Reference float64 // linear mean at Date
	Direction string  // "up" for a maximum, "down" for a minimum
	ZScore    float64
	Severity  string
}

// Result records each stage of detection for one feature. All position
// slices index the input series and are ascending.
type Result struct {
	FID         string
	Maxima      []int
	Minima      []int
	Extrema     []int // union of Maxima and Minima
	Significant []int // Extrema outside the insensitivity band
	Final       []int // Significant after adjacency suppression
	Flags       []bool
	Events      []Event
	GlobalMean  float64
	GlobalStd   float64
}

// Count returns the number of flagged observations.
func (r *Result) Count() int { return len(r.Final) }

// FindFeatureExtrema runs detection on s against its linear reference, which
// must share s's feature id and date index.
func (d *Detector) FindFeatureExtrema(s, linear series.Series) (*Result, error) {
	if err := checkAligned(s, linear); err != nil {
		return nil, err
	}

	values := s.Means()
	res := &Result{FID: s.FID, Flags: make([]bool, len(values))}
	if len(values) == 0 {
		return res, nil
	}
	res.GlobalMean, _ = stats.Mean(values)
	if len(values) > 1 {
		res.GlobalStd, _ = stats.StandardDeviationSample(values)
	}

	res.Maxima = FindExtrema(values, Maxima, d.Distance)
	res.Minima = FindExtrema(values, Minima, d.Distance)
	res.Extrema = union(res.Maxima, res.Minima)

	linMean, linStd := linear.Means(), linear.Stds()
	res.Significant = CorrectInsensitive(res.Extrema, values, linMean, linStd, d.Factor)
	res.Final = DeleteAdjacent(res.Significant, s.Dates(), d.Adjacency)

	isMax := make(map[int]bool, len(res.Maxima))
	for _, p := range res.Maxima {
		isMax[p] = true
	}
	for _, p := range res.Final {
		res.Flags[p] = true
		z := ZScoreCheck(values[p], linMean[p], linStd[p], severityThreshold)
		dir := "down"
		if isMax[p] {
			dir = "up"
		}
		res.Events = append(res.Events, Event{
			Date:      s.Observations[p].Date,
			Value:     values[p],
			Reference: linMean[p],
			Direction: dir,
			ZScore:    z.ZScore,
			Severity:  z.Severity,
		})
	}
	return res, nil
}

// DetectAll runs FindFeatureExtrema for every feature. linears is keyed by fid.
func (d *Detector) DetectAll(features []series.Series, linears map[string]series.Series) (map[string]*Result, error) {
	out := make(map[string]*Result, len(features))
	for _, f := range features {
		lin, ok := linears[f.FID]
		if !ok {
			return nil, &series.AlignmentError{FID: f.FID, Reason: "no linear reference"}
		}
		r, err := d.FindFeatureExtrema(f, lin)
		if err != nil {
			return nil, err
		}
		out[f.FID] = r
	}
	return out, nil
}

// Apply returns copies of features with Observation.Anomaly set from results.
// Features without a result are copied with all flags cleared.
func Apply(features []series.Series, results map[string]*Result) []series.Series {
	out := make([]series.Series, len(features))
	for i, f := range features {
		c := f.Clone()
		r := results[f.FID]
		for j := range c.Observations {
			c.Observations[j].Anomaly = r != nil && j < len(r.Flags) && r.Flags[j]
		}
		out[i] = c
	}
	return out
}

func checkAligned(s, linear series.Series) error {
	if linear.FID != s.FID {
		return &series.AlignmentError{FID: s.FID,
			Reason: fmt.Sprintf("linear reference belongs to feature %s", linear.FID)}
	}
	if s.Len() != linear.Len() {
		return &series.AlignmentError{FID: s.FID,
			Reason: fmt.Sprintf("%d observations but %d linear rows", s.Len(), linear.Len())}
	}
	for i := range s.Observations {
		if !s.Observations[i].Date.Equal(linear.Observations[i].Date) {
			return &series.AlignmentError{FID: s.FID,
				Reason: fmt.Sprintf("date index differs at row %d: %s vs %s", i,
					s.Observations[i].Date.Format(time.DateOnly),
					linear.Observations[i].Date.Format(time.DateOnly))}
		}
	}
	return nil
}

func union(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, p := range append(append([]int(nil), a...), b...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}
