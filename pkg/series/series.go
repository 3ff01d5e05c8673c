// Package series provides the public data types for backscatter time series:
// per-feature observation records keyed by a stable feature id, orbit and
// polarization identifiers, and the typed errors shared by the pipeline.
package series

import (
	"fmt"
	"sort"
	"time"
)

// TotalFID is the feature id of the synthesized cross-feature aggregate.
const TotalFID = "total"

// Column field names. A wide table column is "{fid}_{field}".
const (
	FieldMean        = "mean"
	FieldStd         = "std"
	FieldMin         = "min"
	FieldMax         = "max"
	FieldSampleCount = "sample_count"
	FieldNodataCount = "nodata_count"
	FieldAnomaly     = "anomaly"
)

// RawFields lists the columns persisted for a raw daily or monthly series, in order.
var RawFields = []string{FieldMean, FieldStd, FieldMin, FieldMax, FieldSampleCount, FieldNodataCount}

// Column returns the namespaced column name for a feature field.
func Column(fid, field string) string {
	return fid + "_" + field
}

// Day truncates t to a UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Observation is one interval's backscatter statistics for a single feature.
type Observation struct {
	Date        time.Time `json:"date"`
	Mean        float64   `json:"mean"` // dB
	Std         float64   `json:"std"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	SampleCount float64   `json:"sample_count"`
	NodataCount float64   `json:"nodata_count"`
	Anomaly     bool      `json:"anomaly"`
}

// Valid reports whether the observation carries more samples than no-data pixels.
func (o Observation) Valid() bool {
	return o.SampleCount > o.NodataCount
}

// Series is a date-indexed run of observations for one feature.
// Dates are unique UTC days in ascending order.
type Series struct {
	FID          string        `json:"fid"`
	Observations []Observation `json:"observations"`
}

// New builds a Series from observations in any order. Dates are normalised
// to UTC days; when two observations share a day the first one wins.
func New(fid string, obs []Observation) Series {
	cp := make([]Observation, len(obs))
	copy(cp, obs)
	for i := range cp {
		cp[i].Date = Day(cp[i].Date)
	}
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Date.Before(cp[j].Date) })

	out := cp[:0]
	for i, o := range cp {
		if i > 0 && o.Date.Equal(out[len(out)-1].Date) {
			continue
		}
		out = append(out, o)
	}
	return Series{FID: fid, Observations: out}
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Observations) }

// Empty reports whether the series has no observations.
func (s Series) Empty() bool { return len(s.Observations) == 0 }

// MinDate returns the first date. It panics on an empty series.
func (s Series) MinDate() time.Time { return s.Observations[0].Date }

// MaxDate returns the last date. It panics on an empty series.
func (s Series) MaxDate() time.Time { return s.Observations[len(s.Observations)-1].Date }

// Dates returns the date index.
func (s Series) Dates() []time.Time {
	out := make([]time.Time, len(s.Observations))
	for i, o := range s.Observations {
		out[i] = o.Date
	}
	return out
}

// Means returns the mean column.
func (s Series) Means() []float64 {
	out := make([]float64, len(s.Observations))
	for i, o := range s.Observations {
		out[i] = o.Mean
	}
	return out
}

// Stds returns the std column.
func (s Series) Stds() []float64 {
	out := make([]float64, len(s.Observations))
	for i, o := range s.Observations {
		out[i] = o.Std
	}
	return out
}

// Flags returns the anomaly column.
func (s Series) Flags() []bool {
	out := make([]bool, len(s.Observations))
	for i, o := range s.Observations {
		out[i] = o.Anomaly
	}
	return out
}

// Clone returns a deep copy.
func (s Series) Clone() Series {
	cp := make([]Observation, len(s.Observations))
	copy(cp, s.Observations)
	return Series{FID: s.FID, Observations: cp}
}

// WithFID returns a copy relabelled to fid.
func (s Series) WithFID(fid string) Series {
	c := s.Clone()
	c.FID = fid
	return c
}

// IndexOf returns the position of date in the index, or -1.
func (s Series) IndexOf(date time.Time) int {
	d := Day(date)
	i := sort.Search(len(s.Observations), func(i int) bool {
		return !s.Observations[i].Date.Before(d)
	})
	if i < len(s.Observations) && s.Observations[i].Date.Equal(d) {
		return i
	}
	return -1
}

// Slice returns the observations with from <= date <= to.
func (s Series) Slice(from, to time.Time) Series {
	from, to = Day(from), Day(to)
	var out []Observation
	for _, o := range s.Observations {
		if o.Date.Before(from) || o.Date.After(to) {
			continue
		}
		out = append(out, o)
	}
	return Series{FID: s.FID, Observations: out}
}

// SameIndex reports whether both series share exactly the same dates.
func (s Series) SameIndex(other Series) bool {
	if len(s.Observations) != len(other.Observations) {
		return false
	}
	for i := range s.Observations {
		if !s.Observations[i].Date.Equal(other.Observations[i].Date) {
			return false
		}
	}
	return true
}

// CountFlags returns the number of observations flagged as anomalous.
func (s Series) CountFlags() int {
	n := 0
	for _, o := range s.Observations {
		if o.Anomaly {
			n++
		}
	}
	return n
}

func (s Series) String() string {
	if s.Empty() {
		return fmt.Sprintf("series(%s, empty)", s.FID)
	}
	return fmt.Sprintf("series(%s, %d rows, %s..%s)", s.FID, s.Len(),
		s.MinDate().Format(time.DateOnly), s.MaxDate().Format(time.DateOnly))
}
