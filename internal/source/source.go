// Package source retrieves daily backscatter statistics for a geometry from a
// remote statistics API.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/HerbHall/backscatter/pkg/series"
	"github.com/paulmach/orb"
	"golang.org/x/time/rate"
)

// Request selects the statistics to retrieve. From and To are inclusive days.
type Request struct {
	Geometry     orb.Geometry
	From         time.Time
	To           time.Time
	Orbit        series.Orbit
	Polarization series.Polarization
}

// Source returns per-day statistics for a request. Rows whose sample count
// does not exceed their no-data count are never returned. An empty result is
// not an error.
type Source interface {
	Statistics(ctx context.Context, req Request) ([]series.Observation, error)
}

// response mirrors the statistics API payload.
type response struct {
	Data []struct {
		Interval struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"interval"`
		Outputs map[string]output `json:"outputs"`
		Error   *struct {
			Type string `json:"type"`
		} `json:"error,omitempty"`
	} `json:"data"`
}

type output struct {
	Bands map[string]band `json:"bands"`
}

type band struct {
	Stats bandStats `json:"stats"`
}

type bandStats struct {
	Min         number `json:"min"`
	Max         number `json:"max"`
	Mean        number `json:"mean"`
	StDev       number `json:"stDev"`
	SampleCount number `json:"sampleCount"`
	NoDataCount number `json:"noDataCount"`
}

// number accepts JSON numbers and the quoted "NaN"/"Infinity" forms the API
// emits for fully masked intervals.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("stat value %q: %w", s, err)
		}
		*n = number(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = number(v)
	return nil
}

// Decode parses a statistics response. The "default" output is read when
// present, otherwise the first output by name; within it the first band by
// name is used. Failed intervals and invalid rows are dropped.
func Decode(r io.Reader) ([]series.Observation, error) {
	var resp response
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode statistics: %w", err)
	}

	var out []series.Observation
	for i, d := range resp.Data {
		if d.Error != nil {
			continue
		}
		date, err := time.Parse(time.RFC3339, d.Interval.From)
		if err != nil {
			if date, err = time.Parse(time.DateOnly, d.Interval.From); err != nil {
				return nil, fmt.Errorf("interval %d: invalid from %q", i, d.Interval.From)
			}
		}
		st, ok := firstBand(d.Outputs)
		if !ok {
			continue
		}
		o := series.Observation{
			Date:        series.Day(date),
			Mean:        float64(st.Mean),
			Std:         float64(st.StDev),
			Min:         float64(st.Min),
			Max:         float64(st.Max),
			SampleCount: float64(st.SampleCount),
			NodataCount: float64(st.NoDataCount),
		}
		if !o.Valid() {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// defaultOutput is the evalscript output holding backscatter values.
const defaultOutput = "default"

func firstBand(outputs map[string]output) (bandStats, bool) {
	names := make([]string, 0, len(outputs))
	for k := range outputs {
		if k != defaultOutput {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	if _, ok := outputs[defaultOutput]; ok {
		names = append([]string{defaultOutput}, names...)
	}
	for _, name := range names {
		bands := outputs[name].Bands
		keys := make([]string, 0, len(bands))
		for k := range bands {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 0 {
			return bands[keys[0]].Stats, true
		}
	}
	return bandStats{}, false
}

// Limited spaces calls to an underlying Source with a token bucket. It waits
// for a token and never retries.
type Limited struct {
	src     Source
	limiter *rate.Limiter
}

// NewLimited wraps src with a limit of rps requests per second and the given
// burst. A non-positive rps disables limiting.
func NewLimited(src Source, rps float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Limited{src: src, limiter: rate.NewLimiter(limit, burst)}
}

// Statistics waits for the limiter, then calls the wrapped source once.
func (l *Limited) Statistics(ctx context.Context, req Request) ([]series.Observation, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return l.src.Statistics(ctx, req)
}
