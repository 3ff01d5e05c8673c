// Package archive reconciles freshly fetched observations with a previously
// persisted series so that only genuinely missing date ranges are fetched.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/HerbHall/backscatter/pkg/series"
	"go.uber.org/zap"
)

// Direction classifies a fetch window relative to the archive.
type Direction string

const (
	DirectionFull   Direction = "full"   // no usable archive
	DirectionPast   Direction = "past"   // requested start precedes the archive
	DirectionFuture Direction = "future" // requested end follows the archive
)

// Window is a date range that must be fetched.
type Window struct {
	Direction Direction
	Start     time.Time
	End       time.Time
}

// FetchFunc retrieves the observations of one feature within a window.
// An empty series is a valid answer meaning no data exists yet.
type FetchFunc func(ctx context.Context, w Window) (series.Series, error)

// Outcome is the result of one reconciliation.
type Outcome struct {
	FID     string
	Series  series.Series
	Windows []Window
	// Added counts rows new to the archive, per direction.
	Added map[Direction]int
}

// Reconciler merges one feature's archive with newly fetched rows.
type Reconciler struct {
	archive *series.Series
	fid     string
	logger  *zap.Logger
}

// New creates a Reconciler for fid. archive is the persisted series keyed by
// fid for one (AOI, orbit, polarization); it may be nil.
func New(archive map[string]series.Series, fid string, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{fid: fid, logger: logger}
	if s, ok := archive[fid]; ok && !s.Empty() {
		s := s.Clone()
		r.archive = &s
	}
	return r
}

// CheckExistingData reports whether a usable archive exists for the feature.
func (r *Reconciler) CheckExistingData() bool {
	return r.archive != nil
}

// Bounds returns the archive's first and last date. ok is false without an archive.
func (r *Reconciler) Bounds() (first, last time.Time, ok bool) {
	if r.archive == nil {
		return time.Time{}, time.Time{}, false
	}
	return r.archive.MinDate(), r.archive.MaxDate(), true
}

// CheckDates returns the gap windows in the requested directions. A past gap
// is clamped to end at the archive's first date and a future gap to start at
// its last date; rows fetched on those boundary dates are discarded by Concat.
func (r *Reconciler) CheckDates(start, end time.Time, checkStart, checkEnd bool) []Window {
	first, last, ok := r.Bounds()
	if !ok {
		return nil
	}
	start, end = series.Day(start), series.Day(end)

	var windows []Window
	if checkStart && start.Before(first) {
		windows = append(windows, Window{Direction: DirectionPast, Start: start, End: first})
	}
	if checkEnd && end.After(last) {
		windows = append(windows, Window{Direction: DirectionFuture, Start: last, End: end})
	}
	return windows
}

// Plan returns the windows to fetch for the requested range. A nil result
// means the archive already covers it.
func (r *Reconciler) Plan(start, end time.Time) []Window {
	if !r.CheckExistingData() {
		return []Window{{Direction: DirectionFull, Start: series.Day(start), End: series.Day(end)}}
	}
	return r.CheckDates(start, end, true, true)
}

// Reconcile fetches the missing windows and merges them with the archive.
func (r *Reconciler) Reconcile(ctx context.Context, start, end time.Time, fetch FetchFunc) (*Outcome, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("feature %s: end %s before start %s", r.fid,
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	windows := r.Plan(start, end)
	out := &Outcome{FID: r.fid, Windows: windows, Added: make(map[Direction]int)}

	if len(windows) == 0 {
		r.logger.Debug("archive covers requested range",
			zap.String("fid", r.fid),
			zap.Time("start", start),
			zap.Time("end", end),
		)
		out.Series = r.archive.Clone()
		return out, nil
	}

	var fetched []series.Series
	for _, w := range windows {
		s, err := fetch(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("feature %s: fetch %s window %s..%s: %w", r.fid, w.Direction,
				w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly), err)
		}
		added := r.countNew(s)
		out.Added[w.Direction] = added
		r.logger.Debug("fetched window",
			zap.String("fid", r.fid),
			zap.String("direction", string(w.Direction)),
			zap.Time("start", w.Start),
			zap.Time("end", w.End),
			zap.Int("rows", s.Len()),
			zap.Int("added", added),
		)
		fetched = append(fetched, s)
	}

	if r.archive == nil {
		var all []series.Observation
		for _, s := range fetched {
			all = append(all, s.Observations...)
		}
		out.Series = series.New(r.fid, all)
		return out, nil
	}
	out.Series = Concat(*r.archive, fetched...)
	return out, nil
}

func (r *Reconciler) countNew(s series.Series) int {
	if r.archive == nil {
		return series.New(r.fid, s.Observations).Len()
	}
	n := 0
	for _, o := range series.New(r.fid, s.Observations).Observations {
		if r.archive.IndexOf(o.Date) < 0 {
			n++
		}
	}
	return n
}

// Concat merges fetched series into archive, sorted by date. Where a date is
// present in the archive the archive's row is kept; fetched rows never
// duplicate a date.
func Concat(archive series.Series, fetched ...series.Series) series.Series {
	n := archive.Len()
	for _, f := range fetched {
		n += f.Len()
	}
	all := make([]series.Observation, 0, n)
	all = append(all, archive.Observations...)
	for _, f := range fetched {
		all = append(all, f.Observations...)
	}
	// series.New keeps the first row per date; archive rows come first.
	return series.New(archive.FID, all)
}
