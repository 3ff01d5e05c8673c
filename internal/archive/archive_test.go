package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/backscatter/pkg/series"
	"go.uber.org/zap/zaptest"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// daily returns one observation per day in [from, to] with mean = value.
func daily(fid string, from, to time.Time, value float64) series.Series {
	var obs []series.Observation
	for t := from; !t.After(to); t = t.AddDate(0, 0, 1) {
		obs = append(obs, series.Observation{Date: t, Mean: value, SampleCount: 10})
	}
	return series.New(fid, obs)
}

// fakeSource answers every window with daily rows of the given value and
// records the windows it was asked for.
type fakeSource struct {
	value float64
	calls []Window
	empty bool
}

func (f *fakeSource) fetch(_ context.Context, w Window) (series.Series, error) {
	f.calls = append(f.calls, w)
	if f.empty {
		return series.Series{FID: "0"}, nil
	}
	return daily("0", w.Start, w.End, f.value), nil
}

func assertUniqueSorted(t *testing.T, s series.Series) {
	t.Helper()
	for i := 1; i < s.Len(); i++ {
		if !s.Observations[i].Date.After(s.Observations[i-1].Date) {
			t.Fatalf("index not strictly ascending at %d: %v then %v",
				i, s.Observations[i-1].Date, s.Observations[i].Date)
		}
	}
}

func TestReconcile_NoArchiveFetchesFullRange(t *testing.T) {
	src := &fakeSource{value: -10}
	r := New(nil, "0", zaptest.NewLogger(t))

	if r.CheckExistingData() {
		t.Fatal("CheckExistingData() = true without archive")
	}
	out, err := r.Reconcile(context.Background(), d(2021, 1, 1), d(2021, 1, 10), src.fetch)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(src.calls) != 1 || src.calls[0].Direction != DirectionFull {
		t.Fatalf("calls = %+v, want one full window", src.calls)
	}
	if out.Series.Len() != 10 {
		t.Errorf("Len() = %d, want 10", out.Series.Len())
	}
	if out.Added[DirectionFull] != 10 {
		t.Errorf("Added[full] = %d, want 10", out.Added[DirectionFull])
	}
}

func TestReconcile_ArchiveMissingFeatureColumn(t *testing.T) {
	arch := map[string]series.Series{"1": daily("1", d(2021, 1, 1), d(2021, 1, 31), -9)}
	r := New(arch, "0", nil)

	windows := r.Plan(d(2021, 1, 5), d(2021, 1, 20))
	if len(windows) != 1 || windows[0].Direction != DirectionFull {
		t.Errorf("Plan() = %+v, want single full window", windows)
	}
}

func TestReconcile_IdempotentInsideArchive(t *testing.T) {
	archived := daily("0", d(2021, 1, 1), d(2021, 3, 1), -11)
	src := &fakeSource{value: 99}
	r := New(map[string]series.Series{"0": archived}, "0", zaptest.NewLogger(t))

	out, err := r.Reconcile(context.Background(), d(2021, 1, 10), d(2021, 2, 10), src.fetch)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(src.calls) != 0 {
		t.Errorf("fetch called %d times, want 0", len(src.calls))
	}
	if out.Series.Len() != archived.Len() {
		t.Fatalf("Len() = %d, want %d", out.Series.Len(), archived.Len())
	}
	for i := range archived.Observations {
		if out.Series.Observations[i] != archived.Observations[i] {
			t.Fatalf("row %d changed: %+v vs %+v", i, out.Series.Observations[i], archived.Observations[i])
		}
	}
}

func TestCheckDates(t *testing.T) {
	archived := daily("0", d(2021, 2, 1), d(2021, 2, 28), -11)
	r := New(map[string]series.Series{"0": archived}, "0", nil)

	tests := []struct {
		name       string
		start, end time.Time
		checkStart bool
		checkEnd   bool
		want       []Window
	}{
		{
			name: "past only", start: d(2021, 1, 1), end: d(2021, 2, 10),
			checkStart: true, checkEnd: true,
			want: []Window{{DirectionPast, d(2021, 1, 1), d(2021, 2, 1)}},
		},
		{
			name: "future only", start: d(2021, 2, 3), end: d(2021, 3, 15),
			checkStart: true, checkEnd: true,
			want: []Window{{DirectionFuture, d(2021, 2, 28), d(2021, 3, 15)}},
		},
		{
			name: "both", start: d(2021, 1, 1), end: d(2021, 3, 15),
			checkStart: true, checkEnd: true,
			want: []Window{
				{DirectionPast, d(2021, 1, 1), d(2021, 2, 1)},
				{DirectionFuture, d(2021, 2, 28), d(2021, 3, 15)},
			},
		},
		{
			name: "start not checked", start: d(2021, 1, 1), end: d(2021, 2, 10),
			checkStart: false, checkEnd: true,
			want: nil,
		},
		{
			name: "inside", start: d(2021, 2, 1), end: d(2021, 2, 28),
			checkStart: true, checkEnd: true,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.CheckDates(tt.start, tt.end, tt.checkStart, tt.checkEnd)
			if len(got) != len(tt.want) {
				t.Fatalf("CheckDates() = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("window %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestReconcile_PastAndFutureCoverage(t *testing.T) {
	archived := daily("0", d(2021, 2, 1), d(2021, 2, 28), -11)
	src := &fakeSource{value: -5}
	r := New(map[string]series.Series{"0": archived}, "0", zaptest.NewLogger(t))

	start, end := d(2021, 1, 15), d(2021, 3, 10)
	out, err := r.Reconcile(context.Background(), start, end, src.fetch)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	s := out.Series
	assertUniqueSorted(t, s)
	if s.MinDate().After(start) {
		t.Errorf("MinDate() = %v, want <= %v", s.MinDate(), start)
	}
	if s.MaxDate().Before(end) {
		t.Errorf("MaxDate() = %v, want >= %v", s.MaxDate(), end)
	}
	// Jan 15..Mar 10 inclusive
	if s.Len() != 55 {
		t.Errorf("Len() = %d, want 55", s.Len())
	}
	// boundary rows keep archive values
	for _, date := range []time.Time{d(2021, 2, 1), d(2021, 2, 28)} {
		o := s.Observations[s.IndexOf(date)]
		if o.Mean != -11 {
			t.Errorf("%s mean = %v, want archived -11", date.Format(time.DateOnly), o.Mean)
		}
	}
	if out.Added[DirectionPast] != 17 {
		t.Errorf("Added[past] = %d, want 17", out.Added[DirectionPast])
	}
	if out.Added[DirectionFuture] != 10 {
		t.Errorf("Added[future] = %d, want 10", out.Added[DirectionFuture])
	}
}

func TestReconcile_EmptyFetchKeepsArchive(t *testing.T) {
	archived := daily("0", d(2021, 2, 1), d(2021, 2, 28), -11)
	src := &fakeSource{empty: true}
	r := New(map[string]series.Series{"0": archived}, "0", nil)

	out, err := r.Reconcile(context.Background(), d(2021, 2, 1), d(2021, 6, 1), src.fetch)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(src.calls) != 1 || src.calls[0].Direction != DirectionFuture {
		t.Fatalf("calls = %+v, want one future window", src.calls)
	}
	if out.Series.Len() != archived.Len() {
		t.Errorf("Len() = %d, want %d", out.Series.Len(), archived.Len())
	}
	if out.Added[DirectionFuture] != 0 {
		t.Errorf("Added[future] = %d, want 0", out.Added[DirectionFuture])
	}
}

func TestReconcile_FetchErrorPropagates(t *testing.T) {
	boom := errors.New("remote unavailable")
	r := New(nil, "0", nil)
	_, err := r.Reconcile(context.Background(), d(2021, 1, 1), d(2021, 1, 2),
		func(context.Context, Window) (series.Series, error) { return series.Series{}, boom })
	if !errors.Is(err, boom) {
		t.Errorf("Reconcile() error = %v, want wrapped %v", err, boom)
	}
}

func TestConcat_NoDuplicateDates(t *testing.T) {
	archived := daily("0", d(2021, 1, 10), d(2021, 1, 20), -11)
	tests := []struct {
		name    string
		fetched []series.Series
		wantLen int
	}{
		{"overlapping past", []series.Series{daily("0", d(2021, 1, 1), d(2021, 1, 12), 0)}, 20},
		{"overlapping future", []series.Series{daily("0", d(2021, 1, 18), d(2021, 1, 25), 0)}, 16},
		{"fully inside", []series.Series{daily("0", d(2021, 1, 12), d(2021, 1, 14), 0)}, 11},
		{"both sides", []series.Series{
			daily("0", d(2021, 1, 5), d(2021, 1, 10), 0),
			daily("0", d(2021, 1, 20), d(2021, 1, 22), 0),
		}, 18},
		{"nothing", nil, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Concat(archived, tt.fetched...)
			assertUniqueSorted(t, got)
			if got.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", got.Len(), tt.wantLen)
			}
			for _, o := range archived.Observations {
				if got.Observations[got.IndexOf(o.Date)].Mean != -11 {
					t.Errorf("archived date %v overwritten", o.Date)
				}
			}
		})
	}
}
