// Package collection groups per-feature series for one (AOI, orbit,
// polarization) into a Subset and the configured orbits into an
// OrbitCollection.
package collection

import (
	"sort"
	"strconv"
	"time"

	"github.com/HerbHall/backscatter/internal/archive"
	"github.com/HerbHall/backscatter/pkg/series"
)

// Subset holds the per-feature series of one (AOI, orbit, polarization).
// It is owned by a single orbit's processing and is not safe for concurrent use.
type Subset struct {
	AOI          string
	Orbit        series.Orbit
	Polarization series.Polarization
	Monthly      bool

	features   map[string]series.Series
	reconciled map[string]*archive.Outcome
}

// NewSubset returns an empty Subset.
func NewSubset(aoi string, orbit series.Orbit, pol series.Polarization) *Subset {
	return &Subset{
		AOI:          aoi,
		Orbit:        orbit,
		Polarization: pol,
		features:     make(map[string]series.Series),
		reconciled:   make(map[string]*archive.Outcome),
	}
}

// Add stores s under its fid, replacing any previous series for that fid.
func (c *Subset) Add(s series.Series) {
	c.features[s.FID] = s
}

// Get returns the series for fid.
func (c *Subset) Get(fid string) (series.Series, bool) {
	s, ok := c.features[fid]
	return s, ok
}

// Len returns the number of features, total included.
func (c *Subset) Len() int { return len(c.features) }

// FIDs returns the feature ids in column order: numeric ids ascending, then
// other ids lexically, then the total.
func (c *Subset) FIDs() []string {
	out := make([]string, 0, len(c.features))
	for fid := range c.features {
		out = append(out, fid)
	}
	SortFIDs(out)
	return out
}

// Features returns the series in FIDs order.
func (c *Subset) Features() []series.Series {
	fids := c.FIDs()
	out := make([]series.Series, len(fids))
	for i, fid := range fids {
		out[i] = c.features[fid]
	}
	return out
}

// AddTotal synthesizes and stores the total feature when the subset holds
// more than one feature. It reports whether a total was added.
func (c *Subset) AddTotal() bool {
	delete(c.features, series.TotalFID)
	if len(c.features) < 2 {
		return false
	}
	c.Add(Aggregate(c.Features()))
	return true
}

// MonthlySubset returns a new Subset with every feature collapsed to monthly rows.
func (c *Subset) MonthlySubset() *Subset {
	m := NewSubset(c.AOI, c.Orbit, c.Polarization)
	m.Monthly = true
	for _, s := range c.features {
		m.Add(Monthly(s))
	}
	for fid, o := range c.reconciled {
		m.reconciled[fid] = o
	}
	return m
}

// Window returns a new Subset restricted to from <= date <= to. Reconciliation
// outcomes are shared with c.
func (c *Subset) Window(from, to time.Time) *Subset {
	w := NewSubset(c.AOI, c.Orbit, c.Polarization)
	w.Monthly = c.Monthly
	for fid, s := range c.features {
		w.features[fid] = s.Slice(from, to)
	}
	for fid, o := range c.reconciled {
		w.reconciled[fid] = o
	}
	return w
}

// SetReconciliation records how fid's series was assembled from the archive.
func (c *Subset) SetReconciliation(fid string, o *archive.Outcome) {
	c.reconciled[fid] = o
}

// Reconciliation returns the recorded outcome for fid, if any.
func (c *Subset) Reconciliation(fid string) (*archive.Outcome, bool) {
	o, ok := c.reconciled[fid]
	return o, ok
}

// SortFIDs orders feature ids in place the way FIDs does.
func SortFIDs(fids []string) {
	rank := func(fid string) (int, int) {
		if fid == series.TotalFID {
			return 2, 0
		}
		if n, err := strconv.Atoi(fid); err == nil {
			return 0, n
		}
		return 1, 0
	}
	sort.SliceStable(fids, func(i, j int) bool {
		ri, ni := rank(fids[i])
		rj, nj := rank(fids[j])
		if ri != rj {
			return ri < rj
		}
		if ri == 0 && ni != nj {
			return ni < nj
		}
		return fids[i] < fids[j]
	})
}
