package collection

import (
	"fmt"
	"sync"

	"github.com/HerbHall/backscatter/internal/anomaly"
	"github.com/HerbHall/backscatter/pkg/series"
)

// Entry pairs one orbit with its subset and its anomaly results, if attached.
type Entry struct {
	Orbit     series.Orbit
	Subset    *Subset
	Anomalies map[string]*anomaly.Result
}

// OrbitCollection holds one Subset per configured orbit. Entries are always
// reported ascending first. It is safe for concurrent use.
type OrbitCollection struct {
	mu      sync.RWMutex
	orbits  []series.Orbit
	entries map[series.Orbit]*Entry
}

// NewOrbitCollection returns a collection for the given orbits. Duplicates are ignored.
func NewOrbitCollection(orbits []series.Orbit) *OrbitCollection {
	oc := &OrbitCollection{entries: make(map[series.Orbit]*Entry)}
	for _, want := range []series.Orbit{series.Ascending, series.Descending} {
		for _, o := range orbits {
			if o == want {
				oc.orbits = append(oc.orbits, o)
				oc.entries[o] = &Entry{Orbit: o}
				break
			}
		}
	}
	return oc
}

// Orbits returns the configured orbits in display order.
func (oc *OrbitCollection) Orbits() []series.Orbit {
	return append([]series.Orbit(nil), oc.orbits...)
}

// Set stores the subset for orbit.
func (oc *OrbitCollection) Set(orbit series.Orbit, s *Subset) error {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	e, ok := oc.entries[orbit]
	if !ok {
		return fmt.Errorf("orbit %s not configured", orbit)
	}
	e.Subset = s
	return nil
}

// Attach stores anomaly results for orbit, keyed by fid.
func (oc *OrbitCollection) Attach(orbit series.Orbit, results map[string]*anomaly.Result) error {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	e, ok := oc.entries[orbit]
	if !ok {
		return fmt.Errorf("orbit %s not configured", orbit)
	}
	e.Anomalies = results
	return nil
}

// Entries returns a snapshot of every configured orbit, ascending first.
func (oc *OrbitCollection) Entries() []Entry {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	out := make([]Entry, 0, len(oc.orbits))
	for _, o := range oc.orbits {
		out = append(out, *oc.entries[o])
	}
	return out
}

// Primary returns the entry drawn on the primary axis: ascending when
// configured, otherwise the only orbit.
func (oc *OrbitCollection) Primary() (Entry, bool) {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	if len(oc.orbits) == 0 {
		return Entry{}, false
	}
	return *oc.entries[oc.orbits[0]], true
}
