package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HerbHall/backscatter/pkg/series"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func day(d int) time.Time {
	return time.Date(2021, 6, d, 0, 0, 0, 0, time.UTC)
}

func TestNearest(t *testing.T) {
	scenes := []Scene{
		{ID: "a", Acquired: day(1).Add(5 * time.Hour)},
		{ID: "b", Acquired: day(9)},
		{ID: "c", Acquired: day(11)},
		{ID: "d", Acquired: day(29)},
	}
	tests := []struct {
		name   string
		date   time.Time
		wantID string
		wantOK bool
	}{
		{"exact", day(9), "b", true},
		{"tie goes earlier", day(10), "b", true},
		{"closest after", day(12), "c", true},
		{"edge of window", time.Date(2021, 7, 11, 0, 0, 0, 0, time.UTC), "d", true},
		{"closest before", day(16).Add(-time.Hour), "c", true},
		{"outside window", time.Date(2021, 7, 20, 0, 0, 0, 0, time.UTC), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Nearest(scenes, tt.date, DefaultWindow)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
	_, ok := Nearest(nil, day(1), DefaultWindow)
	assert.False(t, ok)
}

type fakeCatalog struct {
	scenes   []Scene
	from, to time.Time
	bound    orb.Bound
	err      error
}

func (f *fakeCatalog) Search(_ context.Context, b orb.Bound, from, to time.Time) ([]Scene, error) {
	f.bound, f.from, f.to = b, from, to
	return f.scenes, f.err
}

func TestLookup(t *testing.T) {
	poly := orb.Polygon{{{10, 50}, {12, 50}, {12, 52}, {10, 52}, {10, 50}}}
	cat := &fakeCatalog{scenes: []Scene{{ID: "s1", Acquired: day(14)}}}

	s, ok, err := Lookup(context.Background(), cat, poly, day(10), DefaultWindow)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, day(10).Add(-DefaultWindow), cat.from)
	assert.Equal(t, day(10).Add(DefaultWindow), cat.to)
	assert.Equal(t, orb.Bound{Min: orb.Point{10, 50}, Max: orb.Point{12, 52}}, cat.bound)

	_, _, err = Lookup(context.Background(), cat, nil, day(10), DefaultWindow)
	assert.ErrorIs(t, err, series.ErrUnsupportedGeometry)

	cat.err = errors.New("catalog offline")
	_, _, err = Lookup(context.Background(), cat, poly, day(10), DefaultWindow)
	assert.ErrorIs(t, err, cat.err)
}

const searchResponse = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "S1B_late",
     "geometry": {"type": "Point", "coordinates": [11, 51]},
     "properties": {"datetime": "2021-06-12T05:31:10Z"}},
    {"type": "Feature", "id": "S1A_early",
     "geometry": {"type": "Point", "coordinates": [11, 51]},
     "properties": {"datetime": "2021-06-03T17:02:44Z"}},
    {"type": "Feature", "id": "broken",
     "geometry": {"type": "Point", "coordinates": [11, 51]},
     "properties": {}}
  ]
}`

func TestHTTPClient_Search(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(searchResponse))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "sentinel-1-grd", 5*time.Second, 0, zaptest.NewLogger(t))
	bound := orb.Bound{Min: orb.Point{10, 50}, Max: orb.Point{12, 52}}
	scenes, err := c.Search(context.Background(), bound, day(1), day(20))
	require.NoError(t, err)

	require.Len(t, scenes, 2)
	assert.Equal(t, "S1A_early", scenes[0].ID)
	assert.Equal(t, "S1B_late", scenes[1].ID)
	assert.Equal(t, []float64{10, 50, 12, 52}, got.BBox)
	assert.Equal(t, "2021-06-01T00:00:00Z/2021-06-20T00:00:00Z", got.Datetime)
	assert.Equal(t, []string{"sentinel-1-grd"}, got.Collections)
}

func TestHTTPClient_SearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad bbox", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second, 0, nil)
	_, err := c.Search(context.Background(), orb.Bound{}, day(1), day(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
