// Package catalog finds the satellite scene acquired closest to a date.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/HerbHall/backscatter/pkg/series"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultWindow is the search radius around a date.
const DefaultWindow = 12 * 24 * time.Hour

// Scene is one catalog item.
type Scene struct {
	ID       string
	Acquired time.Time
}

// Catalog searches for scenes intersecting a bounding box within [from, to].
type Catalog interface {
	Search(ctx context.Context, bound orb.Bound, from, to time.Time) ([]Scene, error)
}

// Nearest returns the scene acquired closest to date, if one lies within
// window of it. Ties go to the earlier acquisition.
func Nearest(scenes []Scene, date time.Time, window time.Duration) (Scene, bool) {
	var best Scene
	bestGap := time.Duration(-1)
	for _, s := range scenes {
		gap := s.Acquired.Sub(date)
		if gap < 0 {
			gap = -gap
		}
		if gap > window {
			continue
		}
		if bestGap < 0 || gap < bestGap || (gap == bestGap && s.Acquired.Before(best.Acquired)) {
			best, bestGap = s, gap
		}
	}
	return best, bestGap >= 0
}

// Lookup searches the catalog within ±window of date and returns the nearest scene.
func Lookup(ctx context.Context, cat Catalog, geom orb.Geometry, date time.Time, window time.Duration) (Scene, bool, error) {
	if geom == nil {
		return Scene{}, false, fmt.Errorf("scene lookup: %w: nil geometry", series.ErrUnsupportedGeometry)
	}
	scenes, err := cat.Search(ctx, geom.Bound(), date.Add(-window), date.Add(window))
	if err != nil {
		return Scene{}, false, fmt.Errorf("scene lookup %s: %w", date.Format(time.DateOnly), err)
	}
	s, ok := Nearest(scenes, date, window)
	return s, ok, nil
}

// HTTPClient queries a STAC API search endpoint.
type HTTPClient struct {
	url        string
	collection string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewHTTPClient creates a client for the STAC search endpoint at url,
// restricted to collection and limited to rps requests per second.
func NewHTTPClient(url, collection string, timeout time.Duration, rps float64, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &HTTPClient{
		url:        strings.TrimRight(url, "/") + "/search",
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

type searchRequest struct {
	BBox        []float64 `json:"bbox"`
	Datetime    string    `json:"datetime"`
	Collections []string  `json:"collections,omitempty"`
	Limit       int       `json:"limit"`
}

// Search posts one STAC search. Items without a parseable datetime are skipped.
func (c *HTTPClient) Search(ctx context.Context, bound orb.Bound, from, to time.Time) ([]Scene, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	body := searchRequest{
		BBox:     []float64{bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y()},
		Datetime: from.UTC().Format(time.RFC3339) + "/" + to.UTC().Format(time.RFC3339),
		Limit:    100,
	}
	if c.collection != "" {
		body.Collections = []string{c.collection}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode search: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	scenes := make([]Scene, 0, len(fc.Features))
	for _, f := range fc.Features {
		id := fmt.Sprint(f.ID)
		acquired, err := time.Parse(time.RFC3339, f.Properties.MustString("datetime", ""))
		if f.ID == nil || err != nil {
			c.logger.Debug("skipping catalog item", zap.Any("id", f.ID), zap.Error(err))
			continue
		}
		scenes = append(scenes, Scene{ID: id, Acquired: acquired.UTC()})
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Acquired.Before(scenes[j].Acquired) })
	return scenes, nil
}
