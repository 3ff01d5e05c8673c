package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HerbHall/backscatter/pkg/series"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
)

// evalscript converts linear backscatter of one polarization band to dB.
const evalscript = `//VERSION=3
function setup() {
  return {
    input: [{ bands: ["%[1]s", "dataMask"] }],
    output: [{ id: "default", bands: 1 }, { id: "dataMask", bands: 1 }]
  };
}
function evaluatePixel(samples) {
  return { default: [10 * Math.log10(samples.%[1]s)], dataMask: [samples.dataMask] };
}`

// HTTPClient queries a statistics API over HTTP. Each call is a single
// attempt; retries are the caller's concern.
type HTTPClient struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient creates a client for the statistics endpoint at url.
func NewHTTPClient(url, token string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// NewHTTPClientWithHTTP creates a client with a caller-supplied http.Client.
func NewHTTPClientWithHTTP(url, token string, httpClient *http.Client, logger *zap.Logger) *HTTPClient {
	c := NewHTTPClient(url, token, 0, logger)
	c.httpClient = httpClient
	return c
}

type statsRequest struct {
	Input struct {
		Bounds struct {
			Geometry *geojson.Geometry `json:"geometry"`
		} `json:"bounds"`
		Data []dataSource `json:"data"`
	} `json:"input"`
	Aggregation struct {
		TimeRange struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"timeRange"`
		AggregationInterval struct {
			Of string `json:"of"`
		} `json:"aggregationInterval"`
		Evalscript string `json:"evalscript"`
	} `json:"aggregation"`
}

type dataSource struct {
	Type       string `json:"type"`
	DataFilter struct {
		OrbitDirection  string `json:"orbitDirection"`
		AcquisitionMode string `json:"acquisitionMode"`
	} `json:"dataFilter"`
}

func buildRequest(req Request) statsRequest {
	var body statsRequest
	body.Input.Bounds.Geometry = geojson.NewGeometry(req.Geometry)

	ds := dataSource{Type: "sentinel-1-grd"}
	ds.DataFilter.OrbitDirection = strings.ToUpper(string(req.Orbit))
	ds.DataFilter.AcquisitionMode = "IW"
	body.Input.Data = []dataSource{ds}

	// the upper bound is exclusive on the wire
	body.Aggregation.TimeRange.From = series.Day(req.From).Format(time.RFC3339)
	body.Aggregation.TimeRange.To = series.Day(req.To).AddDate(0, 0, 1).Format(time.RFC3339)
	body.Aggregation.AggregationInterval.Of = "P1D"
	body.Aggregation.Evalscript = fmt.Sprintf(evalscript, strings.ToUpper(string(req.Polarization)))
	return body
}

// Statistics posts the request and decodes the daily statistics.
func (c *HTTPClient) Statistics(ctx context.Context, req Request) ([]series.Observation, error) {
	if req.Geometry == nil {
		return nil, fmt.Errorf("statistics request: %w: nil geometry", series.ErrUnsupportedGeometry)
	}
	payload, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode statistics request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create statistics request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("statistics request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("statistics API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	obs, err := Decode(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("statistics fetched",
		zap.String("orbit", string(req.Orbit)),
		zap.String("polarization", string(req.Polarization)),
		zap.Time("from", req.From),
		zap.Time("to", req.To),
		zap.Int("rows", len(obs)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return obs, nil
}
