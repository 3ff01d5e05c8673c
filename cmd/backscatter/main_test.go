package main

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/backscatter/internal/anomaly"
	"github.com/HerbHall/backscatter/internal/collection"
	"github.com/HerbHall/backscatter/pkg/series"
)

func TestParseRunFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"aoi file", []string{"-aoi", "field.geojson", "-start", "2021-01-01", "-end", "2021-03-01"}, ""},
		{"wkt", []string{"-wkt", "POLYGON((0 0,1 0,1 1,0 0))", "-name", "field", "-start", "2021-01-01"}, ""},
		{"no aoi", []string{"-start", "2021-01-01"}, "one of -aoi or -wkt"},
		{"both aoi", []string{"-aoi", "a.json", "-wkt", "POINT(0 0)", "-start", "2021-01-01"}, "mutually exclusive"},
		{"wkt without name", []string{"-wkt", "POLYGON((0 0,1 0,1 1,0 0))", "-start", "2021-01-01"}, "-name"},
		{"bad orbit", []string{"-aoi", "a.json", "-orbit", "polar", "-start", "2021-01-01"}, "invalid orbit"},
		{"bad pol", []string{"-aoi", "a.json", "-pol", "XY", "-start", "2021-01-01"}, "invalid polarization"},
		{"missing start", []string{"-aoi", "a.json"}, "-start is required"},
		{"bad date", []string{"-aoi", "a.json", "-start", "01/02/2021"}, "-start"},
		{"reversed", []string{"-aoi", "a.json", "-start", "2021-03-01", "-end", "2021-01-01"}, "before"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseRunFlags(tt.args, io.Discard)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("parseRunFlags: %v", err)
				}
				if f.pol != series.VV || len(f.orbits) != 2 {
					t.Errorf("defaults = %s %v", f.pol, f.orbits)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseRunFlags_DefaultEndIsToday(t *testing.T) {
	f, err := parseRunFlags([]string{"-aoi", "a.json", "-orbit", "asc", "-start", "2021-01-01"}, io.Discard)
	if err != nil {
		t.Fatalf("parseRunFlags: %v", err)
	}
	if !f.end.Equal(series.Day(time.Now().UTC())) {
		t.Errorf("end = %s, want today", f.end)
	}
	if len(f.orbits) != 1 || f.orbits[0] != series.Ascending {
		t.Errorf("orbits = %v", f.orbits)
	}
}

func TestPrintSummary(t *testing.T) {
	oc := collection.NewOrbitCollection([]series.Orbit{series.Ascending})
	sub := collection.NewSubset("field", series.Ascending, series.VV)
	sub.Add(series.New("0", nil))
	sub.Add(series.New("1", nil))
	if err := oc.Set(series.Ascending, sub); err != nil {
		t.Fatal(err)
	}
	err := oc.Attach(series.Ascending, map[string]*anomaly.Result{
		"0": {FID: "0", Events: []anomaly.Event{{
			Date: time.Date(2021, 1, 31, 0, 0, 0, 0, time.UTC), Value: -5, Direction: "up",
			ZScore: 4.9, Severity: anomaly.SeverityCritical,
		}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	printSummary(&buf, oc)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[0], "2021-01-31") || !strings.Contains(lines[0], "CRITICAL") {
		t.Errorf("event line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "skipped") {
		t.Errorf("skip line = %q", lines[1])
	}
}
