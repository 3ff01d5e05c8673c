// Package aoi loads areas of interest and splits them into features, each
// identified by a stable fid used as its column prefix.
package aoi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/HerbHall/backscatter/pkg/series"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// Feature is one sub-geometry of an AOI.
type Feature struct {
	FID      string
	Geometry orb.Geometry
}

// AOI is a named area of interest with at least one feature.
type AOI struct {
	Name     string
	Features []Feature
}

// Bound returns the bounding box of all features.
func (a *AOI) Bound() orb.Bound {
	var b orb.Bound
	for i, f := range a.Features {
		if i == 0 {
			b = f.Geometry.Bound()
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b
}

// Geometry returns the whole AOI as one geometry.
func (a *AOI) Geometry() orb.Geometry {
	if len(a.Features) == 1 {
		return a.Features[0].Geometry
	}
	var mp orb.MultiPolygon
	for _, f := range a.Features {
		mp = append(mp, polygons(f.Geometry)...)
	}
	return mp
}

// FromGeometry builds an AOI. A Polygon is a single feature "0". A
// MultiPolygon yields one feature per polygon when split is set, otherwise
// a single feature.
func FromGeometry(name string, geom orb.Geometry, split bool) (*AOI, error) {
	a := &AOI{Name: name}
	switch g := geom.(type) {
	case orb.Polygon:
		if len(g) > 0 {
			a.Features = []Feature{{FID: "0", Geometry: g}}
		}
	case orb.MultiPolygon:
		if split {
			for i, p := range g {
				a.Features = append(a.Features, Feature{FID: strconv.Itoa(i), Geometry: p})
			}
		} else if len(g) > 0 {
			a.Features = []Feature{{FID: "0", Geometry: g}}
		}
	case nil:
		return nil, fmt.Errorf("aoi %s: %w: no geometry", name, series.ErrUnsupportedGeometry)
	default:
		return nil, fmt.Errorf("aoi %s: %w: %s", name, series.ErrUnsupportedGeometry, geom.GeoJSONType())
	}
	if len(a.Features) == 0 {
		return nil, &series.ConfigError{Field: "aoi feature count", Value: "0", Valid: []string{"at least one polygon"}}
	}
	return a, nil
}

// ParseWKT builds an AOI from a WKT POLYGON or MULTIPOLYGON.
func ParseWKT(name, s string, split bool) (*AOI, error) {
	geom, err := wkt.Unmarshal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("aoi %s: %w: %v", name, series.ErrUnsupportedGeometry, err)
	}
	return FromGeometry(name, geom, split)
}

// Parse builds an AOI from a GeoJSON FeatureCollection, Feature or bare
// geometry. The polygons of all features are merged before splitting.
func Parse(name string, data []byte, split bool) (*AOI, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("aoi %s: decode geojson: %w", name, err)
	}

	var geoms []orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("aoi %s: %w", name, err)
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("aoi %s: %w", name, err)
		}
		geoms = append(geoms, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("aoi %s: %w", name, err)
		}
		geoms = append(geoms, g.Geometry())
	}

	if len(geoms) == 1 {
		return FromGeometry(name, geoms[0], split)
	}
	var mp orb.MultiPolygon
	for _, g := range geoms {
		switch g.(type) {
		case orb.Polygon, orb.MultiPolygon:
			mp = append(mp, polygons(g)...)
		case nil:
			return nil, fmt.Errorf("aoi %s: %w: no geometry", name, series.ErrUnsupportedGeometry)
		default:
			return nil, fmt.Errorf("aoi %s: %w: %s", name, series.ErrUnsupportedGeometry, g.GeoJSONType())
		}
	}
	return FromGeometry(name, mp, split)
}

// Load reads a GeoJSON file. The AOI is named after the file without extension.
func Load(path string, split bool) (*AOI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aoi: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Parse(name, data, split)
}

func polygons(g orb.Geometry) []orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}
	case orb.MultiPolygon:
		return v
	}
	return nil
}
