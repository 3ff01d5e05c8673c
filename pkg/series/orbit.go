package series

import "strings"

// Orbit is a satellite pass direction. Each orbit is an independent series.
type Orbit string

const (
	Ascending  Orbit = "ascending"
	Descending Orbit = "descending"
)

// Short returns the abbreviated name used in file names.
func (o Orbit) Short() string {
	switch o {
	case Ascending:
		return "asc"
	case Descending:
		return "desc"
	}
	return string(o)
}

// ParseOrbits resolves an orbit selector. "both" yields ascending then descending.
func ParseOrbits(s string) ([]Orbit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending":
		return []Orbit{Ascending}, nil
	case "desc", "descending":
		return []Orbit{Descending}, nil
	case "both":
		return []Orbit{Ascending, Descending}, nil
	}
	return nil, &ConfigError{Field: "orbit", Value: s, Valid: []string{"asc", "desc", "both"}}
}

// Polarization is the radar transmit/receive polarization of a band.
type Polarization string

const (
	VV Polarization = "VV"
	VH Polarization = "VH"
	HH Polarization = "HH"
	HV Polarization = "HV"
)

// ParsePolarization resolves a polarization name, case-insensitively.
func ParsePolarization(s string) (Polarization, error) {
	p := Polarization(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case VV, VH, HH, HV:
		return p, nil
	}
	return "", &ConfigError{Field: "polarization", Value: s, Valid: []string{"VV", "VH", "HH", "HV"}}
}

// Stage identifies a persisted data stage.
type Stage string

const (
	StageRaw        Stage = "raw"
	StageRawMonthly Stage = "raw_monthly"
	StageRegression Stage = "regression"
	StageLinear     Stage = "linear"
	StageAnomaly    Stage = "anomaly"
)

// ParseStage resolves a stage name.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StageRaw, StageRawMonthly, StageRegression, StageLinear, StageAnomaly:
		return st, nil
	}
	return "", &ConfigError{Field: "stage", Value: s,
		Valid: []string{string(StageRaw), string(StageRawMonthly), string(StageRegression), string(StageLinear), string(StageAnomaly)}}
}
