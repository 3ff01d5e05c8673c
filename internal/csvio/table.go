// Package csvio persists series as wide CSV tables: one row per date, one
// "{fid}_{field}" column per feature field, indexed by interval_from.
package csvio

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/backscatter/pkg/series"
)

// IndexColumn is the header of the date index.
const IndexColumn = "interval_from"

// DateLayout is the on-disk date format of the index.
const DateLayout = time.DateOnly

// fieldsBySuffix lists known fields, longest first, for splitting column names.
var fieldsBySuffix = []string{
	series.FieldSampleCount, series.FieldNodataCount, series.FieldAnomaly,
	series.FieldMean, series.FieldStd, series.FieldMin, series.FieldMax,
}

// Table is a wide, date-indexed table of string cells. Cells[col][i] belongs
// to Index[i]; an empty cell means no value.
type Table struct {
	Index   []time.Time
	Columns []string
	Cells   map[string][]string
}

// NewTable returns an empty table over index.
func NewTable(index []time.Time) *Table {
	return &Table{Index: index, Cells: make(map[string][]string)}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Index) }

// AddColumn appends a column. A column with an existing name is replaced in place.
func (t *Table) AddColumn(name string, cells []string) error {
	if len(cells) != len(t.Index) {
		return fmt.Errorf("column %s: %d cells for %d rows", name, len(cells), len(t.Index))
	}
	if _, ok := t.Cells[name]; !ok {
		t.Columns = append(t.Columns, name)
	}
	t.Cells[name] = cells
	return nil
}

// FromSeries projects features onto one table. The index is the union of all
// feature dates; a feature contributes one column per field and leaves cells
// empty on dates it was not observed.
func FromSeries(features []series.Series, fields []string) *Table {
	seen := make(map[time.Time]bool)
	var index []time.Time
	for _, f := range features {
		for _, o := range f.Observations {
			if !seen[o.Date] {
				seen[o.Date] = true
				index = append(index, o.Date)
			}
		}
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Before(index[j]) })
	row := make(map[time.Time]int, len(index))
	for i, date := range index {
		row[date] = i
	}

	t := NewTable(index)
	for _, f := range features {
		for _, field := range fields {
			cells := make([]string, len(index))
			for _, o := range f.Observations {
				cells[row[o.Date]] = formatField(o, field)
			}
			// lengths always match
			_ = t.AddColumn(series.Column(f.FID, field), cells)
		}
	}
	return t
}

// Series converts the table back into per-feature series in column order.
// A feature has a row wherever its mean cell is non-empty.
func (t *Table) Series() ([]series.Series, error) {
	var order []string
	cols := make(map[string]map[string]string) // fid -> field -> column
	for _, c := range t.Columns {
		fid, field, ok := SplitColumn(c)
		if !ok {
			continue
		}
		if _, ok := cols[fid]; !ok {
			cols[fid] = make(map[string]string)
			order = append(order, fid)
		}
		cols[fid][field] = c
	}

	out := make([]series.Series, 0, len(order))
	for _, fid := range order {
		meanCol, ok := cols[fid][series.FieldMean]
		if !ok {
			continue
		}
		var obs []series.Observation
		for i, date := range t.Index {
			if t.Cells[meanCol][i] == "" {
				continue
			}
			o := series.Observation{Date: date}
			for field, col := range cols[fid] {
				if err := setField(&o, field, t.Cells[col][i]); err != nil {
					return nil, fmt.Errorf("column %s row %s: %w", col, date.Format(DateLayout), err)
				}
			}
			obs = append(obs, o)
		}
		out = append(out, series.New(fid, obs))
	}
	return out, nil
}

// SeriesByFID is Series keyed by feature id.
func (t *Table) SeriesByFID() (map[string]series.Series, error) {
	all, err := t.Series()
	if err != nil {
		return nil, err
	}
	out := make(map[string]series.Series, len(all))
	for _, s := range all {
		out[s.FID] = s
	}
	return out, nil
}

// DropDuplicateColumns removes every helper column whose cells are identical
// to an earlier column's and returns the names removed. "{fid}_{field}"
// columns are always kept, even when two features share values.
func (t *Table) DropDuplicateColumns() []string {
	var kept, dropped []string
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		key := strings.Join(t.Cells[c], "\x00")
		_, _, typed := SplitColumn(c)
		if seen[key] && !typed {
			dropped = append(dropped, c)
			delete(t.Cells, c)
			continue
		}
		seen[key] = true
		kept = append(kept, c)
	}
	t.Columns = kept
	return dropped
}

// SplitColumn splits "{fid}_{field}" for a known field.
func SplitColumn(col string) (fid, field string, ok bool) {
	for _, f := range fieldsBySuffix {
		if strings.HasSuffix(col, "_"+f) && len(col) > len(f)+1 {
			return col[:len(col)-len(f)-1], f, true
		}
	}
	return "", "", false
}

func formatField(o series.Observation, field string) string {
	switch field {
	case series.FieldMean:
		return formatFloat(o.Mean)
	case series.FieldStd:
		return formatFloat(o.Std)
	case series.FieldMin:
		return formatFloat(o.Min)
	case series.FieldMax:
		return formatFloat(o.Max)
	case series.FieldSampleCount:
		return formatFloat(o.SampleCount)
	case series.FieldNodataCount:
		return formatFloat(o.NodataCount)
	case series.FieldAnomaly:
		return strconv.FormatBool(o.Anomaly)
	}
	return ""
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func setField(o *series.Observation, field, cell string) error {
	if cell == "" {
		return nil
	}
	if field == series.FieldAnomaly {
		b, err := strconv.ParseBool(cell)
		if err != nil {
			return err
		}
		o.Anomaly = b
		return nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return err
	}
	switch field {
	case series.FieldMean:
		o.Mean = v
	case series.FieldStd:
		o.Std = v
	case series.FieldMin:
		o.Min = v
	case series.FieldMax:
		o.Max = v
	case series.FieldSampleCount:
		o.SampleCount = v
	case series.FieldNodataCount:
		o.NodataCount = v
	}
	return nil
}
