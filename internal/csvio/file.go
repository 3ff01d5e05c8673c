package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HerbHall/backscatter/pkg/series"
)

// Path returns the archive file for one (AOI, orbit, polarization, stage):
// {dataDir}/{aoi}/{aoi}_{orbit}_{pol}_{stage}.csv.
func Path(dataDir, aoi string, orbit series.Orbit, pol series.Polarization, stage series.Stage) string {
	name := fmt.Sprintf("%s_%s_%s_%s.csv", aoi, orbit.Short(), strings.ToUpper(string(pol)), stage)
	return filepath.Join(dataDir, aoi, name)
}

// Read parses a table. The first column must be the interval_from index.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return NewTable(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 || header[0] != IndexColumn {
		return nil, fmt.Errorf("first column %q: want %q", first(header), IndexColumn)
	}

	cols := header[1:]
	t := NewTable(nil)
	cells := make([][]string, len(cols))
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		date, err := parseDate(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		t.Index = append(t.Index, date)
		for i := range cols {
			cells[i] = append(cells[i], rec[i+1])
		}
	}
	for i, c := range cols {
		if err := t.AddColumn(c, cells[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Write renders t with the index as the first column.
func Write(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{IndexColumn}, t.Columns...)); err != nil {
		return err
	}
	rec := make([]string, len(t.Columns)+1)
	for i, date := range t.Index {
		rec[0] = date.Format(DateLayout)
		for j, c := range t.Columns {
			rec[j+1] = t.Cells[c][i]
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadFile reads the table at path. A missing file is not an error: it
// returns a nil table.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteFile writes t to path through a temporary file and rename, creating
// parent directories as needed.
func WriteFile(path string, t *Table) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, t); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateLayout, "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return series.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %s %q", IndexColumn, s)
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
