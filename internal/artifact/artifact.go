package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/weather-lake/internal/weather"
)

// Column headers of a staged artifact, in order. The sink's column mapping
// refers to these names, so they must stay stable across revisions.
const (
	HeaderLocationID      = "location_id"
	HeaderTime            = "time"
	HeaderTemperature     = "temperature (°F)"
	HeaderCloudCover      = "cloud cover (%)"
	HeaderSurfacePressure = "surface pressure (hPa)"
	HeaderWindSpeed       = "wind speed (80m elevation) (mph)"
	HeaderWindDirection   = "wind direction (80m elevation) (°)"
)

var (
	// ErrBadName is returned when a filename does not match weather_<date>.csv.
	ErrBadName = errors.New("filename must match weather_<YYYY-MM-DD>.csv")

	// ErrExists is returned when writing would overwrite an existing artifact.
	ErrExists = errors.New("artifact already exists")
)

// Header returns the CSV header row in canonical column order.
func Header() []string {
	return []string{
		HeaderLocationID,
		HeaderTime,
		HeaderTemperature,
		HeaderCloudCover,
		HeaderSurfacePressure,
		HeaderWindSpeed,
		HeaderWindDirection,
	}
}

// Filename derives the artifact name for a calendar date.
// Identity is a pure function of the date: one artifact per day.
func Filename(date time.Time) string {
	return fmt.Sprintf("weather_%s.csv", date.Format("2006-01-02"))
}

// ParseFilename validates name against the weather_<date>.csv pattern and
// returns the embedded date.
func ParseFilename(name string) (time.Time, error) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "weather_") || !strings.HasSuffix(base, ".csv") {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	datePart := strings.TrimSuffix(strings.TrimPrefix(base, "weather_"), ".csv")
	date, err := time.Parse("2006-01-02", datePart)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return date, nil
}

// Encode writes observations as CSV, header first, preserving row order.
// Callers are expected to pass rows already ordered by location then time.
func Encode(w io.Writer, rows []weather.Observation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.LocationID,
			row.Time.UTC().Format(time.RFC3339),
			formatFloat(row.TemperatureF),
			formatFloat(row.CloudCoverPct),
			formatFloat(row.SurfacePressure),
			formatFloat(row.WindSpeed80m),
			formatFloat(row.WindDirection),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile persists rows to path without clobbering an existing artifact.
// The file appears only after all rows encoded successfully; a failed encode
// leaves nothing behind.
func WriteFile(path string, rows []weather.Observation) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".weather_*")
	if err != nil {
		return err
	}
	if err := Encode(tmp, rows); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Decode parses an artifact back into observations. The header row must be
// present; column order follows the header, not canonical order, so artifacts
// written by older revisions with reordered columns still load.
func Decode(r io.Reader) ([]weather.Observation, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading artifact header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, want := range Header() {
		if _, ok := idx[want]; !ok {
			return nil, fmt.Errorf("artifact missing column %q", want)
		}
	}

	var rows []weather.Observation
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row, err := decodeRecord(record, idx)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodeRecord(record []string, idx map[string]int) (weather.Observation, error) {
	var row weather.Observation
	var err error

	row.LocationID = record[idx[HeaderLocationID]]

	row.Time, err = time.Parse(time.RFC3339, record[idx[HeaderTime]])
	if err != nil {
		return row, fmt.Errorf("parsing time %q: %w", record[idx[HeaderTime]], err)
	}
	row.Time = row.Time.UTC()

	fields := []struct {
		header string
		dst    *float64
	}{
		{HeaderTemperature, &row.TemperatureF},
		{HeaderCloudCover, &row.CloudCoverPct},
		{HeaderSurfacePressure, &row.SurfacePressure},
		{HeaderWindSpeed, &row.WindSpeed80m},
		{HeaderWindDirection, &row.WindDirection},
	}
	for _, f := range fields {
		*f.dst, err = strconv.ParseFloat(record[idx[f.header]], 64)
		if err != nil {
			return row, fmt.Errorf("parsing %s %q: %w", f.header, record[idx[f.header]], err)
		}
	}
	return row, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
