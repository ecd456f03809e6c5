package artifact

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/i474232898/weather-lake/internal/weather"
)

func TestFilenameDerivation(t *testing.T) {
	date := time.Date(2025, 7, 29, 15, 30, 0, 0, time.UTC)
	got := Filename(date)
	if got != "weather_2025-07-29.csv" {
		t.Fatalf("expected weather_2025-07-29.csv, got %q", got)
	}

	// Identity is a pure function of the date: time of day must not matter.
	if Filename(date.Add(5*time.Hour)) != got {
		t.Fatalf("filename changed with time of day")
	}
}

func TestParseFilename(t *testing.T) {
	date, err := ParseFilename("weather_2025-07-29.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !date.Equal(time.Date(2025, 7, 29, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date: %v", date)
	}

	for _, bad := range []string{
		"weather.csv",
		"weather_2025-07-29.txt",
		"other_2025-07-29.csv",
		"weather_notadate.csv",
		"weather_2025-13-45.csv",
		"",
	} {
		if _, err := ParseFilename(bad); !errors.Is(err, ErrBadName) {
			t.Fatalf("expected ErrBadName for %q, got %v", bad, err)
		}
	}
}

func sampleRows() []weather.Observation {
	base := time.Date(2025, 7, 29, 0, 0, 0, 0, time.UTC)
	return []weather.Observation{
		{LocationID: "Charlotte", Time: base, TemperatureF: 88.5, CloudCoverPct: 20, SurfacePressure: 1013.2, WindSpeed80m: 12.4, WindDirection: 180},
		{LocationID: "Charlotte", Time: base.Add(time.Hour), TemperatureF: 87.1, CloudCoverPct: 25, SurfacePressure: 1013.0, WindSpeed80m: 11.9, WindDirection: 175},
		{LocationID: "Raleigh", Time: base, TemperatureF: 90.2, CloudCoverPct: 10, SurfacePressure: 1012.8, WindSpeed80m: 9.7, WindDirection: 200},
	}
}

func TestEncodeDecodePreservesOrder(t *testing.T) {
	rows := sampleRows()

	var buf bytes.Buffer
	if err := Encode(&buf, rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(rows)+1 {
		t.Fatalf("expected %d lines, got %d", len(rows)+1, len(lines))
	}
	if !strings.HasPrefix(lines[0], HeaderLocationID+","+HeaderTime) {
		t.Fatalf("unexpected header line: %q", lines[0])
	}

	decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(decoded))
	}
	for i := range rows {
		if decoded[i] != rows[i] {
			t.Fatalf("row %d mismatch: got %+v want %+v", i, decoded[i], rows[i])
		}
	}
}

func TestDecodeFollowsHeaderOrder(t *testing.T) {
	// Columns reordered relative to canonical order; values must still land
	// in the right fields.
	csv := "time," + HeaderLocationID + "," + HeaderTemperature + "," + HeaderCloudCover + "," +
		HeaderSurfacePressure + "," + HeaderWindSpeed + "," + HeaderWindDirection + "\n" +
		"2025-07-29T00:00:00Z,Charlotte,88.5,20,1013.2,12.4,180\n"

	rows, err := Decode(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].LocationID != "Charlotte" || rows[0].TemperatureF != 88.5 {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

func TestDecodeRejectsMissingColumn(t *testing.T) {
	csv := HeaderLocationID + "," + HeaderTime + "\nCharlotte,2025-07-29T00:00:00Z\n"
	if _, err := Decode(strings.NewReader(csv)); err == nil {
		t.Fatal("expected error for missing columns")
	}
}

func TestWriteFileDoesNotClobber(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weather_2025-07-29.csv")

	if err := os.WriteFile(path, []byte("existing"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := WriteFile(path, sampleRows())
	if !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	// The pre-existing artifact must be untouched.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "existing" {
		t.Fatalf("existing artifact was overwritten")
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weather_2025-07-29.csv")
	rows := sampleRows()

	if err := WriteFile(path, rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	decoded, err := Decode(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(decoded))
	}

	// No stray temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file in dir, found %d", len(entries))
	}
}
