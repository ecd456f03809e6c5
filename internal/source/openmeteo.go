package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-lake/internal/artifact"
	"github.com/i474232898/weather-lake/internal/weather"
)

// ErrFetch marks upstream API or network failures. No partial artifact is
// persisted when any location's fetch fails.
var ErrFetch = errors.New("weather fetch failed")

const defaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// hourlyMetrics is the fixed metric set requested for every location.
var hourlyMetrics = "temperature_2m,cloud_cover,surface_pressure,wind_speed_80m,wind_direction_80m"

// Adapter fetches hourly observations from Open-Meteo and stages them as a
// local CSV artifact. Units are pinned at this boundary: Fahrenheit, mph,
// inches. One artifact per date, named weather_<date>.csv.
type Adapter struct {
	baseURL      string
	dataDir      string
	locations    []weather.Location
	forecastDays int
	pastDays     int
	httpCfg      HTTPClientConfig
	circuit      *gobreaker.CircuitBreaker
}

// Config holds adapter construction parameters.
type Config struct {
	BaseURL      string // defaults to the public Open-Meteo endpoint
	DataDir      string
	Locations    []weather.Location
	ForecastDays int // request window length forward from the date; default 1
	PastDays     int // request window length backward; default 0
}

// New creates an Adapter with the default resilience settings.
func New(client *http.Client, cfg Config) *Adapter {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openmeteo",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	forecastDays := cfg.ForecastDays
	if forecastDays <= 0 {
		forecastDays = 1
	}
	pastDays := cfg.PastDays
	if pastDays < 0 {
		pastDays = 0
	}

	return &Adapter{
		baseURL:      baseURL,
		dataDir:      cfg.DataDir,
		locations:    cfg.Locations,
		forecastDays: forecastDays,
		pastDays:     pastDays,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit: cb,
	}
}

// LocalPath returns where the artifact for date lives on disk.
func (a *Adapter) LocalPath(date time.Time) string {
	return filepath.Join(a.dataDir, artifact.Filename(date))
}

// Fetch retrieves hourly observations for every configured location and writes
// them to the local artifact path, ordered by location enumeration order then
// time ascending. A pre-existing local artifact short-circuits the fetch; the
// remote API is not called. Any single location failing fails the whole fetch
// and nothing is written.
func (a *Adapter) Fetch(ctx context.Context, date time.Time) (string, error) {
	if len(a.locations) == 0 {
		return "", fmt.Errorf("%w: no locations configured", ErrFetch)
	}

	path := a.LocalPath(date)
	if _, err := os.Stat(path); err == nil {
		log.Printf("source: local artifact %s already exists, skipping fetch", filepath.Base(path))
		return path, nil
	}

	// Collect everything in memory before touching disk so a mid-run failure
	// leaves no partial artifact behind.
	var rows []weather.Observation
	for _, loc := range a.locations {
		obs, err := a.fetchLocation(ctx, loc)
		if err != nil {
			return "", fmt.Errorf("%w: location %s: %v", ErrFetch, loc.ID, err)
		}
		rows = append(rows, obs...)
	}

	if err := artifact.WriteFile(path, rows); err != nil {
		if errors.Is(err, artifact.ErrExists) {
			// Another run staged it while we were fetching; theirs is just as good.
			log.Printf("source: %s appeared during fetch, keeping existing artifact", filepath.Base(path))
			return path, nil
		}
		return "", fmt.Errorf("%w: writing artifact: %v", ErrFetch, err)
	}

	log.Printf("source: staged %d rows to %s", len(rows), path)
	return path, nil
}

func (a *Adapter) fetchLocation(ctx context.Context, loc weather.Location) ([]weather.Observation, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
		values.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
		values.Set("hourly", hourlyMetrics)
		values.Set("timezone", "UTC")
		values.Set("forecast_days", strconv.Itoa(a.forecastDays))
		values.Set("past_days", strconv.Itoa(a.pastDays))
		values.Set("temperature_unit", "fahrenheit")
		values.Set("wind_speed_unit", "mph")
		values.Set("precipitation_unit", "inch")

		u := fmt.Sprintf("%s?%s", a.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, a.httpCfg, a.circuit, buildRequest)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Hourly struct {
			Time             []string  `json:"time"`
			Temperature2m    []float64 `json:"temperature_2m"`
			CloudCover       []float64 `json:"cloud_cover"`
			SurfacePressure  []float64 `json:"surface_pressure"`
			WindSpeed80m     []float64 `json:"wind_speed_80m"`
			WindDirection80m []float64 `json:"wind_direction_80m"`
		} `json:"hourly"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	h := payload.Hourly
	n := len(h.Time)
	if n == 0 {
		return nil, fmt.Errorf("empty hourly series for %s", loc.ID)
	}
	if len(h.Temperature2m) != n || len(h.CloudCover) != n || len(h.SurfacePressure) != n ||
		len(h.WindSpeed80m) != n || len(h.WindDirection80m) != n {
		return nil, fmt.Errorf("ragged hourly series for %s", loc.ID)
	}

	obs := make([]weather.Observation, 0, n)
	for i := 0; i < n; i++ {
		ts, err := parseHourly(h.Time[i])
		if err != nil {
			return nil, fmt.Errorf("parsing hourly time %q: %w", h.Time[i], err)
		}
		obs = append(obs, weather.Observation{
			LocationID:      loc.ID,
			Time:            ts,
			TemperatureF:    h.Temperature2m[i],
			CloudCoverPct:   h.CloudCover[i],
			SurfacePressure: h.SurfacePressure[i],
			WindSpeed80m:    h.WindSpeed80m[i],
			WindDirection:   h.WindDirection80m[i],
		})
	}
	return obs, nil
}

// parseHourly handles the minute-resolution timestamps Open-Meteo returns in
// UTC mode ("2006-01-02T15:04"), falling back to RFC3339.
func parseHourly(s string) (time.Time, error) {
	if ts, err := time.Parse("2006-01-02T15:04", s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
