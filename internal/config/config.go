package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-lake/internal/weather"
)

var validate = validator.New()

type AppConfig struct {
	// Object store.
	Bucket         string `validate:"required"`
	KeyPrefix      string
	MinioEndpoint  string `validate:"required"`
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool

	// Relational sink.
	DBURL    string `validate:"required"`
	DBSchema string

	// Source adapter.
	DataDir      string
	ForecastDays int `validate:"min=1,max=16"`
	PastDays     int `validate:"min=0,max=92"`
	HTTPTimeout  time.Duration

	// Locations to monitor.
	Locations []weather.Location `validate:"required,min=1"`

	// Pipeline scheduling and HTTP surface.
	PipelineInterval time.Duration
	RunCooldown      time.Duration
	HistoryMaxRuns   int
	HistoryMaxAge    time.Duration
	Port             string
}

// defaultLocations is the original deployment's fixed city set.
var defaultLocations = []weather.Location{
	{ID: "Charlotte", Latitude: 35.216976, Longitude: -80.83189},
	{ID: "Raleigh", Latitude: 35.77436, Longitude: -78.64127},
	{ID: "Greensboro", Latitude: 36.071556, Longitude: -79.78957},
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{
		Bucket:         os.Getenv("BUCKET_NAME"),
		KeyPrefix:      os.Getenv("KEY_PREFIX"),
		MinioEndpoint:  getenvDefault("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
		DBURL:          os.Getenv("DB_URL"),
		DBSchema:       getenvDefault("DB_SCHEMA", "WeatherData"),
		DataDir:        getenvDefault("DATA_DIR", "data"),
		ForecastDays:   getenvInt("FORECAST_DAYS", 1),
		PastDays:       getenvInt("PAST_DAYS", 0),
		HistoryMaxRuns: getenvInt("HISTORY_MAX_RUNS", 96),
		Port:           getenvDefault("PORT", "8080"),
	}

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.PipelineInterval, err = getenvDuration("PIPELINE_INTERVAL", "24h"); err != nil {
		return nil, err
	}
	// The scheduler ticks on whole minutes.
	if cfg.PipelineInterval < time.Minute {
		return nil, fmt.Errorf("invalid PIPELINE_INTERVAL %s: must be at least 1m", cfg.PipelineInterval)
	}
	if cfg.RunCooldown, err = getenvDuration("RUN_COOLDOWN", "1m"); err != nil {
		return nil, err
	}
	if cfg.HistoryMaxAge, err = getenvDuration("HISTORY_MAX_AGE", "168h"); err != nil {
		return nil, err
	}

	locs, err := loadLocations()
	if err != nil {
		return nil, err
	}
	cfg.Locations = locs

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadLocations parses WEATHER_LOCATIONS, a comma-separated list of either
// id:latitude:longitude triplets or bare city names. Bare names are resolved
// through the geocoder, which needs GEOCODER_API_KEY. Unset means the default
// city set.
func loadLocations() ([]weather.Location, error) {
	raw := os.Getenv("WEATHER_LOCATIONS")
	if raw == "" {
		return defaultLocations, nil
	}

	geocoder.ApiKey = os.Getenv("GEOCODER_API_KEY")

	var locs []weather.Location
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		switch len(parts) {
		case 3:
			lat, err := strconv.ParseFloat(parts[1], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid latitude in WEATHER_LOCATIONS entry %q: %w", entry, err)
			}
			lon, err := strconv.ParseFloat(parts[2], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid longitude in WEATHER_LOCATIONS entry %q: %w", entry, err)
			}
			locs = append(locs, weather.Location{ID: parts[0], Latitude: lat, Longitude: lon})
		case 1:
			if geocoder.ApiKey == "" {
				return nil, fmt.Errorf("WEATHER_LOCATIONS entry %q has no coordinates and GEOCODER_API_KEY is not set", entry)
			}
			loc, err := geocoder.Geocoding(geocoder.Address{City: entry})
			if err != nil {
				return nil, fmt.Errorf("geocoding %q: %w", entry, err)
			}
			locs = append(locs, weather.Location{ID: entry, Latitude: loc.Latitude, Longitude: loc.Longitude})
		default:
			return nil, fmt.Errorf("WEATHER_LOCATIONS entry %q must be id:lat:lon or a bare city name", entry)
		}
	}

	return locs, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
