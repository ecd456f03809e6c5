package weather

import (
	"time"
)

// Location represents a monitored place for which we fetch observations.
// ID is the identifier that ends up in the staged artifact and the sink.
type Location struct {
	ID        string  `json:"location_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Observation is one hourly weather reading for a location.
// Units are fixed at the source boundary: Fahrenheit, mph, hPa, degrees.
// Immutable once written to an artifact.
type Observation struct {
	LocationID      string    `json:"location_id"`
	Time            time.Time `json:"time"` // always UTC
	TemperatureF    float64   `json:"temperature_f"`
	CloudCoverPct   float64   `json:"cloud_cover_pct"`
	SurfacePressure float64   `json:"surface_pressure_hpa"`
	WindSpeed80m    float64   `json:"wind_speed_80m_mph"`
	WindDirection   float64   `json:"wind_direction_80m_deg"`
}
