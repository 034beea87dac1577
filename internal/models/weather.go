package models

import (
	"strings"
	"time"
)

// LocationQuery is the sole input to weather retrieval. Exactly one of
// PlaceName or Coordinates may be populated.
type LocationQuery struct {
	PlaceName   string
	Coordinates *Coordinates
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ByPlaceName returns a query for a free-text place name.
func ByPlaceName(name string) LocationQuery {
	return LocationQuery{PlaceName: name}
}

// ByCoordinates returns a query for a coordinate pair.
func ByCoordinates(lat, lon float64) LocationQuery {
	return LocationQuery{Coordinates: &Coordinates{Latitude: lat, Longitude: lon}}
}

// IsZero reports whether neither variant is populated.
func (q LocationQuery) IsZero() bool {
	return q.PlaceName == "" && q.Coordinates == nil
}

// Snapshot is a single-point-in-time current-conditions reading.
// Replaced wholesale on each successful fetch, never merged.
type Snapshot struct {
	PlaceName    string    `json:"placeName"`
	Temperature  float64   `json:"temperature"`
	FeelsLike    float64   `json:"feelsLike"`
	Humidity     int       `json:"humidity"`
	WindSpeed    float64   `json:"windSpeed"`
	VisibilityKM float64   `json:"visibilityKm"`
	Condition    string    `json:"condition"`
	Description  string    `json:"description"`
	Icon         string    `json:"icon"`
	FetchedAt    time.Time `json:"fetchedAt"`
}

// IsNight reports whether the reading was taken at night, by icon-code
// convention: OpenWeatherMap day icons end in "d", night icons in "n".
func (s Snapshot) IsNight() bool {
	return strings.Contains(s.Icon, "n")
}

// ForecastReading is one timestamped future reading in a forecast series.
type ForecastReading struct {
	Timestamp     time.Time `json:"timestamp"`
	TimestampText string    `json:"timestampText"` // "2006-01-02 15:04:05", API local time
	Temperature   float64   `json:"temperature"`
	Condition     string    `json:"condition"`
	Description   string    `json:"description"`
	Icon          string    `json:"icon"`
}

// ForecastSeries is an ordered sequence of future readings at three-hour
// intervals spanning several days. Replaced wholesale per fetch.
type ForecastSeries struct {
	Readings []ForecastReading `json:"readings"`
}
