package resolver

import (
	"strings"

	"github.com/ksandeen/weatherdeck/internal/models"
)

// DailyOutlook reduces a three-hourly forecast series to one reading per
// calendar day: the reading whose timestamp text carries the fixed local
// hour marker (e.g. "12:00:00"). Days without a reading at the marker yield
// no entry; nothing is synthesized.
func DailyOutlook(series models.ForecastSeries, hourMarker string) []models.ForecastReading {
	days := make([]models.ForecastReading, 0, len(series.Readings)/8+1)
	for _, reading := range series.Readings {
		if strings.Contains(reading.TimestampText, hourMarker) {
			days = append(days, reading)
		}
	}
	return days
}
