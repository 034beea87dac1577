package resolver

import "strings"

// Theme is a named visual background derived from the current conditions.
type Theme string

const (
	ThemeNight  Theme = "night"
	ThemeRain   Theme = "rain"
	ThemeClouds Theme = "clouds"
	ThemeClear  Theme = "clear"
)

// DeriveTheme maps a condition text and day/night flag to a background
// theme. Deterministic, first match wins: night beats rain beats clouds.
// Night is decided by the caller from the icon code, independent of the
// condition text.
func DeriveTheme(condition string, isNight bool) Theme {
	if isNight {
		return ThemeNight
	}
	c := strings.ToLower(condition)
	if strings.Contains(c, "rain") || strings.Contains(c, "drizzle") {
		return ThemeRain
	}
	if strings.Contains(c, "cloud") {
		return ThemeClouds
	}
	return ThemeClear
}
