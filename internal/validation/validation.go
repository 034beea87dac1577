package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrCityEmpty is returned when the search text is empty or whitespace-only
// after trim. Handled locally; it must never reach the network layer.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooLong is returned when the search text exceeds the maximum.
var ErrCityTooLong = errors.New("city name too long")

// ErrCityInvalidChars is returned when the search text contains disallowed
// characters.
var ErrCityInvalidChars = errors.New("city name contains invalid characters")

// ValidateCity trims the input, enforces length bounds (minLen, maxLen in
// runes) and restricts to letters (Unicode), digits, space, comma, hyphen,
// apostrophe and period. Returns the trimmed string or an error suitable for
// a 400 INVALID_CITY response.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 || (minLen > 0 && n < minLen) {
		return "", ErrCityEmpty
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}
