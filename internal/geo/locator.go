// Package geo is the geolocation provider boundary: a one-shot lookup
// yielding a coordinate pair or an error. The HTTP implementation resolves
// the caller's public IP through an ip-api compatible endpoint; callers
// treat any failure as "capability unavailable" and fall back.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ksandeen/weatherdeck/internal/models"
)

// Locator resolves a single best-effort coordinate pair for an address.
type Locator interface {
	Locate(ctx context.Context, ip string) (models.Coordinates, error)
}

var ErrUnavailable = errors.New("geolocation unavailable")

type IPLocator struct {
	baseURL string
	client  *http.Client
}

func NewIPLocator(baseURL string, timeout time.Duration) *IPLocator {
	return &IPLocator{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Locate looks up the given IP. Private or empty addresses resolve to the
// server's own location, which ip-api reports for an empty path segment.
func (l *IPLocator) Locate(ctx context.Context, ip string) (models.Coordinates, error) {
	endpoint := l.baseURL
	if ip != "" {
		endpoint = l.baseURL + "/" + url.PathEscape(ip)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Coordinates{}, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp ipAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.Coordinates{}, fmt.Errorf("parse response: %w", err)
	}
	if apiResp.Status != "success" {
		return models.Coordinates{}, fmt.Errorf("%w: %s", ErrUnavailable, apiResp.Message)
	}

	return models.Coordinates{Latitude: apiResp.Lat, Longitude: apiResp.Lon}, nil
}
