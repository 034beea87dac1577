package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ksandeen/weatherdeck/internal/models"
	"github.com/ksandeen/weatherdeck/internal/observability"
)

// Gateway retrieves current conditions plus the multi-day forecast for a
// location query in a single call. The current-conditions request is issued
// first; if it fails the forecast request is never attempted. A forecast
// failure after current success is also an error: callers get both readings
// or neither.
type Gateway interface {
	FetchWeather(ctx context.Context, query models.LocationQuery) (models.Snapshot, models.ForecastSeries, error)
}

var (
	ErrInvalidQuery    = errors.New("location query must set a place name or coordinates")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrPlaceNotFound   = errors.New("place not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
)

// OpenWeatherClient is the OpenWeatherMap implementation of Gateway.
// Every call is a fresh round trip: no retries, no caching.
type OpenWeatherClient struct {
	apiKey      string
	currentURL  string
	forecastURL string
	units       string
	client      *http.Client
}

func NewOpenWeatherClient(apiKey, currentURL, forecastURL, units string, timeout time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}

	return &OpenWeatherClient{
		apiKey:      apiKey,
		currentURL:  currentURL,
		forecastURL: forecastURL,
		units:       units,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type conditionBlock struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type currentResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []conditionBlock `json:"weather"`
	Wind    struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Visibility int `json:"visibility"` // meters
}

type forecastResponse struct {
	List []struct {
		Dt   int64  `json:"dt"`
		Text string `json:"dt_txt"`
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Weather []conditionBlock `json:"weather"`
	} `json:"list"`
}

// FetchWeather issues the current-conditions request and, only on its
// success, the forecast request.
func (c *OpenWeatherClient) FetchWeather(ctx context.Context, query models.LocationQuery) (models.Snapshot, models.ForecastSeries, error) {
	if query.IsZero() {
		return models.Snapshot{}, models.ForecastSeries{}, ErrInvalidQuery
	}

	snapshot, err := c.fetchCurrent(ctx, query)
	if err != nil {
		return models.Snapshot{}, models.ForecastSeries{}, fmt.Errorf("current conditions: %w", err)
	}

	series, err := c.fetchForecast(ctx, query)
	if err != nil {
		return models.Snapshot{}, models.ForecastSeries{}, fmt.Errorf("forecast: %w", err)
	}

	return snapshot, series, nil
}

func (c *OpenWeatherClient) fetchCurrent(ctx context.Context, query models.LocationQuery) (models.Snapshot, error) {
	body, err := c.call(ctx, "current", c.currentURL, query)
	if err != nil {
		return models.Snapshot{}, err
	}

	var resp currentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.Snapshot{}, fmt.Errorf("parse response: %w", err)
	}

	snapshot := models.Snapshot{
		PlaceName:    resp.Name,
		Temperature:  resp.Main.Temp,
		FeelsLike:    resp.Main.FeelsLike,
		Humidity:     resp.Main.Humidity,
		WindSpeed:    resp.Wind.Speed,
		VisibilityKM: float64(resp.Visibility) / 1000,
		FetchedAt:    time.Now(),
	}
	if snapshot.PlaceName == "" {
		snapshot.PlaceName = query.PlaceName
	}
	if len(resp.Weather) > 0 {
		snapshot.Condition = resp.Weather[0].Main
		snapshot.Description = resp.Weather[0].Description
		snapshot.Icon = resp.Weather[0].Icon
	}
	return snapshot, nil
}

func (c *OpenWeatherClient) fetchForecast(ctx context.Context, query models.LocationQuery) (models.ForecastSeries, error) {
	body, err := c.call(ctx, "forecast", c.forecastURL, query)
	if err != nil {
		return models.ForecastSeries{}, err
	}

	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.ForecastSeries{}, fmt.Errorf("parse response: %w", err)
	}

	series := models.ForecastSeries{Readings: make([]models.ForecastReading, 0, len(resp.List))}
	for _, entry := range resp.List {
		reading := models.ForecastReading{
			Timestamp:     time.Unix(entry.Dt, 0).UTC(),
			TimestampText: entry.Text,
			Temperature:   entry.Main.Temp,
		}
		if len(entry.Weather) > 0 {
			reading.Condition = entry.Weather[0].Main
			reading.Description = entry.Weather[0].Description
			reading.Icon = entry.Weather[0].Icon
		}
		series.Readings = append(series.Readings, reading)
	}
	return series, nil
}

// call performs one GET against the given endpoint and returns the raw body.
func (c *OpenWeatherClient) call(ctx context.Context, endpoint, baseURL string, query models.LocationQuery) ([]byte, error) {
	start := time.Now()

	req, err := c.buildRequest(ctx, baseURL, query)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, rawURL string, query models.LocationQuery) (*http.Request, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	if query.Coordinates != nil {
		params.Set("lat", strconv.FormatFloat(query.Coordinates.Latitude, 'f', -1, 64))
		params.Set("lon", strconv.FormatFloat(query.Coordinates.Longitude, 'f', -1, 64))
	} else {
		params.Set("q", query.PlaceName)
	}
	params.Set("appid", c.apiKey)
	params.Set("units", c.units)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrPlaceNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}
