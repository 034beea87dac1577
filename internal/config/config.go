package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey      string
	WeatherCurrentURL  string
	WeatherForecastURL string
	WeatherAPITimeout  time.Duration
	WeatherUnits       string

	DefaultCity        string
	ForecastHourMarker string

	GeolocationURL     string
	GeolocationTimeout time.Duration

	DatabaseURL   string
	MigrationsDir string

	RedisURL   string
	SessionTTL time.Duration

	GoogleTokenInfoURL string

	BcryptCost        int
	MinPasswordLength int

	CityMinLength int
	CityMaxLength int

	RequestTimeout          time.Duration
	ShutdownTimeout         time.Duration
	ShutdownInFlightTimeout time.Duration

	PublicBaseURL string
}

type fileConfig struct {
	Server struct {
		Port          string `yaml:"port"`
		PublicBaseURL string `yaml:"public_base_url"`
	} `yaml:"server"`

	WeatherAPI struct {
		CurrentURL  string `yaml:"current_url"`
		ForecastURL string `yaml:"forecast_url"`
		Timeout     string `yaml:"timeout"`
		Units       string `yaml:"units"`
	} `yaml:"weather_api"`

	Dashboard struct {
		DefaultCity        string `yaml:"default_city"`
		ForecastHourMarker string `yaml:"forecast_hour_marker"`
		CityMinLength      int    `yaml:"city_min_length"`
		CityMaxLength      int    `yaml:"city_max_length"`
	} `yaml:"dashboard"`

	Geolocation struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"geolocation"`

	Storage struct {
		MigrationsDir string `yaml:"migrations_dir"`
	} `yaml:"storage"`

	Auth struct {
		SessionTTL         string `yaml:"session_ttl"`
		GoogleTokenInfoURL string `yaml:"google_token_info_url"`
		BcryptCost         int    `yaml:"bcrypt_cost"`
		MinPasswordLength  int    `yaml:"min_password_length"`
	} `yaml:"auth"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout         string `yaml:"timeout"`
		InFlightTimeout string `yaml:"in_flight_timeout"`
	} `yaml:"shutdown"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), with
// secrets and connection strings from env. A .env file in the working
// directory is loaded first if present. Call from project root.
func Load() (*Config, error) {
	// Missing .env is the normal case outside local dev.
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.PublicBaseURL = strings.TrimRight(fc.Server.PublicBaseURL, "/")
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://localhost:" + cfg.ServerPort
	}

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required")
	}
	cfg.WeatherCurrentURL = fc.WeatherAPI.CurrentURL
	if cfg.WeatherCurrentURL == "" {
		cfg.WeatherCurrentURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	cfg.WeatherForecastURL = fc.WeatherAPI.ForecastURL
	if cfg.WeatherForecastURL == "" {
		cfg.WeatherForecastURL = "https://api.openweathermap.org/data/2.5/forecast"
	}
	cfg.WeatherAPITimeout = parseDuration(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.WeatherUnits = fc.WeatherAPI.Units
	if cfg.WeatherUnits == "" {
		cfg.WeatherUnits = "imperial"
	}

	cfg.DefaultCity = fc.Dashboard.DefaultCity
	if cfg.DefaultCity == "" {
		cfg.DefaultCity = "New York"
	}
	cfg.ForecastHourMarker = fc.Dashboard.ForecastHourMarker
	if cfg.ForecastHourMarker == "" {
		cfg.ForecastHourMarker = "12:00:00"
	}
	cfg.CityMinLength = fc.Dashboard.CityMinLength
	if cfg.CityMinLength <= 0 {
		cfg.CityMinLength = 1
	}
	cfg.CityMaxLength = fc.Dashboard.CityMaxLength
	if cfg.CityMaxLength <= 0 {
		cfg.CityMaxLength = 100
	}

	cfg.GeolocationURL = fc.Geolocation.URL
	if cfg.GeolocationURL == "" {
		cfg.GeolocationURL = "http://ip-api.com/json"
	}
	cfg.GeolocationTimeout = parseDuration(fc.Geolocation.Timeout, 3*time.Second)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL required")
	}
	cfg.MigrationsDir = fc.Storage.MigrationsDir
	if cfg.MigrationsDir == "" {
		cfg.MigrationsDir = "migrations"
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}
	cfg.SessionTTL = parseDuration(fc.Auth.SessionTTL, 7*24*time.Hour)

	cfg.GoogleTokenInfoURL = fc.Auth.GoogleTokenInfoURL
	if cfg.GoogleTokenInfoURL == "" {
		cfg.GoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
	}
	cfg.BcryptCost = fc.Auth.BcryptCost
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = 12
	}
	cfg.MinPasswordLength = fc.Auth.MinPasswordLength
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 8
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal on empty
// input, parse error, or a non-positive result.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// RequestTimeout must cover both weather calls plus the geolocation lookup;
// auto-adjusts upward when it does not.
func validate(cfg *Config) error {
	switch cfg.WeatherUnits {
	case "imperial", "metric", "standard":
	default:
		return fmt.Errorf("weather_api.units must be imperial, metric or standard, got %q", cfg.WeatherUnits)
	}
	if cfg.CityMinLength > cfg.CityMaxLength {
		return fmt.Errorf("dashboard.city_min_length %d exceeds city_max_length %d", cfg.CityMinLength, cfg.CityMaxLength)
	}
	minRequest := 2*cfg.WeatherAPITimeout + cfg.GeolocationTimeout
	if cfg.RequestTimeout < minRequest {
		cfg.RequestTimeout = minRequest + time.Second
	}
	return nil
}
