// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bt-bridge/outspeed-realtime/shared"
)

// Environment variable keys
const (
	EnvOutspeedAPIKey    = "OUTSPEED_API_KEY"
	EnvWeatherAPIKey     = "OPEN_WEATHER_MAP_API_KEY"
	EnvWeatherAPIKeyPub  = "NEXT_PUBLIC_OPEN_WEATHER_MAP_API_KEY"
	EnvBindAddr          = "APP_BIND_ADDR"
	EnvSessionsURL       = "OUTSPEED_SESSIONS_URL"
	EnvWeatherURL        = "OPEN_WEATHER_MAP_URL"
	EnvCORSAllowedOrigin = "CORS_ALLOWED_ORIGIN"
	EnvMetricsNamespace  = "APP_METRICS_NAMESPACE"
	EnvShutdownTimeout   = "APP_SHUTDOWN_TIMEOUT"
	EnvLogFile           = "LOG_FILE"
)

const (
	DefaultBindAddr          = ":3000"
	DefaultSessionsURL       = "https://api.outspeed.com/v1/realtime/sessions"
	DefaultWeatherURL        = "https://api.openweathermap.org/data/2.5/weather"
	DefaultCORSAllowedOrigin = "*"
	DefaultMetricsNamespace  = "outspeed"
	DefaultShutdownTimeout   = 10 * time.Second
)

// DotenvFiles are read, in order, before the environment is consulted.
// Variables already present in the process environment are never overridden.
var DotenvFiles = []string{".env.local", ".env"}

// Config holds server-side settings. OutspeedAPIKey never leaves the process.
type Config struct {
	OutspeedAPIKey    string
	BindAddr          string
	SessionsURL       string
	CORSAllowedOrigin string
	MetricsNamespace  string
	ShutdownTimeout   time.Duration
	LogFile           string

	Client ClientConfig
}

// ClientConfig holds values that are safe to hand to the browser side.
type ClientConfig struct {
	WeatherAPIKey string
	WeatherURL    string
}

// Load reads dotenv files and the environment. A missing OUTSPEED_API_KEY is
// fatal; a missing weather key is not.
func Load() (Config, error) {
	loadDotenv(DotenvFiles...)

	cfg := Config{
		Client: LoadClient(),
	}
	var err error
	if cfg.OutspeedAPIKey, err = shared.Getenv(shared.GetenvString, EnvOutspeedAPIKey, false, ""); err != nil {
		return Config{}, err
	}
	if cfg.BindAddr, err = shared.Getenv(shared.GetenvString, EnvBindAddr, false, DefaultBindAddr); err != nil {
		return Config{}, err
	}
	if cfg.SessionsURL, err = shared.Getenv(shared.GetenvString, EnvSessionsURL, false, DefaultSessionsURL); err != nil {
		return Config{}, err
	}
	if cfg.CORSAllowedOrigin, err = shared.Getenv(shared.GetenvString, EnvCORSAllowedOrigin, false, DefaultCORSAllowedOrigin); err != nil {
		return Config{}, err
	}
	if cfg.MetricsNamespace, err = shared.Getenv(shared.GetenvString, EnvMetricsNamespace, false, DefaultMetricsNamespace); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = shared.Getenv(shared.GetenvDuration, EnvShutdownTimeout, false, DefaultShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LogFile, err = shared.Getenv(shared.GetenvString, EnvLogFile, false, ""); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadClient never fails: every client value is optional. It reads the same
// dotenv files as Load.
func LoadClient() ClientConfig {
	loadDotenv(DotenvFiles...)
	key := strings.TrimSpace(os.Getenv(EnvWeatherAPIKey))
	if key == "" {
		key = strings.TrimSpace(os.Getenv(EnvWeatherAPIKeyPub))
	}
	url := strings.TrimSpace(os.Getenv(EnvWeatherURL))
	if url == "" {
		url = DefaultWeatherURL
	}
	return ClientConfig{
		WeatherAPIKey: key,
		WeatherURL:    url,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.OutspeedAPIKey) == "" {
		return fmt.Errorf("%s is required: %w", EnvOutspeedAPIKey, shared.ErrNoAPIKey)
	}
	if strings.TrimSpace(c.SessionsURL) == "" {
		return errors.New("sessions URL must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvShutdownTimeout)
	}
	return nil
}

func loadDotenv(files ...string) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// Best effort; the real environment still applies.
		_ = godotenv.Load(f)
	}
}
