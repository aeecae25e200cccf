package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/bt-bridge/outspeed-realtime/shared"
)

const (
	WeatherToolName = "get_weather"

	// WeatherKeyMissing is returned verbatim when no API key is configured.
	WeatherKeyMissing = "OPEN_WEATHER_MAP_API_KEY is not set"

	weatherUnits = "imperial"
)

type WeatherConfig struct {
	APIKey string
	URL    string
	Client *fasthttp.Client
	Logger shared.LoggerAdapter
}

type weatherArgs struct {
	City string `json:"city"`
}

// WeatherTool looks up current conditions on OpenWeatherMap.
func WeatherTool(cfg WeatherConfig) Tool {
	logger := cfg.Logger
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	logger = logger.With(zap.String("tool", WeatherToolName))
	return Tool{
		Declaration: Declaration{
			Name:        WeatherToolName,
			Type:        declarationType,
			Description: "Get the current weather",
			Parameters: objectSchema([]string{"city"}, map[string]string{
				"city": "The city, e.g. San Francisco",
			}),
		},
		Handler: func(ctx context.Context, args json.RawMessage) string {
			body, err := getWeather(ctx, cfg, args)
			if err != nil {
				logger.Error("weather lookup failed", err)
				return err.Error()
			}
			return body
		},
		Precondition: func() string {
			if cfg.APIKey == "" {
				return WeatherKeyMissing
			}
			return ""
		},
	}
}

func getWeather(ctx context.Context, cfg WeatherConfig, raw json.RawMessage) (string, error) {
	if cfg.APIKey == "" {
		return "", errors.New(WeatherKeyMissing)
	}
	var args weatherArgs
	if err := sonic.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("decoding arguments: %w", err)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parsing weather URL: %w", err)
	}
	q := u.Query()
	q.Set("q", args.City)
	q.Set("appid", cfg.APIKey)
	q.Set("units", weatherUnits)
	u.RawQuery = q.Encode()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u.String())
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	if err := shared.DoRedirects(ctx, cfg.Client, req, resp, shared.MaxRedirects); err != nil {
		return "", err
	}
	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("Request failed with status code %d", status)
	}
	return string(resp.Body()), nil
}
