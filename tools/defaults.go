package tools

import (
	"github.com/valyala/fasthttp"

	"github.com/bt-bridge/outspeed-realtime/config"
	"github.com/bt-bridge/outspeed-realtime/shared"
)

// Default builds the registry of the demo assistant: get_weather and
// open_browser_tab on the client, end_call on the service.
func Default(logger shared.LoggerAdapter, cfg config.ClientConfig, client *fasthttp.Client, opener Opener) (*Registry, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return NewRegistry(
		logger,
		DefaultSystemTools(),
		WeatherTool(WeatherConfig{
			APIKey: cfg.WeatherAPIKey,
			URL:    cfg.WeatherURL,
			Client: client,
			Logger: logger,
		}),
		BrowserTabTool(opener, logger),
	)
}
