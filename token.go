package outspeed

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/bt-bridge/outspeed-realtime/shared"
)

// TokenClient asks the relay for an ephemeral key. It is the only code on
// the client side that talks HTTP; everything after that is the SDK's job.
type TokenClient struct {
	logger  shared.LoggerAdapter
	baseUrl *url.URL
	client  *fasthttp.Client
}

type tokenResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// NewTokenClient targets the relay at baseUrl, e.g. http://localhost:3000.
func NewTokenClient(logger shared.LoggerAdapter, baseUrl string, client *fasthttp.Client) (*TokenClient, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	u, err := url.Parse(strings.TrimRight(baseUrl, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing relay URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("relay URL %q must be absolute", baseUrl)
	}
	return &TokenClient{
		logger:  logger.With(zap.String("component", "token-client")),
		baseUrl: u,
		client:  client,
	}, nil
}

func (c *TokenClient) EphemeralKey(ctx context.Context, cfg *SessionConfig) (string, error) {
	if cfg == nil {
		return "", shared.ErrNoConfig
	}
	body, err := cfg.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshaling session config: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseUrl.JoinPath("/api/token").String())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := shared.DoRedirects(ctx, c.client, req, resp, shared.MaxRedirects); err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrEphemeralKey, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = sonic.Unmarshal(resp.Body(), &e)
		c.logger.Warn("relay refused session",
			zap.Int("status", resp.StatusCode()),
			zap.String("error", e.Error),
		)
		return "", fmt.Errorf("%w: status %d: %s", shared.ErrEphemeralKey, resp.StatusCode(), e.Error)
	}
	var tr tokenResponse
	if err := sonic.Unmarshal(resp.Body(), &tr); err != nil {
		return "", fmt.Errorf("%w: decoding response: %w", shared.ErrEphemeralKey, err)
	}
	if tr.ClientSecret.Value == "" {
		return "", fmt.Errorf("%w: response has no client_secret.value", shared.ErrEphemeralKey)
	}
	return tr.ClientSecret.Value, nil
}
