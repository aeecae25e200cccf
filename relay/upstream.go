// Package relay proxies session-issuance requests to Outspeed so the
// long-lived API key never reaches the browser.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"github.com/bt-bridge/outspeed-realtime/shared"
)

// SessionCreator issues an ephemeral session for a session configuration.
type SessionCreator interface {
	CreateSession(ctx context.Context, body []byte) ([]byte, error)
}

// UpstreamError is a non-2xx answer from the session API.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream responded with status %d", e.Status)
	}
	return fmt.Sprintf("upstream responded with status %d: %s", e.Status, e.Message)
}

// TransportError means no response was received at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "session request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Upstream struct {
	url     string
	apiKey  string
	client  *fasthttp.Client
	metrics *shared.Metrics
}

var _ SessionCreator = (*Upstream)(nil)

func NewUpstream(rawURL, apiKey string, client *fasthttp.Client, metrics *shared.Metrics) (*Upstream, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, shared.ErrNoAPIKey
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing sessions URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("sessions URL must be absolute")
	}
	return &Upstream{
		url:     u.String(),
		apiKey:  apiKey,
		client:  client,
		metrics: metrics,
	}, nil
}

// CreateSession forwards body as is. It performs exactly one attempt.
func (u *Upstream) CreateSession(ctx context.Context, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+u.apiKey)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	start := time.Now()
	err := shared.DoRedirects(ctx, u.client, req, resp, shared.MaxRedirects)
	u.metrics.ObserveUpstreamLatency(time.Since(start))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{
			Status:  status,
			Message: upstreamMessage(resp.Body()),
		}
	}
	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}

// upstreamMessage extracts a top-level string "message" field, if any.
func upstreamMessage(body []byte) string {
	var payload map[string]any
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return ""
	}
	msg, _ := payload["message"].(string)
	return msg
}
