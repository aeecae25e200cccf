package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/bt-bridge/outspeed-realtime/config"
	"github.com/bt-bridge/outspeed-realtime/shared"
	"github.com/bt-bridge/outspeed-realtime/tools"
)

type stubUpstream struct {
	status int
	body   string
	calls  atomic.Int32

	mu             sync.Mutex
	gotAuth        string
	gotContentType string
	gotBody        []byte
}

func (s *stubUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotAuth = r.Header.Get("Authorization")
	s.gotContentType = r.Header.Get("Content-Type")
	s.gotBody, _ = io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(s.status)
	_, _ = io.WriteString(w, s.body)
}

func newRelay(t *testing.T, creator SessionCreator) (*httptest.Server, *shared.Metrics) {
	t.Helper()
	metrics := shared.NewMetrics("test_relay")
	h, err := NewHandler(creator, shared.NewNopLogger(), metrics, "")
	require.NoError(t, err)
	registry, err := tools.Default(shared.NewNopLogger(), config.ClientConfig{}, nil, nil)
	require.NoError(t, err)
	srv, err := NewServer(h, registry, metrics, shared.NewNopLogger(), 0)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, metrics
}

func newUpstream(t *testing.T, rawURL string) *Upstream {
	t.Helper()
	up, err := NewUpstream(rawURL, "sk-test", &fasthttp.Client{}, nil)
	require.NoError(t, err)
	return up
}

func postToken(t *testing.T, base, body string) (int, string, http.Header) {
	t.Helper()
	res, err := http.Post(base+TokenPath, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(data), res.Header
}

func TestServeTokenRelaysUpstream(t *testing.T) {
	tests := []struct {
		name           string
		upstreamStatus int
		upstreamBody   string
		wantStatus     int
		wantBody       string
	}{
		{
			name:           "success passes body through",
			upstreamStatus: http.StatusOK,
			upstreamBody:   `{"client_secret":{"value":"abc123"}}`,
			wantStatus:     http.StatusOK,
			wantBody:       `{"client_secret":{"value":"abc123"}}`,
		},
		{
			name:           "created is reported as ok",
			upstreamStatus: http.StatusCreated,
			upstreamBody:   `{"client_secret":{"value":"xyz"},"expires_at":1}`,
			wantStatus:     http.StatusOK,
			wantBody:       `{"client_secret":{"value":"xyz"},"expires_at":1}`,
		},
		{
			name:           "structured upstream error",
			upstreamStatus: http.StatusUnauthorized,
			upstreamBody:   `{"message":"invalid credential"}`,
			wantStatus:     http.StatusUnauthorized,
			wantBody:       `{"error":"invalid credential"}`,
		},
		{
			name:           "upstream error without message",
			upstreamStatus: http.StatusBadGateway,
			upstreamBody:   `<html>bad gateway</html>`,
			wantStatus:     http.StatusBadGateway,
			wantBody:       `{"error":"Failed to generate token"}`,
		},
		{
			name:           "non string message is ignored",
			upstreamStatus: http.StatusUnprocessableEntity,
			upstreamBody:   `{"message":{"detail":"nested"}}`,
			wantStatus:     http.StatusUnprocessableEntity,
			wantBody:       `{"error":"Failed to generate token"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubUpstream{status: tt.upstreamStatus, body: tt.upstreamBody}
			upstream := httptest.NewServer(stub)
			defer upstream.Close()
			relay, _ := newRelay(t, newUpstream(t, upstream.URL))

			reqBody := `{"model":"outspeed-v1","voice":"sophie"}`
			status, body, _ := postToken(t, relay.URL, reqBody)

			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantBody, body)
			stub.mu.Lock()
			defer stub.mu.Unlock()
			assert.Equal(t, "Bearer sk-test", stub.gotAuth)
			assert.Equal(t, "application/json", stub.gotContentType)
			assert.Equal(t, reqBody, string(stub.gotBody))
			assert.EqualValues(t, 1, stub.calls.Load())
		})
	}
}

func TestServeTokenTransportFailure(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	rawURL := upstream.URL
	upstream.Close()

	relay, _ := newRelay(t, newUpstream(t, rawURL))
	status, body, _ := postToken(t, relay.URL, `{"model":"outspeed-v1"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, `{"error":"Failed to generate token"}`, body)
}

func TestServeTokenRejectsNonJSON(t *testing.T) {
	stub := &stubUpstream{status: http.StatusOK, body: `{}`}
	upstream := httptest.NewServer(stub)
	defer upstream.Close()
	relay, _ := newRelay(t, newUpstream(t, upstream.URL))

	for _, body := range []string{"", "not json", `{"model":`} {
		status, got, _ := postToken(t, relay.URL, body)
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, `{"error":"Internal server error"}`, got)
	}
	assert.EqualValues(t, 0, stub.calls.Load())
}

type creatorFunc func(ctx context.Context, body []byte) ([]byte, error)

func (f creatorFunc) CreateSession(ctx context.Context, body []byte) ([]byte, error) {
	return f(ctx, body)
}

func TestServeTokenHidesUnexpectedFailures(t *testing.T) {
	tests := []struct {
		name    string
		creator creatorFunc
	}{
		{
			name: "plain error",
			creator: func(context.Context, []byte) ([]byte, error) {
				return nil, errors.New("secret internal detail")
			},
		},
		{
			name: "panic",
			creator: func(context.Context, []byte) ([]byte, error) {
				panic("secret internal detail")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay, _ := newRelay(t, tt.creator)
			status, body, _ := postToken(t, relay.URL, `{}`)
			assert.Equal(t, http.StatusInternalServerError, status)
			assert.Equal(t, `{"error":"Internal server error"}`, body)
			assert.NotContains(t, body, "secret")
		})
	}
}

func TestServePreflight(t *testing.T) {
	relay, _ := newRelay(t, creatorFunc(func(context.Context, []byte) ([]byte, error) {
		t.Fatal("preflight must not reach upstream")
		return nil, nil
	}))

	req, err := http.NewRequest(http.MethodOptions, relay.URL+TokenPath, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, body)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", res.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", res.Header.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "true", res.Header.Get("Access-Control-Allow-Credentials"))
}

func TestPreflightUsesConfiguredOrigin(t *testing.T) {
	h, err := NewHandler(creatorFunc(nil), shared.NewNopLogger(), nil, "https://app.example.com")
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServePreflight(rec, httptest.NewRequest(http.MethodOptions, TokenPath, nil))
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewUpstreamValidates(t *testing.T) {
	_, err := NewUpstream("https://api.outspeed.com/v1/realtime/sessions", "", nil, nil)
	require.ErrorIs(t, err, shared.ErrNoAPIKey)

	_, err = NewUpstream("/relative", "sk", nil, nil)
	require.Error(t, err)
}

func TestServerAuxiliaryRoutes(t *testing.T) {
	stub := &stubUpstream{status: http.StatusOK, body: `{"client_secret":{"value":"abc123"}}`}
	upstream := httptest.NewServer(stub)
	defer upstream.Close()
	relay, _ := newRelay(t, newUpstream(t, upstream.URL))

	_, _, _ = postToken(t, relay.URL, `{"model":"outspeed-v1"}`)

	res, err := http.Get(relay.URL + "/api/tools")
	require.NoError(t, err)
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), `"name":"get_weather"`)
	assert.Contains(t, string(data), `"name":"open_browser_tab"`)
	assert.Contains(t, string(data), `"system_tools":[{"name":"end_call","enabled":true}]`)

	res, err = http.Get(relay.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(relay.URL + "/metrics")
	require.NoError(t, err)
	data, _ = io.ReadAll(res.Body)
	res.Body.Close()
	assert.True(t, bytes.Contains(data, []byte(`test_relay_token_requests_total{outcome="ok"} 1`)))
}

func TestServeTokenFollowsUpstreamRedirect(t *testing.T) {
	stub := &stubUpstream{status: http.StatusOK, body: `{"client_secret":{"value":"abc123"}}`}
	mux := http.NewServeMux()
	mux.Handle("/v2/sessions", stub)
	mux.HandleFunc("/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/v2/sessions", http.StatusTemporaryRedirect)
	})
	api := httptest.NewServer(mux)
	t.Cleanup(api.Close)

	ts, _ := newRelay(t, newUpstream(t, api.URL+"/v1/sessions"))
	status, body, _ := postToken(t, ts.URL, `{"model":"outspeed-v1"}`)

	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"client_secret":{"value":"abc123"}}`, body)
	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, "Bearer sk-test", stub.gotAuth)
	assert.JSONEq(t, `{"model":"outspeed-v1"}`, string(stub.gotBody))
}
