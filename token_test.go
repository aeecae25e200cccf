package outspeed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/bt-bridge/outspeed-realtime/relay"
	"github.com/bt-bridge/outspeed-realtime/shared"
)

// startRelay runs the real relay in front of a stubbed session API.
func startRelay(t *testing.T, upstream http.HandlerFunc) string {
	t.Helper()
	api := httptest.NewServer(upstream)
	t.Cleanup(api.Close)

	up, err := relay.NewUpstream(api.URL, "sk-test", &fasthttp.Client{}, nil)
	require.NoError(t, err)
	h, err := relay.NewHandler(up, shared.NewNopLogger(), nil, "")
	require.NoError(t, err)
	srv, err := relay.NewServer(h, nil, nil, shared.NewNopLogger(), 0)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestTokenClientEphemeralKey(t *testing.T) {
	var forwarded []byte
	base := startRelay(t, func(w http.ResponseWriter, r *http.Request) {
		forwarded, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"client_secret":{"value":"abc123","expires_at":1700000000}}`)
	})

	tc, err := NewTokenClient(shared.NewNopLogger(), base, &fasthttp.Client{})
	require.NoError(t, err)

	cfg := DefaultSessionConfig(testRegistry(t))
	key, err := tc.EphemeralKey(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)

	want, err := cfg.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(forwarded))
}

func TestTokenClientFailures(t *testing.T) {
	tests := []struct {
		name     string
		upstream http.HandlerFunc
		contains string
	}{
		{
			name: "relay reports upstream error",
			upstream: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"message":"invalid credential"}`)
			},
			contains: "status 401: invalid credential",
		},
		{
			name: "missing client secret",
			upstream: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"id":"sess_1"}`)
			},
			contains: "no client_secret.value",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, err := NewTokenClient(shared.NewNopLogger(), startRelay(t, tt.upstream), &fasthttp.Client{})
			require.NoError(t, err)
			_, err = tc.EphemeralKey(context.Background(), DefaultSessionConfig(nil))
			require.ErrorIs(t, err, shared.ErrEphemeralKey)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestNewTokenClientValidates(t *testing.T) {
	_, err := NewTokenClient(nil, "http://localhost:3000", nil)
	require.ErrorIs(t, err, shared.ErrNoLogger)

	_, err = NewTokenClient(shared.NewNopLogger(), "localhost", nil)
	require.Error(t, err)

	tc, err := NewTokenClient(shared.NewNopLogger(), "http://localhost:3000/", nil)
	require.NoError(t, err)
	_, err = tc.EphemeralKey(context.Background(), nil)
	require.ErrorIs(t, err, shared.ErrNoConfig)
}
