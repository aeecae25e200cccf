package shared

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type seenRequest struct {
	method string
	auth   string
	body   string
}

func recordTo(seen chan<- seenRequest) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- seenRequest{method: r.Method, auth: r.Header.Get("Authorization"), body: string(body)}
		_, _ = io.WriteString(w, "done")
	}
}

// otherHostServer listens on a second loopback address so redirects to it
// cross hosts.
func otherHostServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.2:0")
	if err != nil {
		t.Skipf("second loopback address unavailable: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener.Close()
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

func postRequest(rawURL string) *fasthttp.Request {
	req := fasthttp.AcquireRequest()
	req.SetRequestURI(rawURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer secret")
	req.SetBodyString(`{"a":1}`)
	return req
}

func TestDoRedirects(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		crossHost  bool
		wantMethod string
		wantAuth   string
		wantBody   string
	}{
		{
			name:       "307 replays the request",
			status:     http.StatusTemporaryRedirect,
			wantMethod: http.MethodPost,
			wantAuth:   "Bearer secret",
			wantBody:   `{"a":1}`,
		},
		{
			name:       "302 turns post into get",
			status:     http.StatusFound,
			wantMethod: http.MethodGet,
			wantAuth:   "Bearer secret",
		},
		{
			name:       "other host loses authorization",
			status:     http.StatusPermanentRedirect,
			crossHost:  true,
			wantMethod: http.MethodPost,
			wantBody:   `{"a":1}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := make(chan seenRequest, 1)
			mux := http.NewServeMux()
			mux.Handle("/final", recordTo(seen))
			location := "/final"
			if tt.crossHost {
				location = otherHostServer(t, recordTo(seen)).URL + "/final"
			}
			mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, location, tt.status)
			})
			origin := httptest.NewServer(mux)
			t.Cleanup(origin.Close)

			req := postRequest(origin.URL + "/start")
			defer fasthttp.ReleaseRequest(req)
			resp := fasthttp.AcquireResponse()
			defer fasthttp.ReleaseResponse(resp)

			require.NoError(t, DoRedirects(context.Background(), &fasthttp.Client{}, req, resp, MaxRedirects))
			assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
			got := <-seen
			assert.Equal(t, tt.wantMethod, got.method)
			assert.Equal(t, tt.wantAuth, got.auth)
			assert.Equal(t, tt.wantBody, got.body)
		})
	}
}

func TestDoRedirectsStopsAtLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusTemporaryRedirect)
	}))
	t.Cleanup(srv.Close)

	req := postRequest(srv.URL + "/loop")
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	err := DoRedirects(context.Background(), &fasthttp.Client{}, req, resp, 3)
	require.ErrorIs(t, err, fasthttp.ErrTooManyRedirects)
}

func TestDoRejectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := postRequest("http://127.0.0.1:1/")
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)
	require.ErrorIs(t, DoRedirects(ctx, nil, req, resp, MaxRedirects), context.Canceled)
}
