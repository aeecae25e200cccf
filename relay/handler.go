package relay

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bt-bridge/outspeed-realtime/shared"
)

// Client-facing error messages. Upstream details other than its own
// message never reach the caller.
const (
	MsgTokenFailed   = "Failed to generate token"
	MsgInternalError = "Internal server error"
)

type Handler struct {
	upstream   SessionCreator
	logger     shared.LoggerAdapter
	metrics    *shared.Metrics
	corsOrigin string
}

func NewHandler(upstream SessionCreator, logger shared.LoggerAdapter, metrics *shared.Metrics, corsOrigin string) (*Handler, error) {
	if upstream == nil {
		return nil, errors.New("no upstream provided")
	}
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &Handler{
		upstream:   upstream,
		logger:     logger.With(zap.String("component", "relay")),
		metrics:    metrics,
		corsOrigin: corsOrigin,
	}, nil
}

// ServeToken relays the session configuration in the request body and
// answers with the issued session, or {"error": message}.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(zap.String("request_id", uuid.NewString()))
	w.Header().Set("Access-Control-Allow-Origin", h.corsOrigin)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("token relay panicked", fmt.Errorf("%v", rec))
			h.metrics.CountTokenRequest("panic")
			writeError(w, http.StatusInternalServerError, MsgInternalError)
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("reading request body", err)
		h.metrics.CountTokenRequest("bad_request")
		writeError(w, http.StatusInternalServerError, MsgInternalError)
		return
	}
	if !sonic.Valid(body) {
		logger.Warn("request body is not JSON", zap.Int("bytes", len(body)))
		h.metrics.CountTokenRequest("bad_request")
		writeError(w, http.StatusInternalServerError, MsgInternalError)
		return
	}

	session, err := h.upstream.CreateSession(r.Context(), body)
	if err != nil {
		var upErr *UpstreamError
		var trErr *TransportError
		switch {
		case errors.As(err, &upErr):
			logger.Error("token generation error", err, zap.Int("status", upErr.Status))
			h.metrics.CountTokenRequest("upstream_error")
			msg := upErr.Message
			if msg == "" {
				msg = MsgTokenFailed
			}
			writeError(w, upErr.Status, msg)
		case errors.As(err, &trErr):
			logger.Error("token generation error", err)
			h.metrics.CountTokenRequest("transport_error")
			writeError(w, http.StatusInternalServerError, MsgTokenFailed)
		default:
			logger.Error("token generation error", err)
			h.metrics.CountTokenRequest("internal_error")
			writeError(w, http.StatusInternalServerError, MsgInternalError)
		}
		return
	}

	h.metrics.CountTokenRequest("ok")
	logger.Info("session issued", zap.Int("bytes", len(session)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(session); err != nil {
		logger.Error("writing token response", err)
	}
}

// ServePreflight answers CORS preflight requests with an empty 200.
func (h *Handler) ServePreflight(w http.ResponseWriter, _ *http.Request) {
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", h.corsOrigin)
	hdr.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	hdr.Set("Access-Control-Allow-Credentials", "true")
	w.WriteHeader(http.StatusOK)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorBody{Error: msg})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"error":"` + MsgInternalError + `"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
