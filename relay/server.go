package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bt-bridge/outspeed-realtime/shared"
	"github.com/bt-bridge/outspeed-realtime/tools"
)

const TokenPath = "/api/token"

type Server struct {
	handler         *Handler
	registry        *tools.Registry
	metrics         *shared.Metrics
	logger          shared.LoggerAdapter
	shutdownTimeout time.Duration
}

// NewServer wires the relay handler and, when registry is not nil, the
// read-only tool listing.
func NewServer(handler *Handler, registry *tools.Registry, metrics *shared.Metrics, logger shared.LoggerAdapter, shutdownTimeout time.Duration) (*Server, error) {
	if handler == nil {
		return nil, errors.New("no handler provided")
	}
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Server{
		handler:         handler,
		registry:        registry,
		metrics:         metrics,
		logger:          logger.With(zap.String("component", "server")),
		shutdownTimeout: shutdownTimeout,
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)

	r.Post(TokenPath, s.handler.ServeToken)
	r.Options(TokenPath, s.handler.ServePreflight)

	r.Get("/api/tools", s.handleTools)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": shared.Version,
		})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

type toolListing struct {
	Tools       []tools.Declaration `json:"tools"`
	SystemTools []tools.SystemTool  `json:"system_tools"`
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	if s.registry == nil {
		respondJSON(w, http.StatusOK, toolListing{Tools: []tools.Declaration{}, SystemTools: []tools.SystemTool{}})
		return
	}
	respondJSON(w, http.StatusOK, toolListing{
		Tools:       s.registry.Declarations(),
		SystemTools: s.registry.SystemTools(),
	})
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errC := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", zap.String("addr", ln.Addr().String()))
		errC <- srv.Serve(ln)
	}()

	select {
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
