package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const readHeaderTimeout = 5 * time.Second

// Server exposes /metrics, /healthz and /readyz while a run is in progress.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
	done   chan struct{}
}

// NewServer builds the mux. A nil metrics handler leaves /metrics unrouted.
func NewServer(metrics http.Handler, tracer trace.Tracer, logger *slog.Logger, checks ...ReadyCheck) *Server {
	mux := http.NewServeMux()

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	mux.Handle("GET /healthz", HealthHandler())
	mux.Handle("GET /readyz", ReadyHandler(checks...))

	return &Server{
		srv: &http.Server{
			Handler:           HTTPMiddleware(tracer, mux),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.ln = ln

	go func() {
		defer close(s.done)

		serveErr := s.srv.Serve(ln)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", serveErr)
		}
	}()

	s.logger.Info("metrics server listening", "addr", ln.Addr().String())

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}

	return s.ln.Addr().String()
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}

	err := s.srv.Shutdown(ctx)

	<-s.done

	if err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}

	return nil
}
