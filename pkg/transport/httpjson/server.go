package httpjson

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/latticehq/sequencer/pkg/observability/tracing"
	"github.com/latticehq/sequencer/pkg/transport"
)

// Server is a minimal HTTP server exposing the node's status, liveness and
// Prometheus metrics endpoints alongside the gRPC wire transport. It is
// intended for curl-friendly ops tooling and cmd/sequencerctl status, not
// for cluster traffic.
type Server struct {
	bind   string
	srv    *http.Server
	logger *log.Logger
	tlsCfg *tls.Config
}

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Start launches the HTTP server and registers /status, /healthz and
// /metrics. The server is shut down when the context is canceled.
func (s *Server) Start(ctx context.Context, status transport.StatusFunc) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if status == nil {
			http.Error(w, "status not supported", http.StatusNotImplemented)
			return
		}
		spanCtx, end := tracing.StartSpan(r.Context(), "http.status")
		defer end()
		snap, err := status(spanCtx)
		if err != nil {
			http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{Addr: s.bind, Handler: mux}

	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	if s.tlsCfg != nil {
		ln = tls.NewListener(ln, s.tlsCfg)
	}

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("httpjson: server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the configured bind address.
func (s *Server) Addr() string { return s.bind }

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	c, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := s.srv.Shutdown(c)
	s.srv = nil
	return err
}

var _ transport.Transport = (*Server)(nil)
