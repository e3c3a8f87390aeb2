package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudchase/ollama-organizer/logging"
	"github.com/cloudchase/ollama-organizer/organizer"
	"github.com/cloudchase/ollama-organizer/registry"
	"github.com/cloudchase/ollama-organizer/telemetry"
)

// shutdownTimeout bounds how long in-flight requests get after the server
// context is cancelled.
const shutdownTimeout = 10 * time.Second

// Config holds the server's listen address and batch defaults.
type Config struct {
	Addr        string
	OutputRoot  string
	Concurrency int
	Metrics     *telemetry.Metrics
	Logger      logrus.FieldLogger
}

// Server is the HTTP API server for the organizer.
type Server struct {
	manager  *registry.ModelManager
	executor *organizer.Executor
	cfg      Config
	log      logrus.FieldLogger

	mu   sync.Mutex // guards busy
	busy bool       // an organize or delete batch is running
}

// NewServer creates a new API server.
func NewServer(mgr *registry.ModelManager, exec *organizer.Executor, cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewMetrics()
	}
	return &Server{
		manager:  mgr,
		executor: exec,
		cfg:      cfg,
		log:      log,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return NewRouter(s)
}

// Start serves until ctx is cancelled, then shuts down gracefully. Running
// batches see the request context cancelled and stop between blobs.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("starting ollama-organizer API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// acquire claims the single batch slot. It reports false when another
// organize or delete batch is still running.
func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}
