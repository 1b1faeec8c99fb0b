package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/peerlink-core/internal/catalog"
	"github.com/nerrad567/peerlink-core/internal/infrastructure/config"
	"github.com/nerrad567/peerlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/peerlink-core/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger

	// Relay is optional; conversation routes answer 503 without it.
	Relay     *relay.Relay
	Publisher *catalog.Publisher
	Catalog   *catalog.Client

	// Metrics is mounted at MetricsPath (default /metrics) when set.
	Metrics     http.Handler
	MetricsPath string
	Version     string
}

// Server is the HTTP API server for one peerlink host.
//
// The server is created with New() and started with Start(). Handler() can be
// used without starting a listener.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	relay     *relay.Relay
	publisher *catalog.Publisher
	catalog   *catalog.Client

	metrics     http.Handler
	metricsPath string
	version     string

	router http.Handler
	server *http.Server
}

// New creates a new API server with the given dependencies.
//
// Parameters:
//   - deps: Required dependencies (logger, publisher, catalog client)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("catalog publisher is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog client is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		relay:     deps.Relay,
		publisher: deps.Publisher,
		catalog:   deps.Catalog,
		metrics:   deps.Metrics,
		version:   deps.Version,
	}
	s.metricsPath = deps.MetricsPath
	if s.metricsPath == "" {
		s.metricsPath = "/metrics"
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
