// Package server provides the HTTP server for the capped batch runner.
//
// The server exposes a REST API to start batch runs, watch their live
// per-task state and browse the history of completed runs. Runs can also
// be started on cron schedules.
//
// # Endpoints
//
//   - GET /health - Simple health check, returns "ok"
//   - GET /version - Build properties, start time and hostname
//   - GET /status - Current or last run with per-task state, and the next scheduled run
//   - GET /batches - Configured batches with their cap and mode
//   - GET /config - Returns current batch configuration as YAML, secrets redacted
//   - POST /reload - Reloads the batch configuration from disk
//   - POST /run - Starts a run of the batches named in the body
//   - GET /history - Returns summaries of completed runs
//   - GET /history/logs?id= - Returns the task executions of one run
//   - POST /history/reload - Re-reads run history from the state directory
//   - GET /metrics - Prometheus metrics
//
// # Architecture
//
// The batch configuration is swapped atomically on reload. Each run builds
// its tasks from the configuration current when it starts, so a reload
// takes effect on the next run without disturbing one in progress.
//
// # Example
//
//	srv, err := server.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nomis52/capexec/buildinfo"
	"github.com/nomis52/capexec/config"
	"github.com/nomis52/capexec/logging"
	"github.com/nomis52/capexec/metrics"
	serverconfig "github.com/nomis52/capexec/server/config"
	"github.com/nomis52/capexec/server/cron"
	"github.com/nomis52/capexec/server/handlers"
	"github.com/nomis52/capexec/server/runner"
	"github.com/nomis52/capexec/server/types"
	"golang.org/x/sync/errgroup"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Server is the HTTP server for the capped batch runner.
type Server struct {
	cfg        *serverconfig.ServerConfig
	logger     *slog.Logger
	logLevel   *slog.LevelVar
	logOutput  io.Writer
	extraCron  []cron.TriggerSpec
	batchCfg   atomic.Pointer[config.Config]
	store      runner.StateStore
	registry   *metrics.ScrapeRegistry
	runner     *runner.Runner
	cron       *cron.Manager
	certs      *CertLoader
	props      types.ServerProperties
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithCron adds scheduled runs to those in the server config.
func WithCron(specs ...cron.TriggerSpec) Option {
	return func(s *Server) {
		s.extraCron = append(s.extraCron, specs...)
	}
}

// WithLogOutput sets where the server logs are written. Default is stderr.
func WithLogOutput(w io.Writer) Option {
	return func(s *Server) {
		s.logOutput = w
	}
}

// New creates a Server from cfg. It loads the batch configuration and
// initializes all dependencies.
func New(cfg *serverconfig.ServerConfig, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logLevel:  &slog.LevelVar{},
		logOutput: os.Stderr,
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	s.logLevel.Set(level)
	s.logger = slog.New(slog.NewJSONHandler(s.logOutput, &slog.HandlerOptions{
		Level: s.logLevel,
	}))

	if err := s.Reload(); err != nil {
		return nil, err
	}

	if cfg.Listener.TLS() {
		s.certs, err = NewCertLoader(cfg.Listener.TLSCert, cfg.Listener.TLSKey, s.logger)
		if err != nil {
			return nil, err
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}
	s.props = types.ServerProperties{
		Build:     buildinfo.Get(),
		StartedAt: time.Now(),
		Hostname:  hostname,
	}

	if cfg.StateDir != "" {
		store, err := runner.NewDiskStore(cfg.StateDir, cfg.HistorySize, s.logger)
		if err != nil {
			return nil, fmt.Errorf("creating state store: %w", err)
		}
		s.store = store
	} else {
		s.store = runner.NewMemoryStore(cfg.HistorySize)
	}

	s.registry, err = metrics.NewScrapeRegistry()
	if err != nil {
		return nil, fmt.Errorf("creating metrics registry: %w", err)
	}
	executorMetrics, err := metrics.NewExecutorMetrics(s.registry)
	if err != nil {
		return nil, fmt.Errorf("registering executor metrics: %w", err)
	}

	s.runner = runner.New(s.logger, s,
		runner.WithStateStore(s.store),
		runner.WithMetrics(executorMetrics),
	)

	s.cron, err = cron.NewManager(s.cronSpecs(), cron.RunnableFunc(func(batches []string) error {
		return s.runner.Run(batches, runner.TriggerCron)
	}), s.logger)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// SetLogLevel changes the server's log level at runtime.
func (s *Server) SetLogLevel(level slog.Level) {
	s.logLevel.Set(level)
}

// Reload reads the batch config from disk and swaps it in. The new config
// must still define every batch a cron entry names.
func (s *Server) Reload() error {
	cfg, err := config.LoadConfig(s.cfg.BatchConfig)
	if err != nil {
		return fmt.Errorf("loading batch config %s: %w", s.cfg.BatchConfig, err)
	}

	known := func(name string) bool {
		_, ok := cfg.Batches[name]
		return ok
	}
	var errs []error
	for _, spec := range s.cronSpecs() {
		if err := spec.Validate(known); err != nil {
			errs = append(errs, fmt.Errorf("cron '%s': %w", spec, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.batchCfg.Store(&cfg)
	s.logger.Info("configuration loaded", "batch_config", s.cfg.BatchConfig, "batches", cfg.BatchNames())
	return nil
}

// Config returns the current batch configuration.
func (s *Server) Config() *config.Config {
	return s.batchCfg.Load()
}

// NextRun returns the next scheduled run time, or nil if no cron is configured.
func (s *Server) NextRun() *time.Time {
	if s.cron == nil || s.cron.Len() == 0 {
		return nil
	}
	next := s.cron.NextRun()
	return &next
}

// Status returns the current run status by delegating to the runner.
func (s *Server) Status() runner.RunStatus {
	return s.runner.Status()
}

// Addr returns the address the server is listening on. It blocks until the
// listener is open or ctx is done.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.listener.Addr(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run starts the HTTP server and the cron triggers and blocks until the
// context is cancelled or the listener fails. It performs a graceful
// shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	ln, err := net.Listen("tcp", s.cfg.Listener.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listener.Addr, err)
	}
	if s.certs != nil {
		ln = tls.NewListener(ln, s.certs.TLSConfig())
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("starting server",
			"addr", ln.Addr().String(),
			"tls", s.certs != nil,
			"batch_config", s.cfg.BatchConfig,
		)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if s.cron.Len() > 0 {
		g.Go(func() error {
			s.logger.Info("starting cron triggers", "count", s.cron.Len(), "next_run", s.cron.NextRun())
			return s.cron.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) cronSpecs() []cron.TriggerSpec {
	specs := make([]cron.TriggerSpec, 0, len(s.cfg.Cron)+len(s.extraCron))
	specs = append(specs, s.cfg.Cron...)
	return append(specs, s.extraCron...)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.Handle("GET /version", handlers.NewVersionHandler(s.props))
	mux.Handle("GET /status", handlers.NewStatusHandler(s, s))
	mux.Handle("GET /batches", handlers.NewBatchesHandler(s))
	mux.Handle("GET /config", handlers.NewConfigHandler(s))
	mux.Handle("POST /reload", handlers.NewReloadHandler(s.logger, s))
	mux.Handle("POST /run", handlers.NewRunHandler(s.runner))
	mux.Handle("GET /history", handlers.NewHistoryHandler(s.runner))
	mux.Handle("GET /history/logs", handlers.NewHistoryLogsHandler(s.runner))
	if reloadable, ok := s.store.(handlers.Reloader); ok {
		mux.Handle("POST /history/reload", handlers.NewStoreReloadHandler(s.logger, reloadable))
	}
	mux.Handle("GET /metrics", s.registry.Handler())
}
