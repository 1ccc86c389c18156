package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/LumiOpen/translation-dispatcher/internal/tracker"
	"github.com/LumiOpen/translation-dispatcher/pkg/observability"
)

// HTTP server timeouts. Worker payloads are small JSON bodies; long
// read timeouts only delay detection of dead peers.
const (
	readTimeout  = 30 * time.Second
	writeTimeout = 60 * time.Second
	idleTimeout  = 120 * time.Second

	// drainTimeout bounds how long shutdown waits for in-flight
	// handlers to finish.
	drainTimeout = 10 * time.Second
)

// Config holds server construction parameters.
type Config struct {
	Host string
	Port int

	RetryHint    time.Duration
	MaxBatchSize int

	// ShutdownPoll is how often the completion poller checks whether
	// all work is done.
	ShutdownPoll time.Duration
}

// Server owns the HTTP listener and the shutdown logic: it serves
// worker requests until all work is complete, a signal arrives, or a
// fatal tracker error occurs.
type Server struct {
	cfg     Config
	tracker *tracker.Tracker
	logger  *slog.Logger

	httpServer *http.Server
	fatalCh    chan error
}

// New assembles the server: routes, middleware, health and metrics
// endpoints.
func New(
	cfg Config,
	tr *tracker.Tracker,
	providers observability.Providers,
) (*Server, error) {
	srv := &Server{
		cfg:     cfg,
		tracker: tr,
		logger:  providers.Logger,
		fatalCh: make(chan error, 1),
	}

	requestMetrics, err := observability.NewRequestMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("create request metrics: %w", err)
	}

	_, err = observability.NewTrackerMetrics(providers.Meter, srv.trackerSnapshot)
	if err != nil {
		return nil, fmt.Errorf("create tracker metrics: %w", err)
	}

	handler := NewHandler(tr, providers.Logger, requestMetrics,
		cfg.RetryHint, cfg.MaxBatchSize, srv.reportFatal)

	mux := http.NewServeMux()
	handler.Register(mux)

	mux.Handle("GET /healthz", observability.HealthHandler())
	mux.Handle("GET /readyz", observability.ReadyHandler(srv.readyCheck))

	if providers.MetricsHandler != nil {
		mux.Handle("GET /metrics", providers.MetricsHandler)
	}

	srv.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      observability.HTTPMiddleware(providers.Tracer, mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return srv, nil
}

// Run serves requests until all work is complete, the context is
// cancelled, or a fatal error occurs. On a clean exit (work complete or
// signal) it returns nil after draining handlers and closing the
// tracker; a non-nil return means the process must exit non-zero.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("dispatcher listening", "addr", listener.Addr().String())

	serveErrCh := make(chan error, 1)

	go func() {
		serveErr := s.httpServer.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serveErrCh <- serveErr
		}
	}()

	ticker := time.NewTicker(s.cfg.ShutdownPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutdown signal received")

			return s.shutdown()
		case fatalErr := <-s.fatalCh:
			logAttrs := []any{"error", fatalErr}

			stats, statsErr := s.tracker.Stats()
			if statsErr == nil {
				logAttrs = append(logAttrs, "last_processed_work_id", stats.LastProcessedWorkID)
			}

			s.logger.Error("fatal error, shutting down", logAttrs...)
			s.drain()
			closeErr := s.tracker.Close()

			return errors.Join(fatalErr, closeErr)
		case serveErr := <-serveErrCh:
			closeErr := s.tracker.Close()

			return errors.Join(fmt.Errorf("serve: %w", serveErr), closeErr)
		case <-ticker.C:
			complete, completeErr := s.tracker.AllWorkComplete()
			if completeErr != nil {
				s.drain()
				closeErr := s.tracker.Close()

				return errors.Join(completeErr, closeErr)
			}

			if complete {
				s.logger.Info("all work complete, shutting down")

				return s.shutdown()
			}
		}
	}
}

// shutdown drains in-flight handlers and closes the tracker, writing
// the final checkpoint.
func (s *Server) shutdown() error {
	s.drain()

	closeErr := s.tracker.Close()
	if closeErr != nil {
		return fmt.Errorf("close tracker: %w", closeErr)
	}

	return nil
}

// drain stops accepting new requests and waits for in-flight handlers.
func (s *Server) drain() {
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	shutdownErr := s.httpServer.Shutdown(drainCtx)
	if shutdownErr != nil {
		s.logger.Warn("http drain incomplete", "error", shutdownErr)
	}
}

// reportFatal hands a fatal tracker error to the run loop. Only the
// first error matters; later ones are dropped.
func (s *Server) reportFatal(err error) {
	select {
	case s.fatalCh <- err:
	default:
	}
}

// readyCheck reports readiness: the tracker must be able to stat its
// input file.
func (s *Server) readyCheck(_ context.Context) error {
	_, err := s.tracker.Stats()

	return err
}

// trackerSnapshot adapts tracker stats to the observable metrics
// callback.
func (s *Server) trackerSnapshot() observability.TrackerSnapshot {
	stats, err := s.tracker.Stats()
	if err != nil {
		return observability.TrackerSnapshot{}
	}

	return observability.TrackerSnapshot{
		Issued:               int64(stats.Issued),
		PendingWrite:         int64(stats.PendingWrite),
		RowsWritten:          stats.LastProcessedWorkID + 1,
		ExpiredReissues:      int64(stats.ExpiredReissues),
		DuplicateCompletions: int64(stats.DuplicateCompletions),
	}
}
