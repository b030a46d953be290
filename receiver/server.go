package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pevans/cpexport/assets"
	"github.com/pevans/cpexport/config"
	"github.com/pevans/cpexport/metrics"
	"github.com/pevans/cpexport/notes"
	"github.com/pevans/cpexport/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// DefaultShutdownTimeout bounds how long shutdown waits for in-flight
// requests and image queues.
const DefaultShutdownTimeout = 30 * time.Second

// Server runs the ingestion API and, optionally, a metrics listener.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	notifier notify.Notifier

	registry   *prometheus.Registry
	downloader *assets.Downloader
	router     *gin.Engine

	// ShutdownTimeout bounds the graceful shutdown
	ShutdownTimeout time.Duration
}

// DownloaderConfig maps receiver configuration onto the download manager.
// Assets are written relative to the note root.
func DownloaderConfig(cfg *config.Config) assets.DownloaderConfig {
	return assets.DownloaderConfig{
		Root:           cfg.SavePath,
		Attempts:       cfg.Downloads.Attempts,
		InitialBackoff: cfg.Downloads.InitialBackoff,
		Timeout:        cfg.Downloads.Timeout,
		Concurrency:    cfg.Downloads.Concurrency,
		UserAgent:      cfg.Downloads.UserAgent,
	}
}

// New wires a server from cfg. A nil notifier logs notifications.
func New(cfg *config.Config, logger *slog.Logger, notifier notify.Notifier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	extractor := assets.NewExtractor(cfg.AssetsPath)
	downloader := assets.NewDownloader(DownloaderConfig(cfg), notifier, m, logger)
	api := NewAPIServer(
		notes.NewRenderer(extractor, cfg.ContentFormat),
		notes.NewStore(cfg.SavePath),
		downloader,
		notifier,
		m,
		logger,
	)

	return &Server{
		config:          cfg,
		logger:          logger,
		notifier:        notifier,
		registry:        registry,
		downloader:      downloader,
		router:          api.SetupRouter(),
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Handler returns the ingestion router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Downloader returns the server's download manager.
func (s *Server) Downloader() *assets.Downloader {
	return s.downloader
}

// Run listens on the configured address and serves until ctx is cancelled.
// A bind failure is reported once through the notifier and returned.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return s.fail(ctx, fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err))
	}
	return s.Serve(ctx, ln)
}

// Serve serves the ingestion API on ln until ctx is cancelled, then shuts
// down gracefully and waits, bounded by ShutdownTimeout, for image queues.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsSrv *http.Server
	if s.config.MetricsAddr != "" {
		mln, err := net.Listen("tcp", s.config.MetricsAddr)
		if err != nil {
			ln.Close()
			return s.fail(ctx, fmt.Errorf("failed to listen on %s: %w", s.config.MetricsAddr, err))
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(s.registry))
		metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		go func() {
			if err := metricsSrv.Serve(mln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
		s.logger.Info("serving metrics", slog.String("addr", mln.Addr().String()))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	port := s.config.Port
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	s.notifier.Notify(ctx, fmt.Sprintf("CP Exporter server started on port %d", port))

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("failed to shut down server", slog.String("error", err.Error()))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("failed to shut down metrics server", slog.String("error", err.Error()))
		}
	}
	if err := s.Downloader().Wait(shutdownCtx); err != nil {
		s.logger.Warn("image downloads still pending at shutdown",
			slog.Int64("pending", s.Downloader().Pending()),
		)
	}

	if serveErr != nil {
		return s.fail(ctx, fmt.Errorf("server failed: %w", serveErr))
	}

	s.notifier.Notify(context.WithoutCancel(ctx), "CP Exporter server stopped")
	return nil
}

// fail reports err as the single server error notification.
func (s *Server) fail(ctx context.Context, err error) error {
	s.logger.Error("server error", slog.String("error", err.Error()))
	s.notifier.Notify(context.WithoutCancel(ctx), "Server error: "+err.Error())
	return err
}
