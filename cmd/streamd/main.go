// Command streamd runs the durable event-stream HTTP/SSE service as a
// standalone net/http binary. It replaces the teacher's Caddy module
// entrypoint: one process, one listener, no plugin host, per the design
// notes' preference for a flat server over an open-ended middleware stack.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/durablestreams/streamd/internal/gatewayhttp"
	"github.com/durablestreams/streamd/internal/metrics"
	"github.com/durablestreams/streamd/internal/storage"
	"github.com/durablestreams/streamd/internal/storage/filestore"
	"github.com/durablestreams/streamd/internal/storage/memstore"
	"github.com/durablestreams/streamd/internal/storage/sqlstore"
	"github.com/durablestreams/streamd/internal/streams"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage backend: %w", err)
	}
	defer backend.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	manager := streams.NewManager(backend, streams.ManagerConfig{
		SubscriberBuffer: cfg.SubscriberBuffer,
	})
	defer manager.Shutdown()

	gateway := gatewayhttp.New(manager, cfg.Prefix, logger, m, cfg.SSEKeepalive)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", handleHealthz)

	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: gateway.Wrap(mux),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("streamd listening",
			zap.String("addr", addr),
			zap.String("prefix", cfg.Prefix),
			zap.String("backend", cfg.Backend),
		)
		serveErr <- server.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
	}

	return nil
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("STREAMS_DEV_LOG") != "" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openBackend(cfg config, logger *zap.Logger) (storage.Backend, error) {
	switch cfg.Backend {
	case "memory":
		logger.Info("using in-memory backend (no durability)")
		return memstore.New(), nil
	case "file":
		logger.Info("using file-per-stream backend", zap.String("data_dir", cfg.DataDir))
		return filestore.New(filestore.Config{
			DataDir:        cfg.DataDir,
			MaxFileHandles: cfg.MaxFileHandles,
		})
	case "sql":
		logger.Info("using single-file SQL backend", zap.String("data_dir", cfg.DataDir))
		return sqlstore.New(cfg.DataDir + "/events.duckdb")
	default:
		return nil, fmt.Errorf("unknown STREAMS_BACKEND %q: want memory, file, or sql", cfg.Backend)
	}
}
