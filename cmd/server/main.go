package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"streamgate/internal/acquirer"
	apihttp "streamgate/internal/api/http"
	"streamgate/internal/app"
	"streamgate/internal/coordinator"
	"streamgate/internal/domain"
	"streamgate/internal/metrics"
	"streamgate/internal/packager"
	"streamgate/internal/paths"
	"streamgate/internal/registry"
	"streamgate/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "streamgate")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "streamgate"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("tempDir", cfg.TempDir),
		slog.String("torrentProfile", cfg.TorrentProfile),
		slog.Int("maxActiveStreams", cfg.MaxActiveStreams),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pathSvc := paths.New(cfg.TempDir)
	if err := pathSvc.EnsureDir(pathSvc.Root()); err != nil {
		logger.Error("temp root not usable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	reg := registry.New()

	engine, err := acquirer.New(acquirer.Config{
		BTPort:             cfg.BTPort,
		MaxConnsPerTorrent: cfg.MaxConnsPerTorrent(),
		MetadataTimeout:    time.Duration(cfg.MetadataTimeoutSec) * time.Second,
	}, reg, func(id domain.StreamID) string { return pathSvc.StreamDir(id) }, logger)
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pkgr := packager.New(cfg.FFMPEGPath, reg, logger)

	coord := coordinator.New(coordinator.Config{
		MaxActive: cfg.MaxActiveStreams,
	}, reg, engine, pkgr, pathSvc, logger)

	janitor := coordinator.NewJanitor(coord,
		time.Duration(cfg.JanitorSweepMinutes)*time.Minute,
		time.Duration(cfg.MaxStreamAgeMinutes)*time.Minute,
		logger,
	)
	go janitor.Run(rootCtx)

	handler := apihttp.NewServer(coord, reg, pathSvc, apihttp.WithLogger(logger))

	go updateStreamMetrics(rootCtx, reg, engine, handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	coord.Shutdown()
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// updateStreamMetrics refreshes Prometheus gauges from registry and swarm
// state, and pushes the stream list to WebSocket clients.
func updateStreamMetrics(ctx context.Context, reg *registry.Registry, engine *acquirer.Acquirer, handler *apihttp.Server) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts := reg.Stats()
			for _, status := range domain.AllStatuses() {
				metrics.StreamsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
			}

			var dlTotal, ulTotal int64
			var peersTotal int
			for _, s := range reg.Snapshot() {
				st, ok := engine.Stats(s.ID)
				if !ok {
					continue
				}
				dlTotal += st.DownloadSpeed
				ulTotal += st.UploadSpeed
				peersTotal += st.Peers
			}
			metrics.DownloadSpeedBytes.Set(float64(dlTotal))
			metrics.UploadSpeedBytes.Set(float64(ulTotal))
			metrics.PeersConnected.Set(float64(peersTotal))

			handler.BroadcastStreams()
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
