package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/gohome-flo/internal/config"
	"github.com/joshp123/gohome-flo/internal/core"
	"github.com/joshp123/gohome-flo/internal/poll"
	"github.com/joshp123/gohome-flo/internal/server"
	"github.com/joshp123/gohome-flo/internal/tokenstore"
	"github.com/joshp123/gohome-flo/plugins/flo"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	configPath := envOrDefault("GOHOME_FLO_CONFIG", config.DefaultPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var blobStore tokenstore.BlobStore
	if cfg.Blob != nil {
		store, err := tokenstore.NewS3Store(cfg.Blob)
		if err != nil {
			logger.Error("init blob store", "error", err)
			os.Exit(1)
		}
		blobStore = store
	}

	var plugins []core.Plugin
	if cfg.Flo != nil {
		floCfg, err := flo.ConfigFromFile(cfg.Flo)
		if err != nil {
			logger.Error("flo config", "error", err)
			os.Exit(1)
		}
		store := tokenstore.NewStore("flo", cfg.Flo.StatePath, blobStore)
		plugin := flo.NewPlugin(floCfg, store, logger)
		plugins = append(plugins, plugin)
		go plugin.Run(ctx)
	}

	if err := core.ValidatePlugins(plugins); err != nil {
		logger.Error("validate plugins", "error", err)
		os.Exit(1)
	}

	registry := core.MetricsRegistry(plugins)
	registry.MustRegister(poll.MetricsCollectors()...)
	registry.MustRegister(tokenstore.MetricsCollectors()...)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gohome_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler)
	mux.Handle("/metrics", server.MetricsHandler(registry))
	mux.Handle("/dashboards/", server.DashboardsHandler(core.DashboardsMap(plugins)))
	registryHandler := server.RegistryHandler(core.NewRegistry(plugins))
	mux.Handle("/plugins", registryHandler)
	mux.Handle("/plugins/", registryHandler)
	for _, plugin := range plugins {
		if registrant, ok := plugin.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(mux)
		}
	}

	if cfg.Core.DashboardDir != "" {
		if err := core.WriteDashboards(cfg.Core.DashboardDir, plugins); err != nil {
			logger.Warn("write dashboards", "error", err)
		}
	}

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, mux)
	go func() {
		<-ctx.Done()
		_ = httpServer.Server.Shutdown(context.Background())
	}()

	logger.Info("serving", "addr", cfg.Core.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http serve", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
