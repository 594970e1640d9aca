package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/agentchat-relay/internal/apisrv"
	"github.com/ocx/agentchat-relay/internal/config"
	"github.com/ocx/agentchat-relay/internal/escrow"
	"github.com/ocx/agentchat-relay/internal/websocket"
)

func main() {
	cfg := config.Get()
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	relay, err := websocket.NewRelay(cfg, logger)
	if err != nil {
		log.Fatalf("build relay: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	if cfg.Events.RedisDSN != "" {
		sink, err := escrow.NewRedisSink(cfg.Events.RedisDSN, cfg.Events.RedisChannel, logger)
		if err != nil {
			slog.Warn("redis sink unavailable, escrow events stay local", "error", err)
		} else {
			relay.AttachRedisSink(shutdownCtx, sink)
			slog.Info("redis escrow sink attached", "channel", cfg.Events.RedisChannel)
		}
	}

	relay.StartBackgroundLoops(shutdownCtx)

	wsServer := &http.Server{
		Addr:         cfg.Server.BindAddr,
		Handler:      relay,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	adminRouter := apisrv.NewServer(relay, cfg.Admin.Key, logger).Router()
	adminServer := &http.Server{
		Addr:         cfg.Admin.HTTPAddr,
		Handler:      adminRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.BindAddr != cfg.Admin.HTTPAddr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.BindAddr, Handler: mux}
	}

	go func() {
		slog.Info("relay listening", "addr", cfg.Server.BindAddr)
		if err := serveTLS(wsServer, cfg); err != nil && err != http.ErrServerClosed {
			log.Fatalf("relay server failed: %v", err)
		}
	}()

	go func() {
		slog.Info("admin api listening", "addr", cfg.Admin.HTTPAddr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admin server failed: %v", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			slog.Info("metrics listening", "addr", cfg.Metrics.BindAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	slog.Info("shutting down")
	shutdownCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = wsServer.Shutdown(ctx)
	_ = adminServer.Shutdown(ctx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(ctx)
	}
	slog.Info("shutdown complete")
}

func serveTLS(srv *http.Server, cfg *config.Config) error {
	if cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != "" {
		return srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
	}
	return srv.ListenAndServe()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
