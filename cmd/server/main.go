package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zokiio/ovc-sub005/internal/codec"
	"github.com/Zokiio/ovc-sub005/internal/config"
	"github.com/Zokiio/ovc-sub005/internal/metrics"
	"github.com/Zokiio/ovc-sub005/internal/position"
	"github.com/Zokiio/ovc-sub005/internal/router"
	"github.com/Zokiio/ovc-sub005/internal/server"
	"github.com/Zokiio/ovc-sub005/internal/session"
	"github.com/Zokiio/ovc-sub005/internal/voicegroup"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "proximity-voice-relay"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)
	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("workers", cfg.Server.Workers),
		slog.Float64("proximity_radius", cfg.Relay.ProximityRadius),
		slog.Int("idle_timeout", cfg.Relay.IdleTimeout),
		slog.Float64("expected_loss", cfg.Audio.ExpectedLoss),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()

	expectedLoss := cfg.Audio.ExpectedLoss
	newPipeline := func() (*codec.Pipeline, error) {
		return codec.NewPipeline(expectedLoss)
	}

	sessions := session.NewRegistry(logger, newPipeline)
	positions := position.NewTracker()
	groups := voicegroup.NewStore(logger)
	rtr := router.New(sessions, positions, groups, cfg.Relay.ProximityRadius)

	udpServer := server.NewUDPServer(cfg, logger, appMetrics, sessions, positions, groups, rtr)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, appMetrics, sessions, positions, groups, udpServer)
	}

	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP relay", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started",
		slog.String("udp_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.UDPPort)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-udpServer.ShutdownRequested():
		logger.Info("Shutdown requested by admin client")
	}

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		cancel()
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP relay", slog.String("error", err.Error()))
	}

	stats := udpServer.GetStatistics()
	logger.Info("Final relay statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("frames_relayed", stats.FramesRelayed),
		slog.Int("active_sessions", stats.ActiveSessions),
	)
	logger.Info("Service stopped")
}

// initLogger creates the structured logger from configuration.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
