// Command sensorguard serves the vibration anomaly detector over HTTP,
// WebSocket and MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/sensorguard/internal/auth"
	"github.com/HerbHall/sensorguard/internal/config"
	"github.com/HerbHall/sensorguard/internal/detector"
	"github.com/HerbHall/sensorguard/internal/detector/model"
	"github.com/HerbHall/sensorguard/internal/event"
	"github.com/HerbHall/sensorguard/internal/mqtt"
	"github.com/HerbHall/sensorguard/internal/server"
	"github.com/HerbHall/sensorguard/internal/telemetry"
	"github.com/HerbHall/sensorguard/internal/version"
	"github.com/HerbHall/sensorguard/internal/webhook"
	"github.com/HerbHall/sensorguard/internal/ws"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "token":
			os.Exit(runToken(os.Args[2:], os.Stdout, os.Stderr))
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("sensorguard starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	settings, err := config.Load(viperCfg)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	srvCfg, err := server.ConfigFrom(viperCfg)
	if err != nil {
		logger.Fatal("invalid server configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := event.NewBus(logger.Named("event"))

	// A missing or invalid model is not fatal: the process still serves
	// health, metrics and 503s until it is restarted with a usable artifact.
	var reg *detector.Registry
	art, err := model.Load(settings.Model.Path)
	if err != nil {
		logger.Error("model not loaded",
			zap.String("component", "detector"),
			zap.String("path", settings.Model.Path),
			zap.Error(err),
		)
	} else {
		reg, err = detector.NewRegistry(art, settings.Detector,
			detector.WithPublisher(bus),
			detector.WithLogger(logger.Named("detector")),
		)
		if err != nil {
			logger.Fatal("failed to create detector", zap.Error(err))
		}
		reg.Start()
		logger.Info("model loaded",
			zap.String("component", "detector"),
			zap.String("path", settings.Model.Path),
			zap.Int("features", art.FeatureCount()),
			zap.Float64("threshold", art.Threshold),
			zap.Bool("remove_dc", art.RemoveDC),
		)
	}

	streamCount := func() int {
		if reg == nil {
			return 0
		}
		return reg.Count()
	}
	recorder, err := telemetry.NewRecorder(prometheus.DefaultRegisterer, streamCount, logger.Named("telemetry"))
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}
	unsubscribeTelemetry := recorder.Subscribe(bus)
	defer unsubscribeTelemetry()

	var tokens *auth.TokenService
	if settings.Auth.Enabled() {
		tokens = auth.NewTokenService([]byte(settings.Auth.JWTSecret), settings.Auth.TokenTTL)
		logger.Info("bearer authentication enabled",
			zap.String("component", "auth"),
			zap.Duration("token_ttl", settings.Auth.TokenTTL),
		)
	} else {
		logger.Warn("auth.jwt_secret not set; API is unauthenticated", zap.String("component", "auth"))
	}

	var extraRoutes []server.SimpleRouteRegistrar
	if settings.WS.Enabled {
		extraRoutes = append(extraRoutes, ws.NewHandler(tokens, bus, logger.Named("ws")))
		logger.Info("websocket feed enabled", zap.String("component", "ws"))
	}

	var bridge *mqtt.Bridge
	if reg != nil {
		bridge = mqtt.New(settings.MQTT, reg, logger.Named("mqtt"))
		if err := bridge.Start(ctx); err != nil {
			logger.Error("mqtt bridge failed to start", zap.Error(err))
		}
		if bridge.Enabled() {
			bus.Subscribe(detector.TopicAnomalyRaised, bridge.HandleEvent)
			bus.Subscribe(detector.TopicAnomalyCleared, bridge.HandleEvent)
		}
	}

	notifier := webhook.New(settings.Webhook, logger.Named("webhook"))
	if notifier.Enabled() {
		unsubscribeWebhook := notifier.Subscribe(bus)
		defer unsubscribeWebhook()
		logger.Info("webhook notifications enabled", zap.String("component", "webhook"))
	}

	// Keep the interface nil when no model is loaded.
	var det server.Detector
	if reg != nil {
		det = reg
	}
	srv := server.New(srvCfg, det, logger, nil, tokens, extraRoutes...)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("sensorguard ready", zap.String("addr", srvCfg.Addr()))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if bridge != nil {
		bridge.Stop()
	}
	if reg != nil {
		reg.Stop()
	}
	bus.Drain()

	logger.Info("sensorguard stopped")
}
