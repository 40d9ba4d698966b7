package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chairlink/config"
	"chairlink/log"
	"chairlink/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type closer interface {
	Close() error
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.GetInstance().Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize structured logger
	logger, err := log.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	// Calendar persistence
	backing, err := services.OpenBacking(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open calendar storage", zap.String("backend", cfg.StorageBackend), zap.Error(err))
	}
	store := services.NewEventStore(services.CalendarStorageKey(cfg.DeviceUniqueID), backing, logger, metrics)

	engine, err := services.NewEngine(cfg, store, logger, metrics)
	if err != nil {
		logger.Fatal("Failed to initialize engine", zap.Error(err))
	}
	engine.Start(ctx)

	// Downstream sinks
	var sinks []services.EntitySink
	closers := []closer{backing}

	if cfg.MQTTBroker != "" {
		mqttSink, err := services.NewMQTTSink(cfg, logger)
		if err != nil {
			logger.Error("MQTT sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, mqttSink)
			closers = append(closers, mqttSink)
		}
	}
	if cfg.RabbitMQURL != "" {
		rabbitSink, err := services.NewRabbitMQSink(cfg, logger)
		if err != nil {
			logger.Error("RabbitMQ sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, rabbitSink)
			closers = append(closers, rabbitSink)
		}
	}
	if len(sinks) > 0 {
		engine.AttachSink(ctx, sinks...)
		go engine.Run(ctx, 30*time.Second)
	} else {
		logger.Warn("No entity sink configured, entities are tracked locally only")
	}

	// Connectivity alerts
	var notifiers []services.Notifier
	if cfg.TelegramBotToken != "" {
		telegramService, err := services.NewTelegramService(cfg, logger)
		if err != nil {
			logger.Error("Telegram alerts disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, telegramService)
			if err := telegramService.SendStartupMessage(services.DeviceFromConfig(cfg), cfg.DeviceURL()); err != nil {
				logger.Warn("Failed to send startup message", zap.Error(err))
			}
		}
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, services.NewWebhookNotifier(logger, cfg.WebhookURL))
		logger.Info("Webhook alerts enabled", zap.String("url", cfg.WebhookURL))
	}
	monitor := services.NewConnectivityMonitor(cfg, logger, notifiers...)
	go monitor.Start(ctx)

	// Metrics endpoint
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		logger.Info("Metrics endpoint listening", zap.String("addr", cfg.MetricsAddr))
	}

	supervisor := services.NewSupervisor(cfg, engine, logger, metrics, engine, monitor)

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping services")
		supervisor.Stop()
		cancel()
	}()

	logger.Info("Chairlink service started",
		zap.String("device", cfg.DeviceName),
		zap.String("unique_id", cfg.DeviceUniqueID),
		zap.String("url", cfg.DeviceURL()),
		zap.String("storage", cfg.StorageBackend),
		zap.Int("sinks", len(sinks)),
		zap.Int("notifiers", len(notifiers)),
	)

	if err := supervisor.Run(ctx); err != nil {
		logger.Error("Supervisor exited with error", zap.Error(err))
	}

	// Perform cleanup
	logger.Info("Starting cleanup")

	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)

		if metricsServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			metricsServer.Shutdown(shutdownCtx)
			shutdownCancel()
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Error("Error during cleanup", zap.Error(err))
			}
		}
	}()

	select {
	case <-cleanupDone:
		logger.Info("Cleanup completed successfully")
	case <-time.After(5 * time.Second):
		logger.Warn("Cleanup timeout, forcing exit")
	}

	logger.Info("Chairlink service stopped")
}
