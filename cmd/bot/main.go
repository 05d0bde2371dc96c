package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vitos/options_cycle_trader/internal/domain"
	"github.com/vitos/options_cycle_trader/internal/infrastructure/broker"
	"github.com/vitos/options_cycle_trader/internal/infrastructure/events"
	"github.com/vitos/options_cycle_trader/internal/infrastructure/feed"
	"github.com/vitos/options_cycle_trader/internal/infrastructure/logger"
	"github.com/vitos/options_cycle_trader/internal/infrastructure/metrics"
	"github.com/vitos/options_cycle_trader/internal/infrastructure/storage"
	"github.com/vitos/options_cycle_trader/internal/usecase"
	"github.com/vitos/options_cycle_trader/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. Load Config
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Broker
	var brk domain.Broker
	if cfg.Broker.Mode == "kite" {
		brk = broker.NewKiteAdapter(cfg.KiteConfig())
	} else {
		brk = broker.NewPaperBroker(cfg.Broker.TickSize)
	}
	log.Info("Broker ready", zap.String("mode", cfg.Broker.Mode))

	// 5. Event sinks
	hub := web.NewHub(log)
	collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal("Failed to register metrics", zap.Error(err))
	}
	sinks := events.NewFanout(events.NewLogSink(log), collector, hub)
	if cfg.NATS.URL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, log)
		if err != nil {
			log.Error("NATS unavailable, events stay local", zap.Error(err))
		} else {
			defer pub.Close()
			sinks.Add(pub)
		}
	}

	// 6. Sessions
	manager := usecase.NewSessionManager(brk, store, sinks, log, cfg.GatewayConfig(), cfg.Engine.QueueLength)
	ctx := context.Background()
	for _, entry := range cfg.Sessions {
		sc, err := entry.SessionConfig()
		if err != nil {
			log.Fatal("Invalid session config", zap.Error(err))
		}
		if _, err := manager.StartSession(ctx, sc); err != nil {
			log.Fatal("Failed to start session", zap.String("session", entry.ID), zap.Error(err))
		}
	}

	// 7. Tick feed
	var ticks *feed.WSFeed
	if cfg.Feed.URL != "" {
		ticks = feed.NewWSFeed(cfg.FeedConfig(), log, manager.Dispatch)
		ticks.Start(ctx)
	} else {
		log.Warn("No feed configured, sessions wait for ticks")
	}

	// 8. Init Web Server
	server := web.NewServer(cfg.Server.Port, manager, store, hub, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Web server failed", zap.Error(err))
		}
	}()

	// 9. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("Shutting down...")

	if ticks != nil {
		ticks.Stop()
	}
	manager.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Web server shutdown failed", zap.Error(err))
	}
}
