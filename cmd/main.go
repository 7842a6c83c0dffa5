package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-proximity/internal/config"
	"github.com/ukydev/transit-proximity/internal/db"
	"github.com/ukydev/transit-proximity/internal/geo"
	"github.com/ukydev/transit-proximity/internal/handlers"
	"github.com/ukydev/transit-proximity/internal/mqtt"
	"github.com/ukydev/transit-proximity/internal/stream"
	"github.com/ukydev/transit-proximity/internal/tracking"
)

const shutdownTimeout = 10 * time.Second

func configureLogging(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (db.PositionStore, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Warn("Using in-memory position store; positions are lost on restart")
		return db.NewMemoryStore(), nil
	case config.BackendMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		store, err := db.NewMongoPositionStore(ctx, client, cfg.MongoDB)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return store, nil
	case config.BackendPostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.MaxRetries)
		if err != nil {
			return nil, err
		}
		store, err := db.NewPostgresPositionStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func newResolver(store db.PositionStore, cfg config.TrackingConfig) (*tracking.Resolver, error) {
	return tracking.NewResolver(store,
		geo.KmhToMetersPerSecond(cfg.AverageSpeedKmh),
		tracking.WithStaleness(tracking.StalenessPolicy{MaxAge: cfg.StalenessThreshold}),
	)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg.Log); err != nil {
		log.WithError(err).Fatal("Invalid log level")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.WithError(err).WithField("backend", cfg.Store.Backend).Fatal("Failed to open position store")
	}
	log.WithField("backend", cfg.Store.Backend).Info("Position store ready")

	resolver, err := newResolver(store, cfg.Tracking)
	if err != nil {
		log.WithError(err).WithField("average_speed_kmh", cfg.Tracking.AverageSpeedKmh).Fatal("Invalid tracking configuration")
	}

	hub := stream.NewHub()
	ingestor := tracking.NewIngestor(store, hub)

	var subscriber *mqtt.Subscriber
	if cfg.MQTT.Broker != "" {
		subscriber = mqtt.NewSubscriber(cfg.MQTT, ingestor)
		if err := subscriber.Start(); err != nil {
			log.WithError(err).WithField("broker", cfg.MQTT.Broker).Fatal("Failed to start MQTT subscriber")
		}
	}

	router := handlers.NewRouter(handlers.Deps{
		Positions: handlers.NewPositionHandler(ingestor, resolver),
		Feed:      handlers.NewFeedHandler(resolver),
		Hub:       hub,
		Store:     store,
	}, cfg.Server)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	if subscriber != nil {
		subscriber.Stop()
	}
	hub.Close()
	if err := store.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("Failed to close position store")
	}
}
