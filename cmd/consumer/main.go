// Package main starts the tile consumer binary.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ibs-source/tile-consumer/internal/archive"
	"github.com/ibs-source/tile-consumer/internal/config"
	"github.com/ibs-source/tile-consumer/internal/database"
	"github.com/ibs-source/tile-consumer/internal/deadletter"
	"github.com/ibs-source/tile-consumer/internal/ingest"
	"github.com/ibs-source/tile-consumer/internal/listener"
	"github.com/ibs-source/tile-consumer/internal/log"
	"github.com/ibs-source/tile-consumer/internal/mqtt"
	"github.com/ibs-source/tile-consumer/internal/redis"
	"github.com/ibs-source/tile-consumer/internal/render"
)

type services struct {
	pool     *database.Pool
	listener *listener.Listener
	archive  *archive.Archive
	redis    *redis.Client
	mqtt     *mqtt.Client
	orch     *ingest.Orchestrator
}

func run() int {
	logger := log.New()
	logger.Info("Starting tile consumer")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return 1
	}
	logger.SetLevel(cfg.Log.Level)
	logger.SetFormat(cfg.Log.Format)
	logConfig(cfg, logger)

	svc, err := initializeServices(cfg, logger)
	if err != nil {
		logger.Error("Startup failed: %v", err)
		return 1
	}
	defer closeServices(svc, logger)

	return runMainLoop(svc, cfg, logger)
}

func logConfig(cfg *config.Config, logger *log.Logger) {
	logger.Info("Configuration loaded successfully")
	logger.Info("Database: %s, channel: %s", database.MaskPassword(cfg.Database.URL), cfg.Database.Channel)
	logger.Info("Tiles: zoom %d-%d, dirty-tile dir: %s", cfg.Tiles.MinZoom, cfg.Tiles.MaxZoom, cfg.Files.DirtyTilesDir)
	logger.Info("Archive: %s, dead letters: %s", cfg.Files.ArchivePath, cfg.Files.DeadLetterPath)
	logger.Info("Worker: batch timeout %s, max retries %d", cfg.Worker.BatchTimeout, cfg.Worker.MaxRetries)
	if cfg.Redis.Enabled {
		logger.Info("Redis: %s, stream: %s", cfg.Redis.Address, cfg.Redis.Stream)
	}
	if cfg.MQTT.Enabled {
		logger.Info("MQTT: %s, topic: %s", cfg.MQTT.Broker, cfg.MQTT.Topic)
	}
}

func initializeServices(cfg *config.Config, logger *log.Logger) (*services, error) {
	ctx := context.Background()
	svc := &services{}

	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	svc.pool = pool
	if err := pool.HealthCheck(ctx); err != nil {
		closeServices(svc, logger)
		return nil, err
	}

	arch, err := archive.Open(cfg.Files.ArchivePath, &cfg.Archive, &cfg.Tiles, logger)
	if err != nil {
		closeServices(svc, logger)
		return nil, err
	}
	svc.archive = arch
	if stats, err := arch.Stats(ctx); err == nil {
		logger.Info("%s", stats)
	}

	dead, err := deadletter.Open(cfg.Files.DeadLetterPath)
	if err != nil {
		closeServices(svc, logger)
		return nil, err
	}

	var opts []ingest.Option
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			closeServices(svc, logger)
			return nil, err
		}
		svc.redis = rc
		opts = append(opts, ingest.WithPublisher(rc))
		logger.Info("Connected to Redis")
	}
	if cfg.MQTT.Enabled {
		mc, err := mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			closeServices(svc, logger)
			return nil, err
		}
		svc.mqtt = mc
		opts = append(opts, ingest.WithPublisher(mc))
		logger.Info("Connected to MQTT broker")
	}

	svc.listener = listener.New(cfg.Database.URL, cfg.Database.Channel,
		listener.WithConnectTimeout(cfg.Database.ConnectTimeout),
		listener.WithLogger(logger),
	)
	renderer := render.New(pool, &cfg.Render, &cfg.Tiles, logger)
	svc.orch = ingest.New(svc.listener, renderer, arch, dead, cfg, logger, opts...)
	return svc, nil
}

func closeServices(svc *services, logger *log.Logger) {
	if svc.listener != nil {
		if err := svc.listener.Close(context.Background()); err != nil {
			logger.Error("Error closing listener: %v", err)
		}
	}
	if svc.mqtt != nil {
		if err := svc.mqtt.Close(); err != nil {
			logger.Error("Error closing MQTT client: %v", err)
		}
	}
	if svc.redis != nil {
		if err := svc.redis.Close(); err != nil {
			logger.Error("Error closing Redis client: %v", err)
		}
	}
	if svc.archive != nil {
		if err := svc.archive.Close(); err != nil {
			logger.Error("Error closing archive: %v", err)
		}
	}
	if svc.pool != nil {
		svc.pool.Close()
	}
}

func runMainLoop(svc *services, cfg *config.Config, logger *log.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan error, 1)
	go func() {
		done <- svc.orch.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received signal %v, initiating graceful shutdown", sig)
		cancel()
		return handleGracefulShutdown(done, cfg, logger)

	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Ingestion orchestrator error: %v", err)
			return 1
		}
		return 0
	}
}

// handleGracefulShutdown waits for the in-flight file to finish, bounded by the shutdown timeout
func handleGracefulShutdown(done <-chan error, cfg *config.Config, logger *log.Logger) int {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-done:
		logger.Info("Graceful shutdown completed")
		logger.Info("Consumer stopped")
		return 0
	case <-shutdownCtx.Done():
		logger.Error("Shutdown timeout exceeded")
		return 1
	}
}

func main() {
	// Keep main minimal to ensure defers in run() execute correctly.
	os.Exit(run())
}
