package config

import (
	"fmt"

	"github.com/ibs-source/tile-consumer/internal/tile"
)

// Validate checks configuration constraints
func Validate(cfg *Config) error {
	validators := []func(*Config) error{
		func(c *Config) error { return validateDatabase(&c.Database) },
		func(c *Config) error { return validateTiles(&c.Tiles) },
		func(c *Config) error { return validateFiles(&c.Files) },
		func(c *Config) error { return validateWorker(&c.Worker) },
		func(c *Config) error { return validateRender(&c.Render) },
		func(c *Config) error { return validateRedis(&c.Redis) },
		func(c *Config) error { return validateMQTT(&c.MQTT) },
		func(c *Config) error { return validateLog(&c.Log) },
	}
	for _, v := range validators {
		if err := v(cfg); err != nil {
			return err
		}
	}
	return nil
}

// validateDatabase validates database configuration
func validateDatabase(cfg *DatabaseConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("database url cannot be empty")
	}
	if cfg.Channel == "" {
		return fmt.Errorf("database notification channel cannot be empty")
	}
	if cfg.PoolMaxConns < 1 {
		return fmt.Errorf("database pool max conns must be positive")
	}
	return nil
}

// validateTiles validates zoom bounds and tile geometry
func validateTiles(cfg *TileConfig) error {
	if cfg.MaxZoom > tile.MaxZoom {
		return fmt.Errorf("tiles max zoom %d exceeds %d", cfg.MaxZoom, tile.MaxZoom)
	}
	if cfg.MinZoom > cfg.MaxZoom {
		return fmt.Errorf("tiles min zoom %d is greater than max zoom %d", cfg.MinZoom, cfg.MaxZoom)
	}
	if cfg.Extent < 1 {
		return fmt.Errorf("tiles extent must be positive")
	}
	if cfg.Buffer < 0 {
		return fmt.Errorf("tiles buffer cannot be negative")
	}
	return nil
}

// validateFiles validates file locations
func validateFiles(cfg *FileConfig) error {
	if cfg.DirtyTilesDir == "" {
		return fmt.Errorf("dirty tiles directory cannot be empty")
	}
	if cfg.ArchivePath == "" {
		return fmt.Errorf("archive path cannot be empty")
	}
	if cfg.DeadLetterPath == "" {
		return fmt.Errorf("dead letter path cannot be empty")
	}
	return nil
}

// validateWorker validates worker configuration
func validateWorker(cfg *WorkerConfig) error {
	if cfg.BatchTimeout <= 0 {
		return fmt.Errorf("worker batch timeout must be positive")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("worker max retries cannot be negative")
	}
	if cfg.ReconnectBackoff <= 0 {
		return fmt.Errorf("worker reconnect backoff must be positive")
	}
	if cfg.ProcessTimeout <= 0 {
		return fmt.Errorf("worker process timeout must be positive")
	}
	return nil
}

// validateRender validates render configuration
func validateRender(cfg *RenderConfig) error {
	if cfg.Query == "" {
		return fmt.Errorf("render query cannot be empty")
	}
	if cfg.RatePerSecond < 0 {
		return fmt.Errorf("render rate cannot be negative")
	}
	if cfg.Burst < 1 {
		return fmt.Errorf("render burst must be positive")
	}
	return nil
}

// validateRedis validates Redis configuration
func validateRedis(cfg *RedisConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Address == "" {
		return fmt.Errorf("redis address cannot be empty")
	}
	if cfg.Stream == "" {
		return fmt.Errorf("redis stream cannot be empty")
	}
	return nil
}

// validateMQTT validates MQTT configuration
func validateMQTT(cfg *MQTTConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Broker == "" {
		return fmt.Errorf("mqtt broker cannot be empty")
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("mqtt client ID cannot be empty")
	}
	if cfg.Topic == "" {
		return fmt.Errorf("mqtt topic cannot be empty")
	}
	if cfg.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	return nil
}

// validateLog validates logger configuration
func validateLog(cfg *LogConfig) error {
	switch cfg.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", cfg.Format)
	}
	return nil
}
