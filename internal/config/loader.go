package config

import (
	"flag"
	"fmt"
)

// Load loads configuration with precedence: defaults → config file → environment variables → command line flags
// It performs validation and runtime transformations before returning the configuration.
func Load() (*Config, error) {
	// Parse command line flags if not already parsed
	if !flag.Parsed() {
		flag.Parse()
	}

	// Step 1: Start with defaults
	cfg := defaultConfig()

	// Step 2: Overlay the TOML file, if one is named
	if path := configFilePath(); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// Step 3: Apply environment variables
	loadDatabaseFromEnv(&cfg.Database)
	loadTilesFromEnv(&cfg.Tiles)
	loadFilesFromEnv(&cfg.Files)
	loadWorkerFromEnv(&cfg.Worker)
	loadRenderFromEnv(&cfg.Render)
	loadArchiveFromEnv(&cfg.Archive)
	loadRedisFromEnv(&cfg.Redis)
	loadMQTTFromEnv(&cfg.MQTT)
	loadLogFromEnv(&cfg.Log)

	// Step 4: Apply command line flags (highest precedence)
	applyDatabaseFlags(&cfg.Database)
	applyTileFlags(&cfg.Tiles)
	applyFileFlags(&cfg.Files)
	applyWorkerFlags(&cfg.Worker)
	applyRenderFlags(&cfg.Render)
	applyArchiveFlags(&cfg.Archive)
	applyRedisFlags(&cfg.Redis)
	applyMQTTFlags(&cfg.MQTT)
	applyLogFlags(&cfg.Log)

	// Step 5: Apply runtime validations and transformations
	if err := applyRuntimeValidation(cfg); err != nil {
		return nil, err
	}

	// Step 6: Validate the final configuration
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
