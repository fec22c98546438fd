package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// configFilePath returns the config file named by flag or CONFIG_FILE, flag first
func configFilePath() string {
	if *flagConfigFile != "" {
		return *flagConfigFile
	}
	return getEnvString("CONFIG_FILE")
}

// loadFromFile overlays the TOML file at path onto cfg. Keys absent from the file keep their current value.
func loadFromFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", path)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in config file %s: %v", path, undecoded)
	}
	return nil
}
