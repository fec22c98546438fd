// Package config provides configuration loading and validation from a TOML file, environment variables and command line flags.
package config

import "time"

// Config holds the complete configuration
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Tiles    TileConfig     `toml:"tiles"`
	Files    FileConfig     `toml:"files"`
	Worker   WorkerConfig   `toml:"worker"`
	Render   RenderConfig   `toml:"render"`
	Archive  ArchiveConfig  `toml:"archive"`
	Redis    RedisConfig    `toml:"redis"`
	MQTT     MQTTConfig     `toml:"mqtt"`
	Log      LogConfig      `toml:"log"`
}

// DatabaseConfig holds the PostgreSQL connection target and notification channel
type DatabaseConfig struct {
	URL            string        `toml:"url"`
	Channel        string        `toml:"channel"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	PoolMaxConns   int           `toml:"pool_max_conns"` // query pool only; the listener owns its own session
}

// TileConfig holds the zoom bounds and vector tile geometry parameters
type TileConfig struct {
	MinZoom uint8 `toml:"min_zoom"`
	MaxZoom uint8 `toml:"max_zoom"`
	Extent  int   `toml:"extent"`
	Buffer  int   `toml:"buffer"`
}

// FileConfig holds filesystem locations
type FileConfig struct {
	DirtyTilesDir  string `toml:"dirty_tiles_dir"`
	ArchivePath    string `toml:"archive_path"`
	DeadLetterPath string `toml:"dead_letter_path"`
}

// WorkerConfig holds ingestion loop settings
type WorkerConfig struct {
	BatchTimeout     time.Duration `toml:"batch_timeout"`     // max wait for one notification
	MaxRetries       int           `toml:"max_retries"`       // failures beyond this dead-letter the file
	ReconnectBackoff time.Duration `toml:"reconnect_backoff"` // sleep before each reconnect attempt
	ProcessTimeout   time.Duration `toml:"process_timeout"`   // bound on handling one file
	ShutdownTimeout  time.Duration `toml:"shutdown_timeout"`
	RetryOnIdle      bool          `toml:"retry_on_idle"` // re-attempt failed files on heartbeat
}

// RenderConfig holds the PostGIS render query settings
type RenderConfig struct {
	Query         string  `toml:"query"`
	RatePerSecond float64 `toml:"rate_per_second"` // 0 disables rate limiting
	Burst         int     `toml:"burst"`
}

// ArchiveConfig holds MBTiles archive settings
type ArchiveConfig struct {
	Name string `toml:"name"`
	Gzip bool   `toml:"gzip"`
}

// RedisConfig holds tile cache invalidation and event stream settings
type RedisConfig struct {
	Enabled      bool          `toml:"enabled"`
	Address      string        `toml:"address"`
	KeyPrefix    string        `toml:"key_prefix"`
	Stream       string        `toml:"stream"`
	StreamMaxLen int64         `toml:"stream_max_len"`
	DialTimeout  time.Duration `toml:"dial_timeout"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	PingTimeout  time.Duration `toml:"ping_timeout"`
}

// MQTTConfig holds MQTT event publisher settings
type MQTTConfig struct {
	Enabled              bool          `toml:"enabled"`
	Broker               string        `toml:"broker"`
	ClientID             string        `toml:"client_id"`
	Topic                string        `toml:"topic"`
	QoS                  byte          `toml:"qos"`
	ConnectTimeout       time.Duration `toml:"connect_timeout"`
	WriteTimeout         time.Duration `toml:"write_timeout"`
	MaxReconnectInterval time.Duration `toml:"max_reconnect_interval"`
	DisconnectTimeout    uint          `toml:"disconnect_timeout"` // Milliseconds for graceful disconnect
	// TLS Configuration
	TLSEnabled      bool   `toml:"tls_enabled"`
	CACert          string `toml:"ca_cert"`
	ClientCert      string `toml:"client_cert"`
	ClientKey       string `toml:"client_key"`
	InsecureSkip    bool   `toml:"tls_insecure_skip"`
	UseCertCNPrefix bool   `toml:"use_cert_cn_prefix"` // If true, prefix the topic with cert CN for ACL constraints
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}
