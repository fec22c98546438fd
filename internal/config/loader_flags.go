package config

import (
	"flag"
	"time"
)

// Command line flags (have precedence over environment variables)
var (
	flagConfigFile *string

	// Database flags
	flagDatabaseURL            *string
	flagDatabaseChannel        *string
	flagDatabaseConnectTimeout *time.Duration
	flagDatabasePoolMaxConns   *int

	// Tile flags
	flagTilesMinZoom *int
	flagTilesMaxZoom *int
	flagTilesExtent  *int
	flagTilesBuffer  *int

	// File flags
	flagDirtyTilesDir  *string
	flagArchivePath    *string
	flagDeadLetterPath *string

	// Worker flags
	flagWorkerBatchTimeout     *time.Duration
	flagWorkerMaxRetries       *int
	flagWorkerReconnectBackoff *time.Duration
	flagWorkerProcessTimeout   *time.Duration
	flagWorkerShutdownTimeout  *time.Duration
	flagWorkerRetryOnIdle      *bool

	// Render flags
	flagRenderRate  *float64
	flagRenderBurst *int

	// Archive flags
	flagArchiveName *string
	flagArchiveGzip *bool

	// Redis flags
	flagRedisEnabled   *bool
	flagRedisAddress   *string
	flagRedisKeyPrefix *string
	flagRedisStream    *string

	// MQTT flags
	flagMQTTEnabled         *bool
	flagMQTTBroker          *string
	flagMQTTClientID        *string
	flagMQTTTopic           *string
	flagMQTTQoS             *int
	flagMQTTConnectTimeout  *time.Duration
	flagMQTTWriteTimeout    *time.Duration
	flagMQTTTLSEnabled      *bool
	flagMQTTCACert          *string
	flagMQTTClientCert      *string
	flagMQTTClientKey       *string
	flagMQTTTLSInsecureSkip *bool
	flagMQTTUseCertCNPrefix *bool

	// Log flags
	flagLogLevel  *string
	flagLogFormat *string
)

func init() {
	registerFlags()
}

// registerFlags defines every flag on flag.CommandLine
func registerFlags() {
	flagConfigFile = flag.String("config", "", "Path to a TOML configuration file")

	flagDatabaseURL = flag.String("database-url", "", "PostgreSQL connection URL")
	flagDatabaseChannel = flag.String("database-channel", "", "Notification channel to LISTEN on")
	flagDatabaseConnectTimeout = flag.Duration("database-connect-timeout", 0, "Database connect timeout")
	flagDatabasePoolMaxConns = flag.Int("database-pool-max-conns", 0, "Max connections of the query pool")

	flagTilesMinZoom = flag.Int("tiles-min-zoom", -1, "Minimum zoom rendered")
	flagTilesMaxZoom = flag.Int("tiles-max-zoom", -1, "Maximum zoom rendered")
	flagTilesExtent = flag.Int("tiles-extent", 0, "Vector tile extent")
	flagTilesBuffer = flag.Int("tiles-buffer", 0, "Vector tile buffer")

	flagDirtyTilesDir = flag.String("dirty-tiles-dir", "", "Directory holding dirty-tile files")
	flagArchivePath = flag.String("archive-path", "", "MBTiles archive path")
	flagDeadLetterPath = flag.String("dead-letter-path", "", "Dead-letter log path")

	flagWorkerBatchTimeout = flag.Duration("worker-batch-timeout", 0, "Max wait for one notification")
	flagWorkerMaxRetries = flag.Int("worker-max-retries", -1, "Failures tolerated before dead-lettering a file")
	flagWorkerReconnectBackoff = flag.Duration("worker-reconnect-backoff", 0, "Sleep before reconnecting the listener")
	flagWorkerProcessTimeout = flag.Duration("worker-process-timeout", 0, "Max time spent on one file")
	flagWorkerShutdownTimeout = flag.Duration("worker-shutdown-timeout", 0, "Graceful shutdown timeout")
	flagWorkerRetryOnIdle = flag.Bool("worker-retry-on-idle", true, "Re-attempt failed files while idle")

	flagRenderRate = flag.Float64("render-rate", -1, "Render queries per second (0 = unlimited)")
	flagRenderBurst = flag.Int("render-burst", 0, "Render rate limiter burst")

	flagArchiveName = flag.String("archive-name", "", "Archive name written to metadata")
	flagArchiveGzip = flag.Bool("archive-gzip", true, "Gzip tile data in the archive")

	flagRedisEnabled = flag.Bool("redis-enabled", false, "Enable Redis cache invalidation and event stream")
	flagRedisAddress = flag.String("redis-address", "", "Redis address")
	flagRedisKeyPrefix = flag.String("redis-key-prefix", "", "Redis tile cache key prefix")
	flagRedisStream = flag.String("redis-stream", "", "Redis event stream name")

	flagMQTTEnabled = flag.Bool("mqtt-enabled", false, "Enable MQTT event publishing")
	flagMQTTBroker = flag.String("mqtt-broker", "", "MQTT broker URL")
	flagMQTTClientID = flag.String("mqtt-client-id", "", "MQTT client ID")
	flagMQTTTopic = flag.String("mqtt-topic", "", "MQTT topic for tile events")
	flagMQTTQoS = flag.Int("mqtt-qos", -1, "MQTT QoS (0, 1, or 2)")
	flagMQTTConnectTimeout = flag.Duration("mqtt-connect-timeout", 0, "MQTT connect timeout")
	flagMQTTWriteTimeout = flag.Duration("mqtt-write-timeout", 0, "MQTT write timeout")
	flagMQTTTLSEnabled = flag.Bool("mqtt-tls-enabled", false, "Enable MQTT TLS")
	flagMQTTCACert = flag.String("mqtt-ca-cert", "", "MQTT CA certificate path")
	flagMQTTClientCert = flag.String("mqtt-client-cert", "", "MQTT client certificate path")
	flagMQTTClientKey = flag.String("mqtt-client-key", "", "MQTT client key path")
	flagMQTTTLSInsecureSkip = flag.Bool("mqtt-tls-insecure-skip", false, "Skip MQTT TLS verification")
	// Prefix topic with client cert CN (for ACL constraints)
	flagMQTTUseCertCNPrefix = flag.Bool("mqtt-use-cert-cn-prefix", false, "Prefix topic with client cert CN")

	flagLogLevel = flag.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flagLogFormat = flag.String("log-format", "", "Log format (text or json)")
}

// applyDatabaseFlags applies command line flags to database configuration
func applyDatabaseFlags(cfg *DatabaseConfig) {
	if *flagDatabaseURL != "" {
		cfg.URL = *flagDatabaseURL
	}
	if *flagDatabaseChannel != "" {
		cfg.Channel = *flagDatabaseChannel
	}
	if *flagDatabaseConnectTimeout != 0 {
		cfg.ConnectTimeout = *flagDatabaseConnectTimeout
	}
	if *flagDatabasePoolMaxConns != 0 {
		cfg.PoolMaxConns = *flagDatabasePoolMaxConns
	}
}

// applyTileFlags applies command line flags to tile configuration
func applyTileFlags(cfg *TileConfig) {
	if *flagTilesMinZoom >= 0 && *flagTilesMinZoom <= 255 {
		cfg.MinZoom = uint8(*flagTilesMinZoom) // #nosec G115 - validated range
	}
	if *flagTilesMaxZoom >= 0 && *flagTilesMaxZoom <= 255 {
		cfg.MaxZoom = uint8(*flagTilesMaxZoom) // #nosec G115 - validated range
	}
	if *flagTilesExtent != 0 {
		cfg.Extent = *flagTilesExtent
	}
	if *flagTilesBuffer != 0 {
		cfg.Buffer = *flagTilesBuffer
	}
}

// applyFileFlags applies command line flags to file locations
func applyFileFlags(cfg *FileConfig) {
	if *flagDirtyTilesDir != "" {
		cfg.DirtyTilesDir = *flagDirtyTilesDir
	}
	if *flagArchivePath != "" {
		cfg.ArchivePath = *flagArchivePath
	}
	if *flagDeadLetterPath != "" {
		cfg.DeadLetterPath = *flagDeadLetterPath
	}
}

// applyWorkerFlags applies command line flags to worker configuration
func applyWorkerFlags(cfg *WorkerConfig) {
	if *flagWorkerBatchTimeout != 0 {
		cfg.BatchTimeout = *flagWorkerBatchTimeout
	}
	if *flagWorkerMaxRetries >= 0 {
		cfg.MaxRetries = *flagWorkerMaxRetries
	}
	if *flagWorkerReconnectBackoff != 0 {
		cfg.ReconnectBackoff = *flagWorkerReconnectBackoff
	}
	if *flagWorkerProcessTimeout != 0 {
		cfg.ProcessTimeout = *flagWorkerProcessTimeout
	}
	if *flagWorkerShutdownTimeout != 0 {
		cfg.ShutdownTimeout = *flagWorkerShutdownTimeout
	}
	if isFlagSet("worker-retry-on-idle") {
		cfg.RetryOnIdle = *flagWorkerRetryOnIdle
	}
}

// applyRenderFlags applies command line flags to render configuration
func applyRenderFlags(cfg *RenderConfig) {
	if *flagRenderRate >= 0 {
		cfg.RatePerSecond = *flagRenderRate
	}
	if *flagRenderBurst != 0 {
		cfg.Burst = *flagRenderBurst
	}
}

// applyArchiveFlags applies command line flags to archive configuration
func applyArchiveFlags(cfg *ArchiveConfig) {
	if *flagArchiveName != "" {
		cfg.Name = *flagArchiveName
	}
	if isFlagSet("archive-gzip") {
		cfg.Gzip = *flagArchiveGzip
	}
}

// applyRedisFlags applies command line flags to Redis configuration
func applyRedisFlags(cfg *RedisConfig) {
	if isFlagSet("redis-enabled") {
		cfg.Enabled = *flagRedisEnabled
	}
	if *flagRedisAddress != "" {
		cfg.Address = *flagRedisAddress
	}
	if *flagRedisKeyPrefix != "" {
		cfg.KeyPrefix = *flagRedisKeyPrefix
	}
	if *flagRedisStream != "" {
		cfg.Stream = *flagRedisStream
	}
}

// applyMQTTFlags applies command line flags to MQTT configuration
func applyMQTTFlags(cfg *MQTTConfig) {
	applyMQTTFlagStrings(cfg)
	applyMQTTFlagTimeouts(cfg)
	applyMQTTFlagTLS(cfg)
	applyMQTTFlagBools(cfg)
}

func applyMQTTFlagStrings(cfg *MQTTConfig) {
	if *flagMQTTBroker != "" {
		cfg.Broker = *flagMQTTBroker
	}
	if *flagMQTTClientID != "" {
		cfg.ClientID = *flagMQTTClientID
	}
	if *flagMQTTTopic != "" {
		cfg.Topic = *flagMQTTTopic
	}
	if *flagMQTTQoS >= 0 && *flagMQTTQoS <= 2 {
		cfg.QoS = byte(*flagMQTTQoS) // #nosec G115 - validated range 0-2
	}
}

func applyMQTTFlagTimeouts(cfg *MQTTConfig) {
	if *flagMQTTConnectTimeout != 0 {
		cfg.ConnectTimeout = *flagMQTTConnectTimeout
	}
	if *flagMQTTWriteTimeout != 0 {
		cfg.WriteTimeout = *flagMQTTWriteTimeout
	}
}

func applyMQTTFlagTLS(cfg *MQTTConfig) {
	if *flagMQTTCACert != "" {
		cfg.CACert = *flagMQTTCACert
	}
	if *flagMQTTClientCert != "" {
		cfg.ClientCert = *flagMQTTClientCert
	}
	if *flagMQTTClientKey != "" {
		cfg.ClientKey = *flagMQTTClientKey
	}
}

func applyMQTTFlagBools(cfg *MQTTConfig) {
	// Handle bool flags - check if explicitly set
	if isFlagSet("mqtt-enabled") {
		cfg.Enabled = *flagMQTTEnabled
	}
	if isFlagSet("mqtt-tls-enabled") {
		cfg.TLSEnabled = *flagMQTTTLSEnabled
	}
	if isFlagSet("mqtt-tls-insecure-skip") {
		cfg.InsecureSkip = *flagMQTTTLSInsecureSkip
	}
	if isFlagSet("mqtt-use-cert-cn-prefix") {
		cfg.UseCertCNPrefix = *flagMQTTUseCertCNPrefix
	}
}

// applyLogFlags applies command line flags to logger configuration
func applyLogFlags(cfg *LogConfig) {
	if *flagLogLevel != "" {
		cfg.Level = *flagLogLevel
	}
	if *flagLogFormat != "" {
		cfg.Format = *flagLogFormat
	}
}

// isFlagSet checks if a flag was explicitly set on the command line
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
