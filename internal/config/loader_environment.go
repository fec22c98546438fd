package config

import (
	"os"
	"strconv"
	"time"
)

// loadDatabaseFromEnv loads database configuration from environment variables
func loadDatabaseFromEnv(cfg *DatabaseConfig) {
	if v := getEnvString("DATABASE_URL"); v != "" {
		cfg.URL = v
	}
	if v := getEnvString("DATABASE_CHANNEL"); v != "" {
		cfg.Channel = v
	}
	if v := getEnvDuration("DATABASE_CONNECT_TIMEOUT"); v != 0 {
		cfg.ConnectTimeout = v
	}
	if v, ok := getEnvInt("DATABASE_POOL_MAX_CONNS"); ok {
		cfg.PoolMaxConns = v
	}
}

// loadTilesFromEnv loads tile configuration from environment variables
func loadTilesFromEnv(cfg *TileConfig) {
	if v, ok := getEnvZoom("TILES_MIN_ZOOM"); ok {
		cfg.MinZoom = v
	}
	if v, ok := getEnvZoom("TILES_MAX_ZOOM"); ok {
		cfg.MaxZoom = v
	}
	if v, ok := getEnvInt("TILES_EXTENT"); ok {
		cfg.Extent = v
	}
	if v, ok := getEnvInt("TILES_BUFFER"); ok {
		cfg.Buffer = v
	}
}

// loadFilesFromEnv loads file locations from environment variables
func loadFilesFromEnv(cfg *FileConfig) {
	if v := getEnvString("DIRTY_TILES_PATH"); v != "" {
		cfg.DirtyTilesDir = v
	}
	if v := getEnvString("ARCHIVE_PATH"); v != "" {
		cfg.ArchivePath = v
	}
	if v := getEnvString("DEAD_LETTER_PATH"); v != "" {
		cfg.DeadLetterPath = v
	}
}

// loadWorkerFromEnv loads worker configuration from environment variables
func loadWorkerFromEnv(cfg *WorkerConfig) {
	if v := getEnvDuration("WORKER_BATCH_TIMEOUT"); v != 0 {
		cfg.BatchTimeout = v
	}
	if v, ok := getEnvInt("WORKER_MAX_RETRIES"); ok {
		cfg.MaxRetries = v
	}
	if v := getEnvDuration("WORKER_RECONNECT_BACKOFF"); v != 0 {
		cfg.ReconnectBackoff = v
	}
	if v := getEnvDuration("WORKER_PROCESS_TIMEOUT"); v != 0 {
		cfg.ProcessTimeout = v
	}
	if v := getEnvDuration("WORKER_SHUTDOWN_TIMEOUT"); v != 0 {
		cfg.ShutdownTimeout = v
	}
	if v, ok := getEnvBool("WORKER_RETRY_ON_IDLE"); ok {
		cfg.RetryOnIdle = v
	}
}

// loadRenderFromEnv loads render configuration from environment variables
func loadRenderFromEnv(cfg *RenderConfig) {
	if v := getEnvString("RENDER_QUERY"); v != "" {
		cfg.Query = v
	}
	if v := getEnvString("RENDER_RATE_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RatePerSecond = f
		}
	}
	if v, ok := getEnvInt("RENDER_BURST"); ok {
		cfg.Burst = v
	}
}

// loadArchiveFromEnv loads archive configuration from environment variables
func loadArchiveFromEnv(cfg *ArchiveConfig) {
	if v := getEnvString("ARCHIVE_NAME"); v != "" {
		cfg.Name = v
	}
	if v, ok := getEnvBool("ARCHIVE_GZIP"); ok {
		cfg.Gzip = v
	}
}

// loadRedisFromEnv loads Redis configuration from environment variables
func loadRedisFromEnv(cfg *RedisConfig) {
	loadRedisStrings(cfg)
	loadRedisTimeouts(cfg)
}

func loadRedisStrings(cfg *RedisConfig) {
	if v, ok := getEnvBool("REDIS_ENABLED"); ok {
		cfg.Enabled = v
	}
	if v := getEnvString("REDIS_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := getEnvString("REDIS_KEY_PREFIX"); v != "" {
		cfg.KeyPrefix = v
	}
	if v := getEnvString("REDIS_STREAM"); v != "" {
		cfg.Stream = v
	}
	if v, ok := getEnvInt("REDIS_STREAM_MAX_LEN"); ok {
		cfg.StreamMaxLen = int64(v)
	}
}

func loadRedisTimeouts(cfg *RedisConfig) {
	if v := getEnvDuration("REDIS_DIAL_TIMEOUT"); v != 0 {
		cfg.DialTimeout = v
	}
	if v := getEnvDuration("REDIS_READ_TIMEOUT"); v != 0 {
		cfg.ReadTimeout = v
	}
	if v := getEnvDuration("REDIS_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("REDIS_PING_TIMEOUT"); v != 0 {
		cfg.PingTimeout = v
	}
}

// loadMQTTFromEnv loads MQTT configuration from environment variables
func loadMQTTFromEnv(cfg *MQTTConfig) {
	loadMQTTStrings(cfg)
	loadMQTTInts(cfg)
	loadMQTTTimeouts(cfg)
	loadMQTTTLS(cfg)
}

func loadMQTTStrings(cfg *MQTTConfig) {
	if v, ok := getEnvBool("MQTT_ENABLED"); ok {
		cfg.Enabled = v
	}
	if v := getEnvString("MQTT_BROKER"); v != "" {
		cfg.Broker = v
	}
	if v := getEnvString("MQTT_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := getEnvString("MQTT_TOPIC"); v != "" {
		cfg.Topic = v
	}
}

func loadMQTTInts(cfg *MQTTConfig) {
	if v, ok := getEnvInt("MQTT_QOS"); ok && v >= 0 && v <= 2 {
		cfg.QoS = byte(v) // #nosec G115 - validated range 0-2
	}
	if v, ok := getEnvInt("MQTT_DISCONNECT_TIMEOUT"); ok && v >= 0 {
		cfg.DisconnectTimeout = uint(v) // #nosec G115 - config values are non-negative
	}
}

func loadMQTTTimeouts(cfg *MQTTConfig) {
	if v := getEnvDuration("MQTT_CONNECT_TIMEOUT"); v != 0 {
		cfg.ConnectTimeout = v
	}
	if v := getEnvDuration("MQTT_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("MQTT_MAX_RECONNECT_INTERVAL"); v != 0 {
		cfg.MaxReconnectInterval = v
	}
}

func loadMQTTTLS(cfg *MQTTConfig) {
	if v, ok := getEnvBool("MQTT_TLS_ENABLED"); ok {
		cfg.TLSEnabled = v
	}
	if v := getEnvString("MQTT_CA_CERT"); v != "" {
		cfg.CACert = v
	}
	if v := getEnvString("MQTT_CLIENT_CERT"); v != "" {
		cfg.ClientCert = v
	}
	if v := getEnvString("MQTT_CLIENT_KEY"); v != "" {
		cfg.ClientKey = v
	}
	if v, ok := getEnvBool("MQTT_TLS_INSECURE_SKIP"); ok {
		cfg.InsecureSkip = v
	}
	if v, ok := getEnvBool("MQTT_USE_CERT_CN_PREFIX"); ok {
		cfg.UseCertCNPrefix = v
	}
}

// loadLogFromEnv loads logger configuration from environment variables
func loadLogFromEnv(cfg *LogConfig) {
	if v := getEnvString("LOG_LEVEL"); v != "" {
		cfg.Level = v
	}
	if v := getEnvString("LOG_FORMAT"); v != "" {
		cfg.Format = v
	}
}

// Helper functions for reading environment variables

func getEnvString(key string) string {
	return os.Getenv(key)
}

// getEnvInt reports ok only for a set, well-formed value, so an explicit 0 is honored
func getEnvInt(key string) (int, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return intValue, true
}

func getEnvZoom(key string) (uint8, bool) {
	v, ok := getEnvInt(key)
	if !ok || v < 0 || v > 255 {
		return 0, false
	}
	return uint8(v), true // #nosec G115 - validated range
}

func getEnvDuration(key string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return duration
}

func getEnvBool(key string) (bool, bool) {
	value := os.Getenv(key)
	if value == "" {
		return false, false
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false
	}
	return b, true
}
