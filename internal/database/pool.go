// Package database manages the shared PostgreSQL query pool.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ibs-source/tile-consumer/internal/config"
	"github.com/ibs-source/tile-consumer/internal/log"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the query pool used by renderers. The listener never borrows from it.
type Pool struct {
	*pgxpool.Pool
	log *log.Logger
}

// NewPool connects the pool and logs the server version
func NewPool(ctx context.Context, cfg *config.DatabaseConfig, logger *log.Logger) (*Pool, error) {
	logger.Info("Connecting to PostgreSQL: %s", MaskPassword(cfg.URL))

	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.PoolMaxConns > 0 {
		pcfg.MaxConns = int32(cfg.PoolMaxConns) // #nosec G115 - validated positive
	}
	if cfg.ConnectTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout(cfg.ConnectTimeout))
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	var version string
	if err := pool.QueryRow(connectCtx, "SELECT version()").Scan(&version); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	logger.Info("Connected to %s", version)

	return &Pool{Pool: pool, log: logger}, nil
}

// HealthCheck runs a trivial query
func (p *Pool) HealthCheck(ctx context.Context) error {
	var one int
	if err := p.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	p.log.Debug("Database health check passed")
	return nil
}

func connectTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// MaskPassword hides the password of a URL-style connection string for logging.
// Strings without a password are returned unchanged.
func MaskPassword(url string) string {
	scheme := strings.Index(url, "://")
	if scheme < 0 {
		return url
	}
	rest := url[scheme+3:]
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return url
	}
	user, _, hasPassword := strings.Cut(rest[:at], ":")
	if !hasPassword {
		return url
	}
	return url[:scheme+3] + user + ":***" + rest[at:]
}
