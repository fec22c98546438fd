// Package redis invalidates cached tiles and appends tile-update events to a Redis stream.
package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ibs-source/tile-consumer/internal/config"
	"github.com/ibs-source/tile-consumer/internal/log"
	"github.com/ibs-source/tile-consumer/internal/message"
	"github.com/ibs-source/tile-consumer/internal/tile"
	"github.com/redis/go-redis/v9"
)

// unlinkChunk bounds the number of keys per UNLINK command
const unlinkChunk = 500

// Client manages cache invalidation and the event stream
type Client struct {
	rdb       *redis.Client
	keyPrefix string
	stream    string
	maxLen    int64
	log       *log.Logger
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(cfg *config.RedisConfig, logger *log.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Publishing tile events to Redis stream '%s' (cache prefix '%s')", cfg.Stream, cfg.KeyPrefix)
	return &Client{
		rdb:       rdb,
		keyPrefix: cfg.KeyPrefix,
		stream:    cfg.Stream,
		maxLen:    cfg.StreamMaxLen,
		log:       logger,
	}, nil
}

// PublishBatch drops cached copies of the persisted tiles and appends the event to the stream.
// Both happen in one pipeline round trip.
func (c *Client) PublishBatch(ctx context.Context, ev message.TileEvent) error {
	pipe := c.rdb.Pipeline()

	keys := tileKeys(c.keyPrefix, ev.Tiles)
	for start := 0; start < len(keys); start += unlinkChunk {
		end := min(start+unlinkChunk, len(keys))
		pipe.Unlink(ctx, keys[start:end]...)
	}

	add := pipe.XAdd(ctx, c.xAddArgs(ev))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed for batch %s: %w", ev.BatchID, err)
	}
	c.log.DebugWithFields(log.Fields{
		"batch_id":  ev.BatchID,
		"stream_id": add.Val(),
		"unlinked":  len(keys),
	}, "Published tile event to Redis")
	return nil
}

// Invalidate drops cached copies of coords and returns how many keys existed
func (c *Client) Invalidate(ctx context.Context, coords []tile.Coordinate) (int64, error) {
	if len(coords) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Unlink(ctx, tileKeys(c.keyPrefix, coords)...).Result()
	if err != nil {
		return 0, fmt.Errorf("unlink failed: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) xAddArgs(ev message.TileEvent) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: c.stream,
		Values: eventValues(ev),
	}
	if c.maxLen > 0 {
		args.MaxLen = c.maxLen
		args.Approx = true
	}
	return args
}

// tileKeys builds "<prefix><z>/<x>/<y>" cache keys
func tileKeys(prefix string, coords []tile.Coordinate) []string {
	keys := make([]string, len(coords))
	for i, co := range coords {
		keys[i] = prefix + co.String()
	}
	return keys
}

// eventValues flattens the event into stream fields; the full event travels as JSON in "event"
func eventValues(ev message.TileEvent) map[string]interface{} {
	return map[string]interface{}{
		"batch_id": ev.BatchID,
		"source":   ev.Source,
		"count":    strconv.Itoa(ev.Count),
		"min_zoom": strconv.Itoa(int(ev.MinZoom)),
		"max_zoom": strconv.Itoa(int(ev.MaxZoom)),
		"event":    string(ev.Encode()),
	}
}
