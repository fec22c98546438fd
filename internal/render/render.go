// Package render produces Mapbox Vector Tiles from PostGIS.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ibs-source/tile-consumer/internal/config"
	"github.com/ibs-source/tile-consumer/internal/log"
	"github.com/ibs-source/tile-consumer/internal/tile"
	"github.com/jackc/pgx/v5"
	"golang.org/x/time/rate"
)

// ErrNoTilesRendered is returned when every tile of a non-empty request failed
var ErrNoTilesRendered = errors.New("no tiles rendered")

// Querier is satisfied by *pgxpool.Pool and *pgx.Conn
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Renderer runs the MVT query once per tile
type Renderer struct {
	db      Querier
	query   string
	extent  int
	buffer  int
	limiter *rate.Limiter
	log     *log.Logger
}

// New creates a renderer. A zero rate disables throttling.
func New(db Querier, cfg *config.RenderConfig, tiles *config.TileConfig, logger *log.Logger) *Renderer {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Renderer{
		db:      db,
		query:   cfg.Query,
		extent:  tiles.Extent,
		buffer:  tiles.Buffer,
		limiter: rate.NewLimiter(limit, burst),
		log:     logger,
	}
}

// RenderTile returns the encoded MVT for c. An area without features yields an empty tile.
func (r *Renderer) RenderTile(ctx context.Context, c tile.Coordinate) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	b := c.Bound()
	var data []byte
	err := r.db.QueryRow(ctx, r.query,
		b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat(),
		r.extent, r.buffer,
	).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", c, err)
	}
	return data, nil
}

// Render renders every group in the order given, coarse zooms first when groups come from
// Batch.GroupByZoom. Per-tile failures are recorded in the result and do not stop the batch.
// A cancelled context stops rendering and returns what was produced so far.
func (r *Renderer) Render(ctx context.Context, batchID string, groups []tile.ZoomGroup) ([]tile.Rendered, error) {
	var (
		results []tile.Rendered
		ok      int
	)
	for _, g := range groups {
		start := time.Now()
		failed := 0
		for _, c := range g.Coords {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			data, err := r.RenderTile(ctx, c)
			if err != nil {
				failed++
				r.log.WarnWithFields(log.Fields{"batch_id": batchID, "tile": c.String()}, "Tile render failed: %v", err)
			} else {
				ok++
			}
			results = append(results, tile.Rendered{Coord: c, Data: data, Err: err})
		}
		r.log.DebugWithFields(log.Fields{
			"batch_id": batchID,
			"zoom":     g.Zoom,
			"tiles":    len(g.Coords),
			"failed":   failed,
			"elapsed":  time.Since(start).String(),
		}, "Rendered zoom level")
	}

	if len(results) > 0 && ok == 0 {
		return results, fmt.Errorf("%w: %d tiles failed", ErrNoTilesRendered, len(results))
	}
	return results, nil
}
