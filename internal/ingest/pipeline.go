package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ibs-source/tile-consumer/internal/dirtyfile"
	"github.com/ibs-source/tile-consumer/internal/log"
	"github.com/ibs-source/tile-consumer/internal/message"
	"github.com/ibs-source/tile-consumer/internal/tile"
)

// ingest parses path and hands the batch to the renderer and the archiver.
// A non-nil error counts against the file's retries.
func (o *Orchestrator) ingest(ctx context.Context, path string) error {
	res, err := dirtyfile.ParseFile(path)
	if res != nil {
		for _, w := range res.Warnings {
			o.log.WarnWithFields(log.Fields{"path": path, "line": w.Line}, "Skipping malformed line: %v", w.Err)
		}
	}
	if err != nil {
		return err
	}

	o.log.InfoWithFields(log.Fields{
		"path":     path,
		"size":     res.Size,
		"modified": res.ModTime.UTC().Format(time.RFC3339),
		"lines":    res.Lines,
		"warnings": len(res.Warnings),
	}, "Parsed dirty-tile file")

	batch := res.Batch
	if dropped := batch.FilterMinZoom(o.minZoom) + batch.FilterMaxZoom(o.maxZoom); dropped > 0 {
		o.log.Debug("Dropped %d tiles outside zoom %d-%d", dropped, o.minZoom, o.maxZoom)
	}
	if batch.Empty() {
		o.log.Info("No tiles to render in %s", path)
		return nil
	}

	summary := batch.Summary()
	o.log.Info("%s", summary)

	rendered, err := o.renderer.Render(ctx, batch.ID, batch.GroupByZoom())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRender, err)
	}
	if err := o.archiver.WriteTiles(ctx, rendered); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	persisted := make([]tile.Coordinate, 0, len(rendered))
	for _, r := range rendered {
		if r.Err == nil {
			persisted = append(persisted, r.Coord)
		}
	}
	failed := len(rendered) - len(persisted)

	o.stats.Batches++
	o.stats.Tiles += len(persisted)
	o.stats.TileFailures += failed
	o.log.InfoWithFields(log.Fields{
		"batch_id":  batch.ID,
		"persisted": len(persisted),
		"failed":    failed,
	}, "Batch persisted")

	o.publish(ctx, message.NewTileEvent(summary, persisted, failed, o.now()))
	return nil
}

// publish sends the event to every publisher; failures are logged only
func (o *Orchestrator) publish(ctx context.Context, ev message.TileEvent) {
	for _, p := range o.publishers {
		if err := p.PublishBatch(ctx, ev); err != nil {
			o.log.WarnWithFields(log.Fields{"batch_id": ev.BatchID}, "Publishing tile event failed: %v", err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
