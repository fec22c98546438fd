// Package message provides the data structures exchanged with the database listener and the event publishers.
package message

import (
	"strconv"
	"time"

	"github.com/ibs-source/tile-consumer/internal/tile"
	"github.com/ibs-source/tile-consumer/pkg/jsonfast"
)

// Notification is one change signal delivered on a database channel.
// Payload is expected to be the path of a dirty-tile file.
type Notification struct {
	Channel string
	Payload string
	PID     uint32 // backend process that sent it
}

// TileEvent announces tiles that were rendered and persisted from one batch
type TileEvent struct {
	BatchID     string
	Source      string
	CreatedAt   time.Time
	PersistedAt time.Time
	Count       int // tiles persisted
	Failed      int // tiles whose render failed
	MinZoom     uint8
	MaxZoom     uint8
	PerZoom     []tile.ZoomCount
	Tiles       []tile.Coordinate
}

// NewTileEvent builds the event for a persisted batch
func NewTileEvent(s tile.Summary, persisted []tile.Coordinate, failed int, at time.Time) TileEvent {
	return TileEvent{
		BatchID:     s.BatchID,
		Source:      s.Source,
		CreatedAt:   s.CreatedAt,
		PersistedAt: at,
		Count:       len(persisted),
		Failed:      failed,
		MinZoom:     s.MinZoom,
		MaxZoom:     s.MaxZoom,
		PerZoom:     s.PerZoom,
		Tiles:       persisted,
	}
}

// Encode renders the event as a JSON object
func (e TileEvent) Encode() []byte {
	b := jsonfast.New(256 + len(e.Tiles)*16)
	b.BeginObject()
	b.AddStringField("batch_id", e.BatchID)
	b.AddStringField("source", e.Source)
	b.AddTimeRFC3339Field("created_at", e.CreatedAt)
	b.AddTimeRFC3339Field("persisted_at", e.PersistedAt)
	b.AddIntField("count", e.Count)
	b.AddIntField("failed", e.Failed)
	b.AddIntField("min_zoom", int(e.MinZoom))
	b.AddIntField("max_zoom", int(e.MaxZoom))

	perZoom := make([]jsonfast.IntEntry, len(e.PerZoom))
	for i, zc := range e.PerZoom {
		perZoom[i] = jsonfast.IntEntry{Key: strconv.Itoa(int(zc.Zoom)), Value: zc.Count}
	}
	b.AddIntMapField("per_zoom", perZoom)
	b.AddStringArrayField("tiles", e.TileStrings())
	b.EndObject()

	out := make([]byte, len(b.Bytes()))
	copy(out, b.Bytes())
	return out
}

// TileStrings returns the persisted tiles in canonical "z/x/y" form
func (e TileEvent) TileStrings() []string {
	out := make([]string, len(e.Tiles))
	for i, c := range e.Tiles {
		out[i] = c.String()
	}
	return out
}
