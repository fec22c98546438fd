package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ibs-source/tile-consumer/internal/tile"
)

func TestNotification(t *testing.T) {
	n := Notification{
		Channel: "tiles_updated",
		Payload: "/tmp/test_dirty_tiles.txt",
		PID:     12345,
	}

	if n.Channel != "tiles_updated" {
		t.Errorf("expected channel tiles_updated, got %s", n.Channel)
	}
	if n.PID != 12345 {
		t.Errorf("expected pid 12345, got %d", n.PID)
	}
}

func TestTileEventEncode(t *testing.T) {
	b := tile.NewBatch("/var/cache/renderd/dirty_tiles.txt")
	b.Insert(tile.Coordinate{Zoom: 10, X: 1, Y: 1})
	b.Insert(tile.Coordinate{Zoom: 12, X: 9, Y: 9})
	persisted := b.Coordinates()

	ev := NewTileEvent(b.Summary(), persisted, 1, time.Date(2025, 7, 24, 19, 32, 45, 0, time.UTC))

	var decoded struct {
		BatchID     string         `json:"batch_id"`
		Source      string         `json:"source"`
		PersistedAt string         `json:"persisted_at"`
		Count       int            `json:"count"`
		Failed      int            `json:"failed"`
		MinZoom     int            `json:"min_zoom"`
		MaxZoom     int            `json:"max_zoom"`
		PerZoom     map[string]int `json:"per_zoom"`
		Tiles       []string       `json:"tiles"`
	}
	if err := json.Unmarshal(ev.Encode(), &decoded); err != nil {
		t.Fatalf("event is not valid JSON: %v", err)
	}

	if decoded.BatchID != b.ID {
		t.Errorf("batch_id = %s; want %s", decoded.BatchID, b.ID)
	}
	if decoded.Source != b.Source {
		t.Errorf("source = %s; want %s", decoded.Source, b.Source)
	}
	if decoded.PersistedAt != "2025-07-24T19:32:45Z" {
		t.Errorf("persisted_at = %s", decoded.PersistedAt)
	}
	if decoded.Count != 2 || decoded.Failed != 1 {
		t.Errorf("count/failed = %d/%d; want 2/1", decoded.Count, decoded.Failed)
	}
	if decoded.MinZoom != 10 || decoded.MaxZoom != 12 {
		t.Errorf("zoom extent = %d-%d; want 10-12", decoded.MinZoom, decoded.MaxZoom)
	}
	if decoded.PerZoom["10"] != 1 || decoded.PerZoom["12"] != 1 {
		t.Errorf("per_zoom = %v", decoded.PerZoom)
	}
	if len(decoded.Tiles) != 2 || decoded.Tiles[0] != "10/1/1" || decoded.Tiles[1] != "12/9/9" {
		t.Errorf("tiles = %v", decoded.Tiles)
	}
}
