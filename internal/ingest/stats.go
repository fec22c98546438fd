package ingest

import "github.com/ibs-source/tile-consumer/internal/log"

// Stats are the run counters of one orchestrator
type Stats struct {
	Notifications int
	Invalid       int
	Batches       int
	Tiles         int
	TileFailures  int
	Failures      int
	DeadLettered  int
	Reconnects    int
	Heartbeats    int
}

func (s Stats) fields() log.Fields {
	return log.Fields{
		"notifications": s.Notifications,
		"invalid":       s.Invalid,
		"batches":       s.Batches,
		"tiles":         s.Tiles,
		"tile_failures": s.TileFailures,
		"failures":      s.Failures,
		"dead_lettered": s.DeadLettered,
		"reconnects":    s.Reconnects,
		"heartbeats":    s.Heartbeats,
	}
}
