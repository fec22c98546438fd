package tile

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
)

// emptyMinZoom is the internal lower extent of a batch without members
const emptyMinZoom = math.MaxUint8

// ZoomGroup holds the coordinates of one zoom level
type ZoomGroup struct {
	Zoom   uint8
	Coords []Coordinate
}

// Rendered is the render outcome for one coordinate: either Data or Err is set
type Rendered struct {
	Coord Coordinate
	Data  []byte
	Err   error
}

// Batch is the deduplicated set of coordinates derived from one dirty-tile file.
// It is owned by a single goroutine and is not safe for concurrent use.
type Batch struct {
	ID        string
	Source    string
	CreatedAt time.Time

	tiles   map[Coordinate]struct{}
	minZoom uint8
	maxZoom uint8
}

// NewBatch creates an empty batch for the given source file
func NewBatch(source string) *Batch {
	return &Batch{
		ID:        uuid.NewString(),
		Source:    source,
		CreatedAt: time.Now().UTC(),
		tiles:     make(map[Coordinate]struct{}),
		minZoom:   emptyMinZoom,
		maxZoom:   0,
	}
}

// Insert adds c when absent and reports whether the batch grew.
// Inserting a member twice is a no-op.
func (b *Batch) Insert(c Coordinate) bool {
	if _, ok := b.tiles[c]; ok {
		return false
	}
	b.tiles[c] = struct{}{}
	b.minZoom = min(b.minZoom, c.Zoom)
	b.maxZoom = max(b.maxZoom, c.Zoom)
	return true
}

// Contains reports whether c is a member
func (b *Batch) Contains(c Coordinate) bool {
	_, ok := b.tiles[c]
	return ok
}

// Len returns the number of unique coordinates
func (b *Batch) Len() int {
	return len(b.tiles)
}

// Empty reports whether the batch has no members
func (b *Batch) Empty() bool {
	return len(b.tiles) == 0
}

// MinZoom returns the smallest member zoom, or 0 for an empty batch
func (b *Batch) MinZoom() uint8 {
	if b.Empty() {
		return 0
	}
	return b.minZoom
}

// MaxZoom returns the largest member zoom, or 0 for an empty batch
func (b *Batch) MaxZoom() uint8 {
	if b.Empty() {
		return 0
	}
	return b.maxZoom
}

// FilterMaxZoom removes every member deeper than z and returns how many were removed
func (b *Batch) FilterMaxZoom(z uint8) int {
	return b.retain(func(c Coordinate) bool { return c.Zoom <= z })
}

// FilterMinZoom removes every member coarser than z and returns how many were removed
func (b *Batch) FilterMinZoom(z uint8) int {
	return b.retain(func(c Coordinate) bool { return c.Zoom >= z })
}

func (b *Batch) retain(keep func(Coordinate) bool) int {
	removed := 0
	for c := range b.tiles {
		if !keep(c) {
			delete(b.tiles, c)
			removed++
		}
	}
	if removed > 0 {
		b.recomputeExtent()
	}
	return removed
}

func (b *Batch) recomputeExtent() {
	b.minZoom = emptyMinZoom
	b.maxZoom = 0
	for c := range b.tiles {
		b.minZoom = min(b.minZoom, c.Zoom)
		b.maxZoom = max(b.maxZoom, c.Zoom)
	}
}

// Coordinates returns all members in (zoom, x, y) order
func (b *Batch) Coordinates() []Coordinate {
	out := make([]Coordinate, 0, len(b.tiles))
	for c := range b.tiles {
		out = append(out, c)
	}
	slices.SortFunc(out, Coordinate.Compare)
	return out
}

// GroupByZoom returns the members bucketed per zoom level, zooms ascending
func (b *Batch) GroupByZoom() []ZoomGroup {
	var groups []ZoomGroup
	for _, c := range b.Coordinates() {
		if n := len(groups); n == 0 || groups[n-1].Zoom != c.Zoom {
			groups = append(groups, ZoomGroup{Zoom: c.Zoom})
		}
		last := &groups[len(groups)-1]
		last.Coords = append(last.Coords, c)
	}
	return groups
}

// ZoomCount is the number of members at one zoom level
type ZoomCount struct {
	Zoom  uint8
	Count int
}

// Summary is a read-only projection of a batch for logging and events
type Summary struct {
	BatchID   string
	Count     int
	MinZoom   uint8
	MaxZoom   uint8
	PerZoom   []ZoomCount
	Source    string
	CreatedAt time.Time
}

// Summary projects the batch without mutating it
func (b *Batch) Summary() Summary {
	counts := make(map[uint8]int)
	for c := range b.tiles {
		counts[c.Zoom]++
	}
	perZoom := make([]ZoomCount, 0, len(counts))
	for z, n := range counts {
		perZoom = append(perZoom, ZoomCount{Zoom: z, Count: n})
	}
	slices.SortFunc(perZoom, func(a, b ZoomCount) int { return int(a.Zoom) - int(b.Zoom) })

	return Summary{
		BatchID:   b.ID,
		Count:     len(b.tiles),
		MinZoom:   b.MinZoom(),
		MaxZoom:   b.MaxZoom(),
		PerZoom:   perZoom,
		Source:    b.Source,
		CreatedAt: b.CreatedAt,
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("TileBatch: %d tiles (z%d-z%d), source: %s, created: %s",
		s.Count, s.MinZoom, s.MaxZoom, s.Source, s.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
}
