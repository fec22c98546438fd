// Package tile provides the tile coordinate value type and the deduplicating batch built from dirty-tile files.
package tile

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest zoom level a coordinate may carry
const MaxZoom = 30

// ErrMalformedCoordinate is returned (wrapped) for any text that is not a valid "z/x/y" coordinate
var ErrMalformedCoordinate = errors.New("malformed tile coordinate")

// Coordinate identifies one tile of the pyramid. It is a comparable value type.
type Coordinate struct {
	Zoom uint8
	X    uint32
	Y    uint32
}

// New builds a coordinate, rejecting values outside the tile grid of the zoom level
func New(zoom uint8, x, y uint32) (Coordinate, error) {
	c := Coordinate{Zoom: zoom, X: x, Y: y}
	if err := c.validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// Parse parses the canonical "zoom/x/y" form. No trimming, clamping or truncation is applied.
func Parse(s string) (Coordinate, error) {
	fields := strings.Split(s, "/")
	if len(fields) != 3 {
		return Coordinate{}, fmt.Errorf("%w: %q: expected 3 fields, got %d", ErrMalformedCoordinate, s, len(fields))
	}

	zoom, err := strconv.ParseUint(fields[0], 10, 8)
	if err != nil || zoom > MaxZoom {
		return Coordinate{}, fmt.Errorf("%w: %q: invalid zoom level %q", ErrMalformedCoordinate, s, fields[0])
	}
	x, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: %q: invalid x coordinate %q", ErrMalformedCoordinate, s, fields[1])
	}
	y, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: %q: invalid y coordinate %q", ErrMalformedCoordinate, s, fields[2])
	}

	c := Coordinate{Zoom: uint8(zoom), X: uint32(x), Y: uint32(y)} // #nosec G115 - ranges checked by ParseUint
	if err := c.validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// String returns the canonical "zoom/x/y" form, the inverse of Parse
func (c Coordinate) String() string {
	return strconv.Itoa(int(c.Zoom)) + "/" +
		strconv.FormatUint(uint64(c.X), 10) + "/" +
		strconv.FormatUint(uint64(c.Y), 10)
}

// Compare orders coordinates by zoom, then x, then y
func (c Coordinate) Compare(o Coordinate) int {
	if n := cmp.Compare(c.Zoom, o.Zoom); n != 0 {
		return n
	}
	if n := cmp.Compare(c.X, o.X); n != 0 {
		return n
	}
	return cmp.Compare(c.Y, o.Y)
}

// Tile converts the coordinate to an orb map tile
func (c Coordinate) Tile() maptile.Tile {
	return maptile.New(c.X, c.Y, maptile.Zoom(c.Zoom))
}

// Bound returns the lon/lat extent covered by the tile
func (c Coordinate) Bound() orb.Bound {
	return c.Tile().Bound()
}

// TMSRow returns the row index with the y axis flipped, as stored by TMS-based archives
func (c Coordinate) TMSRow() uint32 {
	return uint32(1)<<c.Zoom - 1 - c.Y
}

func (c Coordinate) validate() error {
	if c.Zoom > MaxZoom {
		return fmt.Errorf("%w: zoom %d exceeds %d", ErrMalformedCoordinate, c.Zoom, MaxZoom)
	}
	limit := uint64(1) << c.Zoom
	if uint64(c.X) >= limit {
		return fmt.Errorf("%w: x %d out of range for zoom %d", ErrMalformedCoordinate, c.X, c.Zoom)
	}
	if uint64(c.Y) >= limit {
		return fmt.Errorf("%w: y %d out of range for zoom %d", ErrMalformedCoordinate, c.Y, c.Zoom)
	}
	return nil
}
