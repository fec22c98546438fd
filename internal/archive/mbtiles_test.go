package archive

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ibs-source/tile-consumer/internal/config"
	"github.com/ibs-source/tile-consumer/internal/log"
	"github.com/ibs-source/tile-consumer/internal/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestArchive(t *testing.T, gzip bool) *Archive {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiles", "test.mbtiles")
	a, err := Open(path,
		&config.ArchiveConfig{Name: "test", Gzip: gzip},
		&config.TileConfig{MinZoom: 0, MaxZoom: 14},
		log.NewWithOutput(&bytes.Buffer{}, "error", "text"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func coord(t *testing.T, s string) tile.Coordinate {
	t.Helper()
	c, err := tile.Parse(s)
	require.NoError(t, err)
	return c
}

func TestWriteAndReadTiles(t *testing.T) {
	for _, gz := range []bool{true, false} {
		t.Run(map[bool]string{true: "gzip", false: "raw"}[gz], func(t *testing.T) {
			a := openTestArchive(t, gz)
			ctx := context.Background()

			payload := bytes.Repeat([]byte("mvt-layer-data"), 32)
			err := a.WriteTiles(ctx, []tile.Rendered{
				{Coord: coord(t, "14/8234/5425"), Data: payload},
				{Coord: coord(t, "12/100/200"), Data: []byte{}},
			})
			require.NoError(t, err)

			got, err := a.ReadTile(ctx, coord(t, "14/8234/5425"))
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			empty, err := a.ReadTile(ctx, coord(t, "12/100/200"))
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestWriteTiles_StoresTMSRow(t *testing.T) {
	a := openTestArchive(t, false)
	ctx := context.Background()

	require.NoError(t, a.WriteTiles(ctx, []tile.Rendered{{Coord: coord(t, "2/1/0"), Data: []byte("x")}}))

	var row int
	require.NoError(t, a.db.QueryRow(`SELECT tile_row FROM tiles WHERE zoom_level = 2 AND tile_column = 1`).Scan(&row))
	assert.Equal(t, 3, row)
}

func TestWriteTiles_SkipsFailedAndReplaces(t *testing.T) {
	a := openTestArchive(t, true)
	ctx := context.Background()
	c := coord(t, "5/3/4")

	require.NoError(t, a.WriteTiles(ctx, []tile.Rendered{{Coord: c, Data: []byte("old")}}))
	require.NoError(t, a.WriteTiles(ctx, []tile.Rendered{
		{Coord: c, Data: []byte("new")},
		{Coord: coord(t, "5/3/5"), Err: errors.New("render failed")},
	}))

	got, err := a.ReadTile(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)

	_, err = a.ReadTile(ctx, coord(t, "5/3/5"))
	assert.ErrorIs(t, err, ErrTileNotFound)

	stats, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TileCount)
	assert.Contains(t, stats.String(), "1 tiles")
}

func TestWriteTiles_CancelledContext(t *testing.T) {
	a := openTestArchive(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.WriteTiles(ctx, []tile.Rendered{{Coord: coord(t, "1/1/1"), Data: []byte("x")}})
	assert.Error(t, err)

	stats, err := a.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TileCount)
}

func TestMetadata(t *testing.T) {
	a := openTestArchive(t, true)
	ctx := context.Background()

	name, err := a.Metadata(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "test", name)

	maxzoom, err := a.Metadata(ctx, "maxzoom")
	require.NoError(t, err)
	assert.Equal(t, "14", maxzoom)

	require.NoError(t, a.SetMetadata(ctx, map[string]string{"description": "osm"}))
	desc, err := a.Metadata(ctx, "description")
	require.NoError(t, err)
	assert.Equal(t, "osm", desc)

	missing, err := a.Metadata(ctx, "attribution")
	require.NoError(t, err)
	assert.Empty(t, missing)
}
