// Package archive persists rendered tiles in an MBTiles (SQLite) file.
package archive

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ibs-source/tile-consumer/internal/config"
	"github.com/ibs-source/tile-consumer/internal/log"
	"github.com/ibs-source/tile-consumer/internal/tile"
	"github.com/klauspost/compress/gzip"
	_ "github.com/mattn/go-sqlite3"
)

// ErrTileNotFound is returned by ReadTile for an absent tile
var ErrTileNotFound = errors.New("tile not found in archive")

const schema = `
CREATE TABLE IF NOT EXISTS metadata (name TEXT PRIMARY KEY, value TEXT);
CREATE TABLE IF NOT EXISTS tiles (
	zoom_level  INTEGER NOT NULL,
	tile_column INTEGER NOT NULL,
	tile_row    INTEGER NOT NULL,
	tile_data   BLOB,
	PRIMARY KEY (zoom_level, tile_column, tile_row)
);`

const upsertTile = `INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`

// Stats describes the archive file
type Stats struct {
	Path         string
	FileSize     int64
	TileCount    int64
	LastModified time.Time
}

func (s Stats) String() string {
	return fmt.Sprintf("MBTiles archive %s: %d bytes, %d tiles", s.Path, s.FileSize, s.TileCount)
}

// Archive writes tiles with rows in TMS order, as MBTiles requires
type Archive struct {
	db   *sql.DB
	path string
	gzip bool
	log  *log.Logger
}

// Open creates or opens the archive at path and writes its metadata
func Open(path string, cfg *config.ArchiveConfig, tiles *config.TileConfig, logger *log.Logger) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("Archive does not exist, will be created: %s", path)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create archive schema: %w", err)
	}

	a := &Archive{db: db, path: path, gzip: cfg.Gzip, log: logger}
	meta := map[string]string{
		"name":    cfg.Name,
		"format":  "pbf",
		"type":    "baselayer",
		"minzoom": strconv.Itoa(int(tiles.MinZoom)),
		"maxzoom": strconv.Itoa(int(tiles.MaxZoom)),
	}
	if err := a.SetMetadata(context.Background(), meta); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// SetMetadata upserts metadata rows
func (a *Archive) SetMetadata(ctx context.Context, meta map[string]string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin metadata transaction: %w", err)
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)`, k, v); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to write metadata %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Metadata returns one metadata value, or "" when unset
func (a *Archive) Metadata(ctx context.Context, name string) (string, error) {
	var v string
	err := a.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// WriteTiles stores every successfully rendered tile in one transaction.
// Existing tiles at the same coordinate are replaced. Entries carrying a render error are skipped.
func (a *Archive) WriteTiles(ctx context.Context, tiles []tile.Rendered) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, upsertTile)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare tile insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	written := 0
	for _, t := range tiles {
		if t.Err != nil {
			continue
		}
		data, err := a.encode(t.Data)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to compress tile %s: %w", t.Coord, err)
		}
		if _, err := stmt.ExecContext(ctx, t.Coord.Zoom, t.Coord.X, t.Coord.TMSRow(), data); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to write tile %s: %w", t.Coord, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	a.log.Debug("Wrote %d tiles to archive %s", written, a.path)
	return nil
}

// ReadTile returns the uncompressed tile at c
func (a *Archive) ReadTile(ctx context.Context, c tile.Coordinate) ([]byte, error) {
	var data []byte
	err := a.db.QueryRowContext(ctx,
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		c.Zoom, c.X, c.TMSRow(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tile %s: %w", c, err)
	}
	return decode(data)
}

// Stats reports file size, tile count and modification time
func (a *Archive) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Path: a.path}
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tiles`).Scan(&s.TileCount); err != nil {
		return s, fmt.Errorf("failed to count tiles: %w", err)
	}
	if fi, err := os.Stat(a.path); err == nil {
		s.FileSize = fi.Size()
		s.LastModified = fi.ModTime()
	}
	return s, nil
}

// Close closes the database
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) encode(data []byte) ([]byte, error) {
	if !a.gzip || len(data) == 0 {
		return data, nil
	}
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode gunzips data that carries the gzip magic and returns anything else unchanged
func decode(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip tile: %w", err)
	}
	defer func() { _ = zr.Close() }()
	return io.ReadAll(zr)
}
