// Package dirtyfile reads dirty-tile files: UTF-8 text with one "zoom/x/y" coordinate per line.
package dirtyfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"strings"
	"time"

	"github.com/ibs-source/tile-consumer/internal/tile"
)

var (
	// ErrEmptyFile is returned for a zero-byte file, which usually means the producer is still writing it
	ErrEmptyFile = errors.New("dirty-tile file is empty")
	// ErrNoValidLines is returned when a file has malformed lines and not a single valid coordinate
	ErrNoValidLines = errors.New("dirty-tile file has no valid coordinates")
	// ErrLineTooLong marks a line longer than MaxLineLength
	ErrLineTooLong = errors.New("line too long")
)

// LineError describes one line that is not a valid coordinate
type LineError struct {
	Line int // 1-based
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// FileUnavailableError is returned when the file cannot be opened or read
type FileUnavailableError struct {
	Path string
	Err  error
}

func (e *FileUnavailableError) Error() string {
	if e.NotExist() {
		return fmt.Sprintf("dirty-tile file %s does not exist", e.Path)
	}
	return fmt.Sprintf("dirty-tile file %s unavailable: %v", e.Path, e.Err)
}

func (e *FileUnavailableError) Unwrap() error {
	return e.Err
}

// NotExist reports whether the file is absent, as opposed to a permission or I/O failure.
// Absence may be a race with the producer.
func (e *FileUnavailableError) NotExist() bool {
	return errors.Is(e.Err, fs.ErrNotExist)
}

// MaxLineLength bounds a single line. Longer lines are reported as malformed and skipped.
const MaxLineLength = 4096

// lineErrorTextLimit caps the text kept from an over-long line
const lineErrorTextLimit = 64

// Lines yields one entry per non-blank line of r, in order. Malformed lines yield a *LineError
// and the sequence continues. A read failure yields a plain error and ends the sequence.
func Lines(r io.Reader) iter.Seq2[tile.Coordinate, error] {
	return func(yield func(tile.Coordinate, error) bool) {
		br := bufio.NewReaderSize(r, MaxLineLength)
		lineNo := 0
		for {
			line, isPrefix, err := br.ReadLine()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(tile.Coordinate{}, fmt.Errorf("read after line %d: %w", lineNo, err))
				}
				return
			}
			lineNo++

			if isPrefix {
				text := string(line[:lineErrorTextLimit]) + "..."
				skipErr := skipLine(br)
				if !yield(tile.Coordinate{}, &LineError{Line: lineNo, Text: text, Err: ErrLineTooLong}) {
					return
				}
				if skipErr != nil {
					if !errors.Is(skipErr, io.EOF) {
						yield(tile.Coordinate{}, fmt.Errorf("read after line %d: %w", lineNo, skipErr))
					}
					return
				}
				continue
			}

			raw := string(line)
			text := strings.TrimSpace(raw)
			if text == "" {
				continue
			}

			c, err := tile.Parse(text)
			if err != nil {
				if !yield(tile.Coordinate{}, &LineError{Line: lineNo, Text: raw, Err: err}) {
					return
				}
				continue
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}

// skipLine discards the remainder of a line that did not fit the buffer
func skipLine(br *bufio.Reader) error {
	for {
		_, isPrefix, err := br.ReadLine()
		if err != nil {
			return err
		}
		if !isPrefix {
			return nil
		}
	}
}

// Result is the outcome of parsing one file: the batch of good coordinates plus non-fatal warnings
type Result struct {
	Batch    *tile.Batch
	Warnings []*LineError
	Lines    int // non-blank lines seen
	Size     int64
	ModTime  time.Time
}

// Parse consumes r in a single forward pass into a batch attributed to source.
// The returned error is non-nil only for a read failure.
func Parse(r io.Reader, source string) (*Result, error) {
	res := &Result{Batch: tile.NewBatch(source)}
	for c, err := range Lines(r) {
		if err != nil {
			var lineErr *LineError
			if errors.As(err, &lineErr) {
				res.Lines++
				res.Warnings = append(res.Warnings, lineErr)
				continue
			}
			return res, err
		}
		res.Lines++
		res.Batch.Insert(c)
	}
	return res, nil
}

// ParseFile validates and parses the dirty-tile file at path.
//
// A missing or unreadable file fails with *FileUnavailableError, a zero-byte file with
// ErrEmptyFile. A file whose non-blank lines are all malformed fails with ErrNoValidLines;
// the result is still returned so callers can report the warnings.
func ParseFile(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &FileUnavailableError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &FileUnavailableError{Path: path, Err: fmt.Errorf("%s is a directory", path)}
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	f, err := os.Open(path) // #nosec G304 - path comes from a trusted database notification
	if err != nil {
		return nil, &FileUnavailableError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	res, err := Parse(f, path)
	if err != nil {
		return nil, &FileUnavailableError{Path: path, Err: err}
	}
	res.Size = info.Size()
	res.ModTime = info.ModTime()

	if res.Batch.Empty() && len(res.Warnings) > 0 {
		return res, fmt.Errorf("%w: %s: %d malformed lines", ErrNoValidLines, path, len(res.Warnings))
	}
	return res, nil
}
