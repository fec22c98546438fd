// Package deadletter records dirty-tile files that exhausted their retries.
//
// The log is append-only text, one entry per line:
//
//	<RFC3339 timestamp>\t<file path>\t<reason>
//
// Only the file identifier is recorded, never its contents.
package deadletter

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one dead-lettered file
type Entry struct {
	At     time.Time
	Path   string
	Reason string
}

// Log appends entries to a file. Safe for concurrent use.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open returns a log at path, creating the parent directory if needed
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create dead-letter directory: %w", err)
	}
	return &Log{path: path, now: time.Now}, nil
}

// Path returns the file backing the log
func (l *Log) Path() string {
	return l.path
}

// Append records path with reason. The file is opened per call so rotation by an
// external tool is picked up.
func (l *Log) Append(path, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) // #nosec G304 - path is from config
	if err != nil {
		return fmt.Errorf("failed to open dead-letter log: %w", err)
	}

	line := fmt.Sprintf("%s\t%s\t%s\n", l.now().UTC().Format(time.RFC3339), sanitize(path), sanitize(reason))
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write dead-letter entry: %w", err)
	}
	return f.Close()
}

// Entries reads the log back in append order. A missing file yields no entries.
func (l *Log) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path) // #nosec G304 - path is from config
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open dead-letter log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), "\t", 3)
		if len(fields) != 3 {
			continue
		}
		at, err := time.Parse(time.RFC3339, fields[0])
		if err != nil {
			continue
		}
		entries = append(entries, Entry{At: at, Path: fields[1], Reason: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to read dead-letter log: %w", err)
	}
	return entries, nil
}

// sanitize keeps an entry on one line with three fields
func sanitize(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(s)
}
