// Package journal persists copy records as a line-oriented, size-bounded
// append log. The line format is the durable contract operators read:
// timestamp, outcome, source name, resolved destination name, reason, in
// that order, tab-separated. Rotation uses numbered suffixes: the active
// segment becomes name.1, name.1 becomes name.2, and so on; the segment
// beyond the backup count is deleted.
package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mirrord/internal/mirror"
)

const timeLayout = "2006-01-02 15:04:05"

// recentCap bounds the in-memory tail kept for the status API.
const recentCap = 100

type Writer struct {
	mu       sync.Mutex
	path     string // active segment
	maxBytes int64
	backups  int
	f        *os.File
	size     int64
	recent   []mirror.Record
}

// Open opens (or creates) the active segment under dir and positions the
// writer at its current end.
func Open(dir, name string, maxBytes int64, backups int) (*Writer, error) {
	if name == "" || name != filepath.Base(name) {
		return nil, fmt.Errorf("journal name must be a bare file name: %q", name)
	}
	if backups < 0 {
		return nil, errors.New("journal backup count must be >= 0")
	}
	w := &Writer{
		path:     filepath.Join(dir, name),
		maxBytes: maxBytes,
		backups:  backups,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat journal: %w", err)
	}
	w.f = f
	w.size = info.Size()
	return nil
}

// Append serializes the record as one line and writes it to the active
// segment, rotating first if the segment would exceed the size bound.
// Rotation and append are atomic with respect to concurrent appenders.
func (w *Writer) Append(rec mirror.Record) error {
	line := formatLine(rec)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return errors.New("journal is closed")
	}
	if w.maxBytes > 0 && w.size > 0 && w.size+int64(len(line)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	n, err := w.f.WriteString(line)
	w.size += int64(n)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	w.recent = append(w.recent, rec)
	if len(w.recent) > recentCap {
		w.recent = w.recent[len(w.recent)-recentCap:]
	}
	return nil
}

// rotate shifts segment suffixes up by one and opens a fresh active segment.
// Caller holds the mutex.
func (w *Writer) rotate() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	w.f = nil

	if w.backups == 0 {
		// no backups retained: the active segment starts over
		if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("truncate journal: %w", err)
		}
		return w.open()
	}

	// oldest segment beyond the count falls off
	if err := os.Remove(w.segment(w.backups)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove oldest segment: %w", err)
	}
	for i := w.backups - 1; i >= 1; i-- {
		from, to := w.segment(i), w.segment(i+1)
		if err := os.Rename(from, to); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("shift segment %d: %w", i, err)
		}
	}
	if err := os.Rename(w.path, w.segment(1)); err != nil {
		return fmt.Errorf("retire active segment: %w", err)
	}
	return w.open()
}

func (w *Writer) segment(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

// Recent returns a copy of the most recently appended records, oldest first.
func (w *Writer) Recent() []mirror.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]mirror.Record, len(w.recent))
	copy(out, w.recent)
	return out
}

// Flush forces buffered data to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Sync()
}

// Close flushes and closes the active segment. Further appends fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Sync()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	return err
}

func formatLine(rec mirror.Record) string {
	fields := []string{
		rec.Time.Format(timeLayout),
		string(rec.Outcome),
		rec.Source,
		rec.Dest,
		rec.Reason,
	}
	return strings.Join(fields, "\t") + "\n"
}
