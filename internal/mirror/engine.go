package mirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mirrord/internal/watch"
)

// diagLogger is the minimal surface we use from zap.SugaredLogger.
type diagLogger interface {
	Infow(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
	Debugw(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
}

type EngineOptions struct {
	DestDir      string
	Filter       Filter
	RetryMax     int           // additional attempts after the first failure
	RetryBackoff time.Duration // wait between attempts
	LogFiltered  bool          // journal a SKIPPED record for filtered files
}

// Engine turns one detected file event into one copy decision: filter,
// bounded-retry read, collision resolution, temp-file copy, atomic rename,
// journal record. Each file is independent; a failure never propagates
// beyond its own record.
type Engine struct {
	log     diagLogger
	journal Journal
	opts    EngineOptions

	// commitMu serializes collision resolution with the rename that claims
	// the resolved name; without it two workers copying same-stem files
	// could resolve to the same destination.
	commitMu sync.Mutex
}

func NewEngine(log diagLogger, journal Journal, opts EngineOptions) *Engine {
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	return &Engine{log: log, journal: journal, opts: opts}
}

// Handle processes one event and returns the record describing the outcome.
// Handling the same physical file twice is safe: collision resolution always
// yields a fresh destination name, so a re-copy never overwrites a prior one.
func (e *Engine) Handle(ctx context.Context, ev watch.Event) Record {
	name := filepath.Base(ev.Path)

	if !e.opts.Filter.Accepts(name) {
		rec := Record{Time: time.Now(), Outcome: OutcomeSkipped, Source: name, Reason: "filtered"}
		e.log.Debugw("file filtered", "file", name)
		if e.opts.LogFiltered {
			e.append(rec)
		}
		return rec
	}

	dest, err := e.copyWithRetry(ctx, ev.Path)
	if err != nil {
		rec := Record{Time: time.Now(), Outcome: OutcomeFailed, Source: name, Reason: err.Error()}
		e.append(rec)
		e.log.Errorw("copy failed", "file", name, "error", err)
		return rec
	}

	rec := Record{Time: time.Now(), Outcome: OutcomeCopied, Source: name, Dest: dest}
	e.append(rec)
	e.log.Infow("file copied", "file", name, "dest", dest)
	return rec
}

// ReportFailure journals a failure that did not originate from a single
// copy attempt, e.g. a notification-subsystem error.
func (e *Engine) ReportFailure(source, reason string) {
	e.append(Record{Time: time.Now(), Outcome: OutcomeFailed, Source: source, Reason: reason})
}

func (e *Engine) append(rec Record) {
	if err := e.journal.Append(rec); err != nil {
		e.log.Errorw("journal append failed", "record", rec, "error", err)
	}
}

// copyWithRetry retries the whole copy a bounded number of times. A source
// that is locked, still empty, or vanished between detection and open is
// expected to settle; whatever error remains after the last attempt is
// treated as permanent for this event only.
func (e *Engine) copyWithRetry(ctx context.Context, src string) (string, error) {
	var attempt int
	for {
		dest, err := e.copyOnce(src)
		if err == nil {
			return dest, nil
		}
		if attempt >= e.opts.RetryMax {
			return "", err
		}
		attempt++
		e.log.Warnw("copy attempt failed, will retry",
			"file", filepath.Base(src), "attempt", attempt, "max", e.opts.RetryMax, "error", err)
		select {
		case <-ctx.Done():
			return "", err
		case <-time.After(e.opts.RetryBackoff):
		}
	}
}

func (e *Engine) copyOnce(src string) (destName string, err error) {
	info, err := os.Lstat(src)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("source is not a regular file: %s", src)
	}
	if info.Size() == 0 {
		// producers create the file before finishing the write
		return "", fmt.Errorf("source still empty: %s", src)
	}

	sf, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer sf.Close()

	base := filepath.Base(src)
	tmp, err := os.CreateTemp(e.opts.DestDir, "."+base+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		// best-effort cleanup of temp on failure
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmp, sf); err != nil {
		return "", fmt.Errorf("copy: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync temp: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp: %w", err)
	}

	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	destName, err = Resolve(base, e.destExists)
	if err != nil {
		return "", err
	}
	if err = os.Rename(tmpPath, filepath.Join(e.opts.DestDir, destName)); err != nil {
		return "", fmt.Errorf("rename temp: %w", err)
	}
	return destName, nil
}

func (e *Engine) destExists(name string) (bool, error) {
	_, err := os.Lstat(filepath.Join(e.opts.DestDir, name))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}
