package mirror

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mirrord/internal/config"
	"mirrord/internal/state"
	"mirrord/internal/watch"
)

// StateStore is the durable per-path event trace the runner consults before
// dispatching to the engine.
type StateStore interface {
	Get(path string) (*state.EventRecord, error)
	Mark(path string, status state.Status, dest, lastErr string) error
}

// Runner owns the watcher lifecycle and the worker pool that feeds events
// into the engine. It is the run-until-cancelled entry point the service
// supervisor invokes.
type Runner struct {
	log    diagLogger
	cfg    *config.Config
	engine *Engine
	store  StateStore

	watcherMu sync.Mutex
	watcher   *watch.Watcher

	startedAt time.Time
	processed atomic.Uint64
	copied    atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
}

func NewRunner(log diagLogger, cfg *config.Config, engine *Engine, store StateStore) *Runner {
	return &Runner{log: log, cfg: cfg, engine: engine, store: store}
}

// Run blocks until ctx is cancelled. On cancellation it stops accepting new
// events, lets in-flight copies finish, and returns once the workers have
// drained. Startup errors are the only errors it returns.
func (r *Runner) Run(ctx context.Context) error {
	w, err := watch.New(watch.Options{
		Directory:     r.cfg.Paths.SourceDir,
		Debounce:      time.Duration(r.cfg.Mirror.DebounceMs) * time.Millisecond,
		Stabilization: time.Duration(r.cfg.Mirror.StabilizationMs) * time.Millisecond,
		OnError:       r.onWatchError,
	})
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	events, err := w.Start(ctx)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	r.watcherMu.Lock()
	r.watcher = w
	r.startedAt = time.Now()
	r.watcherMu.Unlock()

	workers := r.cfg.Mirror.Workers
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	workCh := make(chan watch.Event, 256)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range workCh {
				r.handle(ctx, ev)
			}
		}()
	}

	censusDone := make(chan struct{})
	if interval := time.Duration(r.cfg.Mirror.CensusIntervalSec) * time.Second; interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				select {
				case <-censusDone:
					return
				case <-t.C:
					r.logCensus()
				}
			}
		}()
	}

	r.log.Infow("mirror started",
		"source", r.cfg.Paths.SourceDir,
		"dest", r.cfg.Paths.DestDir,
		"extension", r.cfg.Mirror.Extension,
		"workers", r.cfg.Mirror.Workers)

	// Event pump. On cancellation we stop pulling immediately; whatever the
	// workers already picked up runs to completion (no mid-copy abort).
pump:
	for {
		select {
		case <-ctx.Done():
			break pump
		case ev, ok := <-events:
			if !ok {
				break pump
			}
			workCh <- ev
		}
	}
	close(workCh)
	close(censusDone)
	wg.Wait()

	r.log.Infow("mirror stopped",
		"processed", r.processed.Load(),
		"copied", r.copied.Load(),
		"failed", r.failed.Load())
	return nil
}

func (r *Runner) handle(ctx context.Context, ev watch.Event) {
	if window := time.Duration(r.cfg.Mirror.DuplicateWindowMs) * time.Millisecond; window > 0 {
		// Notification delivery is at-least-once: the initial scan and a
		// live create can both surface the same path, and some platforms
		// fire repeated creates. A recently handled path is dropped here;
		// anything that slips through is still copy-safe via collision
		// resolution.
		if rec, err := r.store.Get(ev.Path); err == nil && rec != nil && ev.Time.Sub(rec.UpdatedAt) < window {
			r.log.Debugw("duplicate notification suppressed", "path", ev.Path)
			return
		}
	}

	_ = r.store.Mark(ev.Path, state.StatusProcessing, "", "")
	rec := r.engine.Handle(ctx, ev)
	r.processed.Add(1)
	switch rec.Outcome {
	case OutcomeCopied:
		r.copied.Add(1)
		_ = r.store.Mark(ev.Path, state.StatusDone, rec.Dest, "")
	case OutcomeSkipped:
		r.skipped.Add(1)
		_ = r.store.Mark(ev.Path, state.StatusDone, "", rec.Reason)
	case OutcomeFailed:
		r.failed.Add(1)
		_ = r.store.Mark(ev.Path, state.StatusFailed, "", rec.Reason)
	}
}

func (r *Runner) onWatchError(err error) {
	r.log.Warnw("watch subsystem error", "error", err)
	r.engine.ReportFailure("", fmt.Sprintf("watcher: %v", err))
}

func (r *Runner) logCensus() {
	src, err := ListWindowsStyle(r.cfg.Paths.SourceDir, r.cfg.Mirror.Extension)
	if err != nil {
		r.log.Warnw("census: list source failed", "error", err)
		return
	}
	dst, err := ListWindowsStyle(r.cfg.Paths.DestDir, r.cfg.Mirror.Extension)
	if err != nil {
		r.log.Warnw("census: list dest failed", "error", err)
		return
	}
	r.log.Infow("census",
		"sourceCount", len(src), "destCount", len(dst),
		"sourceFiles", src, "destFiles", dst)
}

// Snapshot is the operator-facing status view served by the API.
type Snapshot struct {
	State     string    `json:"state"`
	Source    string    `json:"source"`
	Dest      string    `json:"dest"`
	Extension string    `json:"extension"`
	StartedAt time.Time `json:"startedAt,omitzero"`
	Processed uint64    `json:"processed"`
	Copied    uint64    `json:"copied"`
	Skipped   uint64    `json:"skipped"`
	Failed    uint64    `json:"failed"`
}

func (r *Runner) StatusSnapshot() Snapshot {
	r.watcherMu.Lock()
	w := r.watcher
	started := r.startedAt
	r.watcherMu.Unlock()

	st := watch.Stopped
	if w != nil {
		st = w.State()
	}
	return Snapshot{
		State:     st.String(),
		Source:    r.cfg.Paths.SourceDir,
		Dest:      r.cfg.Paths.DestDir,
		Extension: r.cfg.Mirror.Extension,
		StartedAt: started,
		Processed: r.processed.Load(),
		Copied:    r.copied.Load(),
		Skipped:   r.skipped.Load(),
		Failed:    r.failed.Load(),
	}
}
