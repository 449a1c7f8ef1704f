package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is one candidate file observed in the source directory root.
type Event struct {
	Path string
	Time time.Time
}

// State tracks the watcher lifecycle.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

type Options struct {
	Directory          string        // absolute path to watch, root only (non-recursive)
	Debounce           time.Duration // collapse bursts within this window (0 = no debounce)
	Stabilization      time.Duration // require file size to be stable for this duration before emitting (0 = no stabilization)
	PollInterval       time.Duration // interval used for stabilization checks
	ResubscribeBackoff time.Duration // wait between attempts to re-establish a broken subscription
	OnError            func(error)   // called for notification-subsystem failures; never fatal
}

// Watcher merges a one-time scan of the directory root with continuous
// create/rename-in notifications and emits the paths on a single channel.
// Subscription failures are reported through OnError and retried
// indefinitely; the watcher only exits when its context is cancelled.
type Watcher struct {
	opts Options

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	state   atomic.Int32
}

// New creates a new Watcher for the given options.
func New(opts Options) (*Watcher, error) {
	if !filepath.IsAbs(opts.Directory) {
		return nil, errors.New("watch directory must be absolute")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	if opts.ResubscribeBackoff <= 0 {
		opts.ResubscribeBackoff = 2 * time.Second
	}
	return &Watcher{opts: opts}, nil
}

// State reports the current lifecycle state.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

// Start begins the initial scan and the notification loop and returns a
// channel of events. Cancel the provided context to stop the watcher; the
// channel is closed once everything has drained.
func (w *Watcher) Start(ctx context.Context) (<-chan Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil, errors.New("watcher already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.started = true
	w.state.Store(int32(Starting))

	out := make(chan Event, 128)
	go w.run(ctx, out)
	return out, nil
}

func (w *Watcher) run(ctx context.Context, out chan<- Event) {
	defer func() {
		close(out)
		w.state.Store(int32(Stopped))
	}()

	var wg sync.WaitGroup

	// Initial scan catches files dropped while the watcher was not running.
	// It runs concurrently with the live loop; duplicate delivery for files
	// seen by both is possible and accepted (downstream handling is
	// duplicate-safe).
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.initialScan(ctx, out)
	}()

	for {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fsw.Add(w.opts.Directory); err != nil {
				_ = fsw.Close()
			}
		}
		if err != nil {
			w.fail(fmt.Errorf("subscribe %s: %w", w.opts.Directory, err))
			if !w.sleep(ctx) {
				break
			}
			continue
		}

		w.state.Store(int32(Running))
		again := w.loop(ctx, fsw, out)
		_ = fsw.Close()
		if !again {
			break
		}
		w.fail(errors.New("notification stream closed, resubscribing"))
		if !w.sleep(ctx) {
			break
		}
	}

	w.state.Store(int32(Stopping))
	wg.Wait()
}

// loop pumps one fsnotify subscription. It returns true if the subscription
// broke and should be re-established, false on cancellation.
func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, out chan<- Event) bool {
	// pending holds last-seen time for paths to support debounce
	pending := make(map[string]time.Time)

	var debounceTick <-chan time.Time
	if w.opts.Debounce > 0 {
		t := time.NewTicker(w.opts.Debounce)
		defer t.Stop()
		debounceTick = t.C
	}

	flush := func(force bool) {
		now := time.Now()
		for p, t := range pending {
			if force || now.Sub(t) >= w.opts.Debounce {
				delete(pending, p)
				w.emitReady(ctx, out, p)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush(true)
			return false

		case ev, ok := <-fsw.Events:
			if !ok {
				flush(true)
				return true
			}
			// New files appear as Create; files moved into the directory
			// appear as Rename on some platforms and Create on others.
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			path := ev.Name
			// Only regular files in the watched root qualify; the watch is
			// non-recursive so subdirectory entries never show up, but a
			// directory can itself be created or moved in.
			if info, err := os.Lstat(path); err != nil || !info.Mode().IsRegular() {
				continue
			}
			if w.opts.Debounce > 0 {
				pending[path] = time.Now()
			} else {
				w.emitReady(ctx, out, path)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				flush(true)
				return true
			}
			w.fail(fmt.Errorf("notification: %w", err))

		case <-debounceTick:
			flush(false)
		}
	}
}

func (w *Watcher) initialScan(ctx context.Context, out chan<- Event) {
	for {
		entries, err := os.ReadDir(w.opts.Directory)
		if err == nil {
			for _, e := range entries {
				if ctx.Err() != nil {
					return
				}
				if e.IsDir() {
					continue
				}
				w.emitReady(ctx, out, filepath.Join(w.opts.Directory, e.Name()))
			}
			return
		}
		// The directory may be momentarily unavailable (remounted share);
		// keep trying, startup files must not be lost.
		w.fail(fmt.Errorf("initial scan: %w", err))
		if !w.sleep(ctx) {
			return
		}
	}
}

// emitReady optionally waits for the file size to hold still before emitting,
// so producers that write in place get a chance to finish.
func (w *Watcher) emitReady(ctx context.Context, out chan<- Event, path string) {
	if w.opts.Stabilization <= 0 {
		select {
		case out <- Event{Path: path, Time: time.Now()}:
		case <-ctx.Done():
		}
		return
	}

	firstSize := int64(-1)
	lastChange := time.Now()
	deadline := time.Now().Add(10 * time.Minute) // safety cap to avoid infinite wait

	for {
		if ctx.Err() != nil {
			return
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() {
			// File may have been moved/removed; abort silently
			return
		}
		now := time.Now()
		if firstSize == -1 || info.Size() != firstSize {
			firstSize = info.Size()
			lastChange = now
		}
		if now.Sub(lastChange) >= w.opts.Stabilization || now.After(deadline) {
			select {
			case out <- Event{Path: path, Time: time.Now()}:
			case <-ctx.Done():
			}
			return
		}
		time.Sleep(w.opts.PollInterval)
	}
}

func (w *Watcher) fail(err error) {
	if w.opts.OnError != nil {
		w.opts.OnError(err)
	}
}

// sleep waits one resubscribe backoff; false means the context was cancelled.
func (w *Watcher) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.opts.ResubscribeBackoff):
		return true
	}
}

// Close stops the watcher if running.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.state.Store(int32(Stopping))
		w.cancel()
	}
}
