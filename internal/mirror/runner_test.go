package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"mirrord/internal/config"
	"mirrord/internal/state"
	"mirrord/internal/watch"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Version: 1,
		Paths: config.PathsCfg{
			SourceDir: t.TempDir(),
			DestDir:   t.TempDir(),
			LogDir:    t.TempDir(),
		},
		Mirror: config.MirrorCfg{
			Extension:         ".xml",
			RetryMax:          1,
			RetryBackoffMs:    1,
			Workers:           2,
			DuplicateWindowMs: 2000,
		},
	}
}

func newTestRunner(t *testing.T, cfg *config.Config, j Journal) *Runner {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	log := zap.NewNop().Sugar()
	engine := NewEngine(log, j, EngineOptions{
		DestDir:      cfg.Paths.DestDir,
		Filter:       NewFilter(cfg.Mirror.Extension),
		RetryMax:     cfg.Mirror.RetryMax,
		RetryBackoff: time.Duration(cfg.Mirror.RetryBackoffMs) * time.Millisecond,
	})
	return NewRunner(log, cfg, engine, store)
}

func waitForFile(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
}

func TestRunnerMirrorsScanAndLiveFiles(t *testing.T) {
	cfg := testConfig(t)
	j := &memJournal{}
	r := newTestRunner(t, cfg, j)

	// present before the watcher starts: must be caught by the scan
	if err := os.WriteFile(filepath.Join(cfg.Paths.SourceDir, "pre.xml"), []byte("<pre/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitForFile(t, filepath.Join(cfg.Paths.DestDir, "pre.xml"), 5*time.Second)

	// appears while running: must be caught by the notification loop
	if err := os.WriteFile(filepath.Join(cfg.Paths.SourceDir, "live.xml"), []byte("<live/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForFile(t, filepath.Join(cfg.Paths.DestDir, "live.xml"), 5*time.Second)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not drain after cancel")
	}

	snap := r.StatusSnapshot()
	if snap.Copied < 2 {
		t.Fatalf("snapshot copied = %d, want >= 2", snap.Copied)
	}
	var copied int
	for _, rec := range j.records() {
		if rec.Outcome == OutcomeCopied {
			copied++
		}
	}
	if copied < 2 {
		t.Fatalf("journal copied records = %d, want >= 2", copied)
	}
}

func TestRunnerSuppressesDuplicateNotifications(t *testing.T) {
	cfg := testConfig(t)
	j := &memJournal{}
	r := newTestRunner(t, cfg, j)

	src := filepath.Join(cfg.Paths.SourceDir, "report.xml")
	if err := os.WriteFile(src, []byte("<report/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	r.handle(context.Background(), watch.Event{Path: src, Time: now})
	r.handle(context.Background(), watch.Event{Path: src, Time: now.Add(10 * time.Millisecond)})

	entries, err := os.ReadDir(cfg.Paths.DestDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("destination has %d files, want 1 (duplicate suppressed)", len(entries))
	}
	if r.processed.Load() != 1 {
		t.Fatalf("processed = %d, want 1", r.processed.Load())
	}
}

func TestRunnerDuplicateOutsideWindowIsCopySafe(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mirror.DuplicateWindowMs = 1
	j := &memJournal{}
	r := newTestRunner(t, cfg, j)

	src := filepath.Join(cfg.Paths.SourceDir, "report.xml")
	if err := os.WriteFile(src, []byte("<report/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	r.handle(context.Background(), watch.Event{Path: src, Time: time.Now()})
	time.Sleep(5 * time.Millisecond)
	r.handle(context.Background(), watch.Event{Path: src, Time: time.Now()})

	// the second handling resolves a fresh name instead of overwriting
	for _, name := range []string{"report.xml", "report 1.xml"} {
		if _, err := os.Stat(filepath.Join(cfg.Paths.DestDir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
}
