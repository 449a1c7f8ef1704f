package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mirrord/internal/mirror"
)

func rec(outcome mirror.Outcome, src, dest, reason string) mirror.Record {
	return mirror.Record{
		Time:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local),
		Outcome: outcome,
		Source:  src,
		Dest:    dest,
		Reason:  reason,
	}
}

func TestAppendLineFormat(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "backup.log", 1<<20, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Append(rec(mirror.OutcomeCopied, "report.xml", "report 1.xml", "")); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(rec(mirror.OutcomeFailed, "bad.xml", "", "permission denied")); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "backup.log"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	fields := strings.Split(lines[0], "\t")
	if len(fields) != 5 {
		t.Fatalf("got %d fields, want 5: %q", len(fields), lines[0])
	}
	if fields[0] != "2024-05-01 12:00:00" || fields[1] != "COPIED" ||
		fields[2] != "report.xml" || fields[3] != "report 1.xml" || fields[4] != "" {
		t.Fatalf("unexpected line: %q", lines[0])
	}
	fields = strings.Split(lines[1], "\t")
	if fields[1] != "FAILED" || fields[3] != "" || fields[4] != "permission denied" {
		t.Fatalf("unexpected line: %q", lines[1])
	}
}

func TestRotationBoundsSegments(t *testing.T) {
	dir := t.TempDir()
	const backups = 2
	w, err := Open(dir, "backup.log", 200, backups)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	for i := 0; i < 50; i++ {
		if err := w.Append(rec(mirror.OutcomeCopied, "a-long-source-name.xml", "a-long-source-name 1.xml", "")); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) > 1+backups {
		t.Fatalf("got %d segments, want at most %d", len(entries), 1+backups)
	}
	for _, want := range []string{"backup.log", "backup.log.1", "backup.log.2"} {
		if _, err := os.Stat(filepath.Join(dir, want)); err != nil {
			t.Fatalf("expected segment %s: %v", want, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "backup.log.3")); !os.IsNotExist(err) {
		t.Fatalf("segment beyond backup count survived rotation: %v", err)
	}
}

func TestRotationShiftsNewestToOne(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "backup.log", 60, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	// each line is ~40 bytes; the second append trips rotation
	if err := w.Append(rec(mirror.OutcomeCopied, "first.xml", "first.xml", "")); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(rec(mirror.OutcomeCopied, "second.xml", "second.xml", "")); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "backup.log.1"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "first.xml") {
		t.Fatalf("segment .1 should hold the retired active segment, got %q", b)
	}
	b, err = os.ReadFile(filepath.Join(dir, "backup.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "second.xml") {
		t.Fatalf("active segment should hold the newest record, got %q", b)
	}
}

func TestZeroBackupsTruncates(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "backup.log", 60, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	for i := 0; i < 10; i++ {
		if err := w.Append(rec(mirror.OutcomeCopied, "file.xml", "file.xml", "")); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "backup.log" {
		t.Fatalf("expected only the active segment, got %v", entries)
	}
}

func TestRecentKeepsTail(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "backup.log", 1<<20, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Append(rec(mirror.OutcomeCopied, "a.xml", "a.xml", "")); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(rec(mirror.OutcomeFailed, "b.xml", "", "boom")); err != nil {
		t.Fatal(err)
	}
	recent := w.Recent()
	if len(recent) != 2 || recent[0].Source != "a.xml" || recent[1].Source != "b.xml" {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "backup.log", 1<<20, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(rec(mirror.OutcomeCopied, "a.xml", "a.xml", "")); err == nil {
		t.Fatal("append after close should fail")
	}
}
