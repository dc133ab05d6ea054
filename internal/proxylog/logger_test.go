package proxylog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogfFormatAndLevelFilter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.log")

	l, err := New(path, 1<<20, 2, Info)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.now = func() time.Time { return time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC) }
	defer l.Close()

	l.Debugf("conn-1", "frame len=%d", 12) // filtered: below Info
	l.Infof("conn-1", "stray_response tid=%d", 7)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)
	if strings.Contains(text, "frame len=12") {
		t.Errorf("debug record was not filtered out: %q", text)
	}
	if !strings.Contains(text, "2026-07-31 10:00:00.000 INFO [conn-1] stray_response tid=7") {
		t.Errorf("unexpected record format: %q", text)
	}
}

func TestRotationKeepsLiveFileSmall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.log")

	l, err := New(path, 64, 2, Debug)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.now = func() time.Time { return time.Now() }
	defer l.Close()

	for i := 0; i < 20; i++ {
		l.Infof("conn-1", "stray_response tid=%d padding-padding-padding", i)
	}
	l.mu.Lock()
	size := l.size
	l.mu.Unlock()
	if size >= 64 {
		t.Errorf("live file size = %d, want < maxBytes after rotation", size)
	}
}
