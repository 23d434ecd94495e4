package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "crucible.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	s := newSQLite(t)
	// Distinct timestamps keep newest-first ordering deterministic.
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	var tick int
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	exerciseStore(t, s)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	sheet := &Sheet{Name: "persisted", Channels: []ChannelInput{testChannel()}}
	if err := s.CreateSheet(context.Background(), sheet); err != nil {
		t.Fatalf("CreateSheet failed: %v", err)
	}
	s.Close()

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	got, err := s2.GetSheet(context.Background(), sheet.ID)
	if err != nil || got == nil {
		t.Fatalf("expected sheet after reopen, got %v, %v", got, err)
	}
	if !got.CreatedAt.Equal(sheet.CreatedAt) {
		t.Errorf("created_at changed across reopen: %v vs %v", got.CreatedAt, sheet.CreatedAt)
	}
}

func TestSQLiteTimeFormatSorts(t *testing.T) {
	a := formatTime(time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC))
	b := formatTime(time.Date(2026, 1, 1, 0, 0, 5, 500, time.UTC))
	if !(a < b) {
		t.Errorf("expected %q < %q", a, b)
	}
	back, err := parseTime(b)
	if err != nil || back.Nanosecond() != 500 {
		t.Errorf("round trip lost precision: %v %v", back, err)
	}
}
