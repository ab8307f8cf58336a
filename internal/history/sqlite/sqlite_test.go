package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loykin/legion/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	events := []history.Event{
		history.NewEvent(history.EventStart, history.Record{Name: "web", State: "starting"}),
		history.NewEvent(history.EventActive, history.Record{Name: "web", PID: 4242, State: "active"}),
		history.NewEvent(history.EventTerm, history.Record{Name: "web", PID: 4242, State: "exited", Outcome: "exit status 0"}),
		history.NewEvent(history.EventError, history.Record{Name: "db", State: "inactive", Error: "startup timed out"}),
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	n, err := sink.Count(ctx, "web")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 events for web, got %d", n)
	}

	var outcome string
	err = sink.db.QueryRowContext(ctx, `SELECT outcome FROM daemon_events WHERE event = 'term'`).Scan(&outcome)
	if err != nil || outcome != "exit status 0" {
		t.Errorf("term outcome = %q, err = %v", outcome, err)
	}
}

func TestSQLiteSink_MemoryAndReopen(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = sink.Close() }()
	// schema creation is idempotent
	if err := sink.ensureSchema(context.Background()); err != nil {
		t.Fatalf("ensureSchema twice: %v", err)
	}
	if err := sink.Send(context.Background(), history.NewEvent(history.EventRegister, history.Record{Name: "a", State: "inactive"})); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n, _ := sink.Count(context.Background(), "a"); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
