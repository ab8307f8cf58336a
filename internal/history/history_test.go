package history

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (r *recordingSink) Send(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// blockingSink holds every delivery until release is closed.
type blockingSink struct {
	release chan struct{}
	rec     recordingSink
}

func (b *blockingSink) Send(ctx context.Context, e Event) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.rec.Send(ctx, e)
}

func TestNewEventStampsIDAndTime(t *testing.T) {
	a := NewEvent(EventRegister, Record{Name: "web"})
	b := NewEvent(EventRegister, Record{Name: "web"})
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected unique ids, got %q and %q", a.ID, b.ID)
	}
	if a.OccurredAt.IsZero() || a.OccurredAt.Location().String() != "UTC" {
		t.Fatalf("unexpected timestamp %v", a.OccurredAt)
	}
}

func TestFanoutDeliversToAllSinks(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("unreachable")}
	f := NewFanout(nil, failing, ok)

	e := NewEvent(EventActive, Record{Name: "web", PID: 42, State: "active"})
	err := f.Send(context.Background(), e)
	if err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Fatalf("expected combined delivery error, got %v", err)
	}
	if len(ok.events) != 1 || ok.events[0].ID != e.ID {
		t.Fatalf("healthy sink did not receive the event: %+v", ok.events)
	}
	// Emit swallows delivery errors
	f.Emit(e)
	f.Flush()
	if ok.count() != 2 {
		t.Fatalf("Emit did not deliver")
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ok.closed || !failing.closed {
		t.Fatal("closers not invoked")
	}
}

func TestFanoutSetSinks(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	f := NewFanout(nil, first)
	f.SetSinks(second)
	f.Emit(NewEvent(EventReset, Record{Name: "x"}))
	f.Flush()
	if first.count() != 0 || second.count() != 1 {
		t.Fatalf("SetSinks did not replace sinks: first=%d second=%d", first.count(), second.count())
	}
}

func TestFanoutEmitDoesNotWaitForSlowSinks(t *testing.T) {
	slow := &blockingSink{release: make(chan struct{})}
	f := NewFanout(nil, slow)

	emitted := make(chan struct{})
	go func() {
		for _, typ := range []EventType{EventStart, EventActive, EventStop} {
			f.Emit(NewEvent(typ, Record{Name: "web"}))
		}
		close(emitted)
	}()
	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a slow sink")
	}
	if slow.rec.count() != 0 {
		t.Fatal("events delivered before the sink was released")
	}

	close(slow.release)
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close drains the queue in emission order
	slow.rec.mu.Lock()
	defer slow.rec.mu.Unlock()
	var got []EventType
	for _, e := range slow.rec.events {
		got = append(got, e.Type)
	}
	want := []EventType{EventStart, EventActive, EventStop}
	if len(got) != len(want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered %v, want %v", got, want)
		}
	}
}

func TestFanoutAfterClose(t *testing.T) {
	sink := &recordingSink{}
	f := NewFanout(nil, sink)
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// neither panics nor delivers
	f.Emit(NewEvent(EventReset, Record{Name: "x"}))
	f.Flush()
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if sink.count() != 0 {
		t.Fatalf("event delivered after Close")
	}
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))
	_ = s.Send(context.Background(), NewEvent(EventTerm, Record{Name: "web", PID: 7, State: "exited", Outcome: "exit status 0"}))
	_ = s.Send(context.Background(), NewEvent(EventError, Record{Name: "web", State: "inactive", Error: "boom"}))
	out := buf.String()
	for _, want := range []string{"level=INFO", "event=term", "pid=7", `outcome="exit status 0"`, "level=ERROR", "error=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
