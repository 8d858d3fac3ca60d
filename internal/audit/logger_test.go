package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// captureSink stores events for assertion.
type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *captureSink) Write(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func (c *captureSink) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestLogger_Record_FillsDefaults(t *testing.T) {
	sink := &captureSink{}
	logger := NewLogger(sink)
	fp := strings.Repeat("ab", 32)

	logger.Record(context.Background(), Event{Action: ActionSessionIssued, UserID: "u1", Fingerprint: fp})

	events := sink.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.ID == "" {
		t.Error("ID should be generated")
	}
	if e.At.IsZero() {
		t.Error("At should be set")
	}
	if e.Fingerprint != fp[:12] {
		t.Errorf("fingerprint = %q, want truncated %q", e.Fingerprint, fp[:12])
	}
}

func TestLogger_Record_KeepsExplicitFields(t *testing.T) {
	sink := &captureSink{}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	NewLogger(sink).Record(context.Background(), Event{ID: "fixed", Action: ActionSessionRevoked, At: at})
	e := sink.snapshot()[0]
	if e.ID != "fixed" || !e.At.Equal(at) {
		t.Errorf("explicit fields overwritten: %+v", e)
	}
}

func TestLogger_Record_SinkErrorIsSwallowed(t *testing.T) {
	sink := &captureSink{err: errors.New("boom")}
	NewLogger(sink).Record(context.Background(), Event{Action: ActionLoginFailed})
	if len(sink.snapshot()) != 1 {
		t.Fatal("sink should still be called")
	}
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	l.Record(context.Background(), Event{Action: ActionSessionIssued})
	NewLogger(nil).Record(context.Background(), Event{Action: ActionSessionIssued})
	Nop.Record(context.Background(), Event{Action: ActionSessionIssued})
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{err: errors.New("b failed")}
	m := Multi(a, nil, b)

	err := m.Write(context.Background(), Event{Action: ActionSessionRotated})
	if err == nil || !strings.Contains(err.Error(), "b failed") {
		t.Fatalf("Write error = %v, want joined b failure", err)
	}
	if len(a.snapshot()) != 1 || len(b.snapshot()) != 1 {
		t.Fatal("every sink should receive the event")
	}
}

func TestAsync_WritesInBackground(t *testing.T) {
	done := make(chan Event, 1)
	sink := sinkFunc(func(ctx context.Context, e Event) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("async write should carry a deadline")
		}
		done <- e
		return nil
	})
	if err := Async(sink, time.Second).Write(context.Background(), Event{Action: ActionSessionRevokedAll}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case e := <-done:
		if e.Action != ActionSessionRevokedAll {
			t.Errorf("action = %q", e.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("async sink never wrote")
	}
}

type sinkFunc func(context.Context, Event) error

func (f sinkFunc) Write(ctx context.Context, e Event) error { return f(ctx, e) }

// closingSink blocks each write until release is closed and counts Close calls.
type closingSink struct {
	release     chan struct{}
	mu          sync.Mutex
	written     int
	closes      int
	closedAfter int
}

func (c *closingSink) Write(ctx context.Context, _ Event) error {
	select {
	case <-c.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	c.written++
	c.mu.Unlock()
	return nil
}

func (c *closingSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.closedAfter = c.written
	return nil
}

func TestAsync_CloseDrainsPendingWrites(t *testing.T) {
	inner := &closingSink{release: make(chan struct{})}
	a := Async(inner, 5*time.Second)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := a.Write(ctx, Event{Action: ActionSessionIssued}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	closed := make(chan error, 1)
	go func() { closed <- a.Close() }()
	select {
	case <-closed:
		t.Fatal("Close returned while writes were still pending")
	case <-time.After(50 * time.Millisecond):
	}

	close(inner.release)
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close never returned")
	}
	if inner.closedAfter != 3 {
		t.Errorf("wrapped sink closed after %d writes, want 3", inner.closedAfter)
	}

	if err := a.Write(ctx, Event{Action: ActionSessionIssued}); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Write after Close = %v, want ErrSinkClosed", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if inner.closes != 1 {
		t.Errorf("wrapped Close called %d times, want 1", inner.closes)
	}
}
