package audit

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"refreshguard/internal/security"
)

// Recorder records audit events. Record is best-effort: failures are logged
// and never reach the caller.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Sink delivers a completed event somewhere durable.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Nop discards every event.
var Nop Recorder = nopRecorder{}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) {}

// Logger implements Recorder on top of a Sink.
type Logger struct {
	sink Sink
	now  func() time.Time
}

// NewLogger returns a Logger writing to sink. A nil sink yields a Logger that drops events.
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink, now: func() time.Time { return time.Now().UTC() }}
}

// Record fills in ID and timestamp, truncates the fingerprint and writes the event.
func (l *Logger) Record(ctx context.Context, e Event) {
	if l == nil || l.sink == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At.IsZero() {
		e.At = l.now()
	}
	e.Fingerprint = security.ShortFingerprint(e.Fingerprint)
	if err := l.sink.Write(ctx, e); err != nil {
		log.Printf("audit: failed to record %s for user %q: %v", e.Action, e.UserID, err)
	}
}

type multiSink []Sink

// Multi fans an event out to every non-nil sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Write(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrSinkClosed is returned by AsyncSink.Write after Close.
var ErrSinkClosed = errors.New("audit sink closed")

// AsyncSink writes events in background goroutines so slow sinks do not block
// the request path. Close waits for in-flight writes before closing the
// wrapped sink.
type AsyncSink struct {
	sink    Sink
	timeout time.Duration

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	once     sync.Once
	closeErr error
}

// Async wraps sink so each write runs in its own goroutine bounded by timeout.
// Errors are logged.
func Async(sink Sink, timeout time.Duration) *AsyncSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncSink{sink: sink, timeout: timeout}
}

// Write schedules e and returns immediately.
func (a *AsyncSink) Write(_ context.Context, e Event) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrSinkClosed
	}
	a.inflight.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.sink.Write(ctx, e); err != nil {
			log.Printf("audit: async write %s failed: %v", e.Action, err)
		}
	}()
	return nil
}

// Close stops accepting events, waits for pending writes and then closes the
// wrapped sink if it is an io.Closer. Later calls return the first result.
func (a *AsyncSink) Close() error {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		a.inflight.Wait()
		if c, ok := a.sink.(io.Closer); ok {
			a.closeErr = c.Close()
		}
	})
	return a.closeErr
}
