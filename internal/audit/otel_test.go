package audit

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
}

func TestNewOTelSink_NilProvider(t *testing.T) {
	if s := NewOTelSink(nil); s != nil {
		t.Fatalf("NewOTelSink(nil) = %v, want nil", s)
	}
}

func TestNewOTelSink_WithProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	s := NewOTelSink(provider)
	if s == nil {
		t.Fatal("NewOTelSink returned nil")
	}
	if err := s.Write(context.Background(), Event{Action: ActionSessionIssued, At: time.Now()}); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestOTelSink_AttributeMapping(t *testing.T) {
	cap := &recordCapture{}
	s := NewOTelSinkWithLogger(cap)
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	e := Event{
		ID:          "ev1",
		Action:      ActionReuseDetected,
		UserID:      "user1",
		Fingerprint: "abcdef012345",
		IP:          "198.51.100.1",
		UserAgent:   "curl/8",
		Reason:      "rotated",
		Count:       3,
		At:          at,
	}
	if err := s.Write(context.Background(), e); err != nil {
		t.Fatalf("Write: %v", err)
	}
	rec := cap.rec
	if !rec.Timestamp().Equal(at) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), at)
	}
	if rec.EventName() != "session.reuse_detected" {
		t.Errorf("event name = %q", rec.EventName())
	}
	if rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want warn", rec.Severity())
	}

	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		if kv.Value.Kind() == otellog.KindInt64 {
			if kv.Value.AsInt64() != 3 {
				t.Errorf("%s = %d", kv.Key, kv.Value.AsInt64())
			}
			return true
		}
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	want := map[string]string{
		"event_id": "ev1", "action": "session.reuse_detected", "user_id": "user1",
		"fingerprint": "abcdef012345", "client_ip": "198.51.100.1",
		"user_agent": "curl/8", "reason": "rotated",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %s = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestOTelSink_OmitsEmptyAttributes(t *testing.T) {
	cap := &recordCapture{}
	_ = NewOTelSinkWithLogger(cap).Write(context.Background(), Event{ID: "e", Action: ActionSessionRevoked})
	if n := cap.rec.AttributesLen(); n != 2 {
		t.Errorf("attributes = %d, want only event_id and action", n)
	}
}
