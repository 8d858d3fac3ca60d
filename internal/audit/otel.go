package audit

import (
	"context"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// NewOTelSink returns a Sink that emits events as OTel log records via provider.
// If provider is nil, returns nil; Multi skips nil sinks.
func NewOTelSink(provider *sdklog.LoggerProvider) Sink {
	if provider == nil {
		return nil
	}
	return NewOTelSinkWithLogger(provider.Logger("refreshguard.audit"))
}

// recordEmitter is the part of otellog.Logger the sink needs.
type recordEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// NewOTelSinkWithLogger returns a Sink that emits through logger.
func NewOTelSinkWithLogger(logger recordEmitter) Sink {
	return &otelSink{logger: logger}
}

type otelSink struct {
	logger recordEmitter
}

func (s *otelSink) Write(ctx context.Context, e Event) error {
	rec := otellog.Record{}
	rec.SetTimestamp(e.At)
	rec.SetEventName(string(e.Action))
	rec.SetBody(otellog.StringValue(string(e.Action)))
	rec.SetSeverity(severityFor(e.Action))
	rec.AddAttributes(
		otellog.String("event_id", e.ID),
		otellog.String("action", string(e.Action)),
	)
	if e.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", e.UserID))
	}
	if e.Fingerprint != "" {
		rec.AddAttributes(otellog.String("fingerprint", e.Fingerprint))
	}
	if e.IP != "" {
		rec.AddAttributes(otellog.String("client_ip", e.IP))
	}
	if e.UserAgent != "" {
		rec.AddAttributes(otellog.String("user_agent", e.UserAgent))
	}
	if e.Reason != "" {
		rec.AddAttributes(otellog.String("reason", e.Reason))
	}
	if e.Count != 0 {
		rec.AddAttributes(otellog.Int64("count", e.Count))
	}
	s.logger.Emit(ctx, rec)
	return nil
}

func severityFor(a Action) otellog.Severity {
	switch a {
	case ActionReuseDetected:
		return otellog.SeverityWarn
	case ActionLoginFailed:
		return otellog.SeverityInfo2
	default:
		return otellog.SeverityInfo
	}
}
