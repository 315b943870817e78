package identity

import (
	"io"
	"log/slog"

	"github.com/MrEthical07/identity/internal/audit"
)

// AuditEvent is a dispatched security event.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's background dispatcher.
type AuditSink = audit.Sink

// NewJSONWriterSink writes one JSON object per event to w.
func NewJSONWriterSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink writes events as structured log records.
func NewSlogSink(logger *slog.Logger) AuditSink {
	return audit.NewSlogSink(logger)
}

// NewChannelSink returns a sink and the channel it feeds.
func NewChannelSink(buffer int) (AuditSink, <-chan AuditEvent) {
	s := audit.NewChannelSink(buffer)
	return s, s.Events()
}

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink
