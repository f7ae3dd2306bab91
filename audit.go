package goSession

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/goSession/internal/audit"
)

// AuditEvent is one session lifecycle record. SessionDigest is the short digest of the
// session ID; raw tokens never appear in events.
type AuditEvent = audit.Event

// AuditSink receives audit events from the Manager's dispatcher goroutine.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	LogrusSink     = audit.LogrusSink
)

const (
	AuditEventSessionCreated     = audit.EventSessionCreated
	AuditEventSessionInvalidated = audit.EventSessionInvalidated
	AuditEventSessionRotated     = audit.EventSessionRotated
	AuditEventSessionExpired     = audit.EventSessionExpired
	AuditEventSessionCollision   = audit.EventSessionCollision
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

func NewLogrusSink(log logrus.FieldLogger) *LogrusSink {
	return audit.NewLogrusSink(log)
}
