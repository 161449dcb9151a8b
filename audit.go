package goMPin

import (
	"io"

	internalaudit "github.com/MrEthical07/goMPin/internal/audit"
)

// NoOpSink discards every event.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON document per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc = internalaudit.SinkFunc

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
