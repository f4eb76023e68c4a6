package logging

import (
	"encoding/json"
	"time"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var bufferPool = buffer.NewPool()

// ScalyrEncoder is a custom Zap encoder that outputs Scalyr-compatible flat JSON
type ScalyrEncoder struct {
	*zapcore.MapObjectEncoder
	config zapcore.EncoderConfig
}

// NewScalyrEncoder creates a new Scalyr-compatible encoder
func NewScalyrEncoder(config zapcore.EncoderConfig) zapcore.Encoder {
	return &ScalyrEncoder{
		MapObjectEncoder: zapcore.NewMapObjectEncoder(),
		config:           config,
	}
}

// EncodeEntry encodes a log entry in Scalyr-compatible format.
// Fields added through With() are carried in the embedded map encoder.
func (e *ScalyrEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	enc := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		enc.Fields[k] = v
	}
	for _, field := range fields {
		field.AddTo(enc)
	}

	logObj := enc.Fields
	logObj["timestamp"] = entry.Time.UTC().Format(time.RFC3339Nano)
	logObj["level"] = entry.Level.String()
	logObj["message"] = entry.Message
	if entry.LoggerName != "" {
		logObj["logger"] = entry.LoggerName
	}

	// Add caller information if available
	if entry.Caller.Defined {
		logObj["file"] = entry.Caller.TrimmedPath()
		logObj["line"] = entry.Caller.Line
		logObj["function"] = entry.Caller.Function
	}

	// Add stack trace if available
	if entry.Stack != "" {
		logObj["stack"] = entry.Stack
	}

	data, err := json.Marshal(logObj)
	if err != nil {
		return nil, err
	}

	buf := bufferPool.Get()
	buf.AppendBytes(data)
	if e.config.LineEnding != "" {
		buf.AppendString(e.config.LineEnding)
	} else {
		buf.AppendString(zapcore.DefaultLineEnding)
	}
	return buf, nil
}

// Clone creates a copy of the encoder, including context fields
func (e *ScalyrEncoder) Clone() zapcore.Encoder {
	clone := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		clone.Fields[k] = v
	}
	return &ScalyrEncoder{
		MapObjectEncoder: clone,
		config:           e.config,
	}
}
