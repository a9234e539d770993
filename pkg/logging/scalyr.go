package logging

import (
	"encoding/json"
	"time"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var scalyrPool = buffer.NewPool()

// ScalyrEncoder outputs one flat Scalyr-compatible JSON object per entry.
// Fields added through With are kept in an accumulated map so child loggers
// carry their context.
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

// Clone copies the accumulated context.
func (e *ScalyrEncoder) Clone() zapcore.Encoder {
	clone := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		clone.Fields[k] = v
	}
	return &ScalyrEncoder{MapObjectEncoder: clone, config: e.config}
}

// EncodeEntry encodes a log entry in Scalyr-compatible format
func (e *ScalyrEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	obj := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		obj.Fields[k] = v
	}
	for _, f := range fields {
		f.AddTo(obj)
	}

	for k, v := range obj.Fields {
		switch val := v.(type) {
		case time.Duration:
			obj.Fields[k] = val.String()
		case time.Time:
			obj.Fields[k] = val.Format(time.RFC3339Nano)
		}
	}

	obj.Fields["timestamp"] = entry.Time.Format(time.RFC3339Nano)
	obj.Fields["level"] = entry.Level.String()
	obj.Fields["message"] = entry.Message
	if entry.LoggerName != "" {
		obj.Fields["logger"] = entry.LoggerName
	}
	if entry.Caller.Defined {
		obj.Fields["file"] = entry.Caller.TrimmedPath()
		obj.Fields["line"] = entry.Caller.Line
		obj.Fields["function"] = entry.Caller.Function
	}
	if entry.Stack != "" {
		obj.Fields["stack"] = entry.Stack
	}

	data, err := json.Marshal(obj.Fields)
	if err != nil {
		return nil, err
	}

	buf := scalyrPool.Get()
	buf.AppendBytes(data)
	buf.AppendString(zapcore.DefaultLineEnding)
	return buf, nil
}
