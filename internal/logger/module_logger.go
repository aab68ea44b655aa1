package logger

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"
)

// trace sits below slog.LevelDebug (-4)
const traceLevelValue = slog.Level(-8)

type loggerContextKey struct{ name string }

// TraceIDKey is the context key for trace IDs. Use WithTraceID to set values.
var TraceIDKey = loggerContextKey{"trace_id"}

// WithTraceID returns a new context carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// moduleLogger is the Logger handed out by CentralLogger and NewSlogLogger.
// attrs holds the module name and every With field, already converted.
type moduleLogger struct {
	module  string
	handler slog.Handler
	level   slog.Level
	attrs   []slog.Attr
}

func newModuleLogger(module string, h slog.Handler, level slog.Level) *moduleLogger {
	m := &moduleLogger{module: module, handler: h, level: level}
	if module != "" {
		m.attrs = []slog.Attr{slog.String(moduleKey, module)}
	}
	return m
}

func (m *moduleLogger) Module(name string) Logger {
	if m.module != "" {
		name = m.module + "." + name
	}
	child := newModuleLogger(name, m.handler, m.level)
	// keep fields added through With, minus the old module attribute
	for _, a := range m.attrs {
		if a.Key != moduleKey {
			child.attrs = append(child.attrs, a)
		}
	}
	return child
}

func (m *moduleLogger) With(fields ...Field) Logger {
	attrs := slices.Clip(m.attrs)
	for _, f := range fields {
		attrs = append(attrs, fieldToAttr(f))
	}
	return &moduleLogger{module: m.module, handler: m.handler, level: m.level, attrs: attrs}
}

func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return m
	}
	id, _ := ctx.Value(TraceIDKey).(string)
	if id == "" {
		return m
	}
	return m.With(String(traceIDKey, id))
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.log(traceLevelValue, msg, fields) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.log(slog.LevelDebug, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.log(slog.LevelInfo, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.log(slog.LevelWarn, msg, fields) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.log(slog.LevelError, msg, fields) }

func (m *moduleLogger) Log(level LogLevel, msg string, fields ...Field) {
	m.log(parseSlogLevel(level), msg, fields)
}

// Flush is a no-op; file handles belong to the CentralLogger.
func (m *moduleLogger) Flush() error { return nil }

func (m *moduleLogger) log(level slog.Level, msg string, fields []Field) {
	// errors are always written
	if level < slog.LevelError && level < m.level {
		return
	}
	ctx := context.Background()
	if !m.handler.Enabled(ctx, level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.AddAttrs(m.attrs...)
	for _, f := range fields {
		r.AddAttrs(fieldToAttr(f))
	}
	_ = m.handler.Handle(ctx, r)
}

// fieldToAttr maps a Field onto the matching slog kind. Floats are rounded
// to three decimals and durations to milliseconds.
func fieldToAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case uint64:
		return slog.Uint64(f.Key, v)
	case float64:
		return slog.Float64(f.Key, math.Round(v*1000)/1000)
	case bool:
		return slog.Bool(f.Key, v)
	case time.Time:
		return slog.Time(f.Key, v)
	case time.Duration:
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "trace":
		return traceLevelValue
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
