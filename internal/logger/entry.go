package logger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry is one log line's metric fields: how long a search, liveness pass or
// provider call took, which path answered and what the outcome was. The
// logger itself comes from ctx, so request, search and pass ids ride along.
type Entry struct {
	fields Fields
}

// With starts an Entry with the given fields.
func With(fields Fields) *Entry {
	e := &Entry{fields: make(Fields, len(fields))}
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

// Timed starts an Entry whose duration_ms is measured from start.
func Timed(start time.Time) *Entry {
	return With(Fields{FieldDurationMs: time.Since(start).Milliseconds()})
}

func (e *Entry) with(key string, value interface{}) *Entry {
	fields := make(Fields, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Entry{fields: fields}
}

// Path records the search step that answered: local, cache, provider or miss.
func (e *Entry) Path(path string) *Entry {
	return e.with(FieldPath, path)
}

// Result records an outcome label such as created, duplicate, hit or dead.
func (e *Entry) Result(result string) *Entry {
	return e.with(FieldResult, result)
}

// Count records how many rows or items an operation covered.
func (e *Entry) Count(n int64) *Entry {
	return e.with(FieldCount, n)
}

// HTTP records the status and body size of a served request.
func (e *Entry) HTTP(status, size int) *Entry {
	return e.with(FieldStatus, status).with(FieldSize, size)
}

func (e *Entry) log(ctx context.Context, level logrus.Level, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Logf(level, format, args...)
}

func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.DebugLevel, format, args...)
}

func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.InfoLevel, format, args...)
}

func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.WarnLevel, format, args...)
}
