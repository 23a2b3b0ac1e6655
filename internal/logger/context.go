package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext carries the identity of the rank that is logging.
type LogContext struct {
	TraceID   string
	SpanID    string
	Rank      int    // rank in the compute communicator
	IOTask    int    // rank in the I/O communicator, -1 if not an I/O task
	File      string // dataset name, empty outside file operations
	StartTime time.Time
}

// NewLogContext returns a LogContext for a compute rank that is not an I/O task.
func NewLogContext(rank int) *LogContext {
	return &LogContext{Rank: rank, IOTask: -1, StartTime: time.Now()}
}

// WithContext attaches lc to ctx.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext returns the LogContext in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// Clone returns a copy of lc.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithIOTask returns a copy with the I/O rank set.
func (lc *LogContext) WithIOTask(ioRank int) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.IOTask = ioRank
	}
	return c
}

// WithFile returns a copy bound to a dataset.
func (lc *LogContext) WithFile(name string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.File = name
	}
	return c
}

// WithTrace returns a copy with trace identifiers set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns the milliseconds elapsed since StartTime.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}
