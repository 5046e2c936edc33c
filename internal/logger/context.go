package logger

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Field keys shared by every component that logs about an execution.
const (
	KeyExecutionID = "execution_id"
	KeyScraperID   = "scraper_id"
	KeyJobID       = "job_id"
	KeyRoutine     = "routine"
)

type ctxKey struct{}

// WithContext returns a copy of ctx carrying l.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger carried by ctx. Without one it returns a
// shared warn-level stderr logger, so nothing logged through it is lost.
//
// HTTP handlers get a request logger from the middleware. Routines get the
// execution logger installed by WithExecution.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return fallbackLogger()
}

// Execution identifies the run a log line belongs to. JobID is nil for
// manual invocations.
type Execution struct {
	ID        int64
	ScraperID int64
	JobID     *int64
	Routine   string
}

// Fields returns the execution identity as log fields.
func (e Execution) Fields() []Field {
	fields := []Field{
		Int64(KeyExecutionID, e.ID),
		Int64(KeyScraperID, e.ScraperID),
	}
	if e.JobID != nil {
		fields = append(fields, Int64(KeyJobID, *e.JobID))
	}
	if e.Routine != "" {
		fields = append(fields, String(KeyRoutine, e.Routine))
	}
	return fields
}

// WithExecution derives a logger from base tagged with the execution
// identity and stores it in the returned context. A nil base falls back to
// the logger already carried by ctx.
func WithExecution(ctx context.Context, base Logger, exec Execution) (context.Context, Logger) {
	if base == nil {
		base = FromContext(ctx)
	}
	l := base.With(exec.Fields()...)
	return WithContext(ctx, l), l
}

var (
	fallbackLog  Logger
	fallbackOnce sync.Once
)

func fallbackLogger() Logger {
	fallbackOnce.Do(func() {
		l, err := New(Config{Level: "warn", OutputPaths: []string{"stderr"}})
		if err != nil {
			fmt.Fprintf(os.Stderr, "CRITICAL: failed to create fallback logger: %v\n", err)
			l = NewNop()
		}
		fallbackLog = l
	})
	return fallbackLog
}
