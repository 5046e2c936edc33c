package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/scraparr/internal/domain"
	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
)

// Level is a routine log level as written into execution logs.
type Level string

// Log levels.
const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// liveExecution is the in-memory state of a running execution.
type liveExecution struct {
	id        int64
	routine   string
	startedAt time.Time
	buffer    *lineBuffer

	mu          sync.Mutex
	pending     []string
	progress    domain.Progress
	hasProgress bool
}

func (l *liveExecution) drain() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	text := strings.Join(l.pending, "")
	l.pending = nil
	return text
}

// Sink captures routine log lines for one execution. Lines are visible
// immediately through the tracker and persisted every flushLines lines.
type Sink struct {
	tracker *Tracker
	live    *liveExecution
}

// ExecutionID returns the execution the sink writes to.
func (s *Sink) ExecutionID() int64 {
	return s.live.id
}

// Log records one line. Flush failures are logged, never returned to the routine.
func (s *Sink) Log(ctx context.Context, level Level, msg string) {
	line := fmt.Sprintf("[%s] [%s] %s\n", s.tracker.now().UTC().Format(time.RFC3339), level, msg)
	s.live.buffer.Write(line)

	s.live.mu.Lock()
	defer s.live.mu.Unlock()

	s.live.pending = append(s.live.pending, line)
	if len(s.live.pending) < s.tracker.flushLines {
		return
	}

	text := strings.Join(s.live.pending, "")
	s.live.pending = nil

	// Lock is held across the write so flushed chunks keep their order.
	if _, err := s.tracker.repo.AppendLogs(ctx, s.live.id, text); err != nil {
		s.tracker.logger.Warn("Failed to flush execution logs",
			logger.Int64("execution_id", s.live.id),
			logger.Error(err),
		)
	}
}

// ReportProgress records the latest progress of the execution.
func (s *Sink) ReportProgress(items int, message string) {
	s.live.mu.Lock()
	defer s.live.mu.Unlock()

	s.live.progress = domain.Progress{
		ExecutionID: s.live.id,
		Items:       items,
		Message:     message,
		UpdatedAt:   s.tracker.now(),
	}
	s.live.hasProgress = true
}
