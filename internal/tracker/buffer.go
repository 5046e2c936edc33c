package tracker

import "sync"

const defaultBufferLines = 2000

// lineBuffer is a thread-safe ring of the most recent log lines.
type lineBuffer struct {
	lines     []string
	size      int
	head      int // oldest line
	count     int
	lineCount int // total lines ever written
	mu        sync.RWMutex
}

func newLineBuffer(size int) *lineBuffer {
	if size <= 0 {
		size = defaultBufferLines
	}
	return &lineBuffer{
		lines: make([]string, size),
		size:  size,
	}
}

// Write appends a line, overwriting the oldest when full.
func (b *lineBuffer) Write(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < b.size {
		b.lines[(b.head+b.count)%b.size] = line
		b.count++
	} else {
		b.lines[b.head] = line
		b.head = (b.head + 1) % b.size
	}
	b.lineCount++
}

// ReadAll returns buffered lines in chronological order.
func (b *lineBuffer) ReadAll() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]string, b.count)
	for i := range b.count {
		result[i] = b.lines[(b.head+i)%b.size]
	}
	return result
}

// LineCount returns the total number of lines ever written.
func (b *lineBuffer) LineCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lineCount
}
