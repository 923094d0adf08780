package flash

import (
	"fmt"
	"sync"
	"time"
)

// LogEntry is one recorded step of an operation, used for the progress
// callback and for a post-mortem trail when an operation fails.
type LogEntry struct {
	Time    time.Time
	State   State
	Message string
}

// OperationLog accumulates LogEntries for one flash operation. Safe for
// concurrent use: every access goes through its mutex.
type OperationLog struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (l *OperationLog) append(state State, format string, args ...any) LogEntry {
	entry := LogEntry{Time: time.Now(), State: state, Message: fmt.Sprintf(format, args...)}
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return entry
}

// Entries returns a copy of every recorded entry in order.
func (l *OperationLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
