package activity

import (
	"context"
	"sync"
)

// MemoryLog keeps the most recent entries in a fixed-size ring.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewMemoryLog keeps up to capacity entries; older ones are overwritten.
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryLog{entries: make([]Entry, capacity)}
}

func (l *MemoryLog) Record(ctx context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	return nil
}

func (l *MemoryLog) List(ctx context.Context, f Filter) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := l.next
	if l.full {
		size = len(l.entries)
	}

	limit := f.limit()
	result := make([]Entry, 0, min(limit, size))
	for i := 0; i < size && len(result) < limit; i++ {
		idx := (l.next - 1 - i + len(l.entries)) % len(l.entries)
		if f.matches(l.entries[idx]) {
			result = append(result, l.entries[idx])
		}
	}
	return result, nil
}
