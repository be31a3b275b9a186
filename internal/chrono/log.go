// Package chrono records the time course of a validation run — one
// truth/prediction pair per decoded event — and scores the result.
package chrono

import "sync"

// Entry is one scored event. The JSON field names follow the
// chronogram columns the reporting side consumes.
type Entry struct {
	Timestamp float64 `json:"ts"`
	Truth     int     `json:"y_true"`
	Predicted int     `json:"y_pred"`
}

// Log is an append-only chronogram safe for concurrent use.
// Subscribers get entries as they land; a slow subscriber misses
// entries rather than stalling the run.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	subs    map[int]chan Entry
	nextID  int
}

// NewLog builds an empty chronogram.
func NewLog() *Log {
	return &Log{subs: make(map[int]chan Entry)}
}

// Append records one entry and fans it out to subscribers without
// blocking on any of them.
func (l *Log) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Entries returns a copy of the chronogram so far.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the number of recorded entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe opens a live feed of future entries. The cancel func
// releases the feed and closes the channel; it is safe to call twice.
func (l *Log) Subscribe() (<-chan Entry, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	ch := make(chan Entry, 64)
	l.subs[id] = ch
	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if c, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(c)
		}
	}
	return ch, cancel
}
