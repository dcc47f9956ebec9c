// Package ledger tracks in-flight requests: how many child replies are
// expected, how many arrived, and the partial scores merged so far.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/healthrank/internal/topk"
)

type entry struct {
	expected int
	received int
	partial  *topk.ScoreMap
	// senders that already counted toward received
	seen   map[string]bool
	refs   int
	done   chan struct{}
	closed bool // done already closed
}

func (e *entry) complete() bool {
	return e.received >= e.expected
}

func (e *entry) signal() {
	if !e.closed && e.complete() {
		close(e.done)
		e.closed = true
	}
}

// Ledger is safe for concurrent use by message handlers.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

// Open starts tracking id. Opening an id that is already open joins the
// existing entry: its counters and partial map are kept and it stays open
// until every opener has called Close.
func (l *Ledger) Open(id string, expected int) {
	if expected < 0 {
		expected = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[id]; ok {
		e.refs++
		return
	}
	e := &entry{
		expected: expected,
		partial:  topk.NewScoreMap(),
		seen:     make(map[string]bool),
		refs:     1,
		done:     make(chan struct{}),
	}
	e.signal()
	l.entries[id] = e
}

// Merge folds partial into the entry and counts one reply. Unknown ids are
// ignored and reported with false.
func (l *Ledger) Merge(id string, partial *topk.ScoreMap) bool {
	return l.MergeFrom(id, "", partial)
}

// MergeFrom is Merge for a reply that names its sender. A sender is counted
// once per entry; its repeated replies only refresh the partial map.
func (l *Ledger) MergeFrom(id, sender string, partial *topk.ScoreMap) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return false
	}
	e.partial.Merge(partial)
	if sender != "" {
		if e.seen[sender] {
			return true
		}
		e.seen[sender] = true
	}
	if e.received < e.expected {
		e.received++
	}
	e.signal()
	return true
}

// Ack counts one reply that carries no scores.
func (l *Ledger) Ack(id string) bool {
	return l.MergeFrom(id, "", nil)
}

// AckFrom is Ack for a reply that names its sender.
func (l *Ledger) AckFrom(id, sender string) bool {
	return l.MergeFrom(id, sender, nil)
}

func (l *Ledger) IsComplete(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	return ok && e.complete()
}

// Counts returns the received and expected counters of id.
func (l *Ledger) Counts(id string) (received, expected int, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return 0, 0, false
	}
	return e.received, e.expected, true
}

// Wait blocks until every expected reply for id arrived, the deadline
// passes or ctx is cancelled. It reports whether the entry completed.
func (l *Ledger) Wait(ctx context.Context, id string, deadline time.Time) bool {
	l.mu.Lock()
	e, ok := l.entries[id]
	l.mu.Unlock()
	if !ok {
		return false
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-e.done:
	case <-timer.C:
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return e.complete()
}

// Close releases one opener of id and returns a copy of its partial map.
// The entry is removed when its last opener closes it. Unknown ids yield an
// empty map, so closing twice is harmless.
func (l *Ledger) Close(id string) *topk.ScoreMap {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return topk.NewScoreMap()
	}
	e.refs--
	if e.refs > 0 {
		return e.partial.Clone()
	}
	delete(l.entries, id)
	if !e.closed {
		close(e.done)
		e.closed = true
	}
	return e.partial
}

// Len is the number of open entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
