package ingest

import "sort"

// retryLedger counts consecutive failed attempts per dirty-tile file.
// It is owned by the orchestrator loop and never shared.
type retryLedger struct {
	maxRetries int
	attempts   map[string]int
}

func newRetryLedger(maxRetries int) *retryLedger {
	return &retryLedger{maxRetries: maxRetries, attempts: make(map[string]int)}
}

// fail records a failed attempt; exhausted is true once attempts exceed maxRetries.
// The entry stays until clear is called, which the caller does after the file is dead-lettered.
func (l *retryLedger) fail(id string) (attempts int, exhausted bool) {
	l.attempts[id]++
	attempts = l.attempts[id]
	return attempts, attempts > l.maxRetries
}

func (l *retryLedger) clear(id string) {
	delete(l.attempts, id)
}

func (l *retryLedger) count(id string) int {
	return l.attempts[id]
}

func (l *retryLedger) len() int {
	return len(l.attempts)
}

// pending returns the identifiers with a live counter, sorted
func (l *retryLedger) pending() []string {
	ids := make([]string, 0, len(l.attempts))
	for id := range l.attempts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
