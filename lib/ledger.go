package lib

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// ledgerEntry records how a resolved URL was handled this run.
type ledgerEntry struct {
	path    string
	outcome Outcome
	err     error
}

// Ledger is the process-wide dedup state for one run: every resolved
// URL is handled at most once, and repeated references reuse the
// recorded local path. Concurrent requests for the same URL share a
// single in-flight fetch. The ledger lives for one invocation only and
// is never persisted.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]ledgerEntry
	group   singleflight.Group
}

// NewLedger creates an empty run ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]ledgerEntry)}
}

// Resolve returns the local path for resolvedURL, invoking fetch at most
// once per URL per run. A later caller for an already-handled URL gets
// OutcomeSkippedDuplicate together with the recorded path; failures are
// cached too, so a dead asset is not re-requested by every document
// that references it.
func (l *Ledger) Resolve(resolvedURL string, fetch func() (string, Outcome, error)) (string, Outcome, error) {
	l.mu.Lock()
	if e, ok := l.entries[resolvedURL]; ok {
		l.mu.Unlock()
		return duplicateResult(e)
	}
	l.mu.Unlock()

	// The closure runs only for the caller that wins the flight; every
	// other caller waits on the shared result. Fetch errors travel
	// inside the entry, so Do itself cannot fail.
	executed := false
	v, _, _ := l.group.Do(resolvedURL, func() (interface{}, error) {
		executed = true
		path, outcome, err := fetch()
		e := ledgerEntry{path: path, outcome: outcome, err: err}
		l.mu.Lock()
		l.entries[resolvedURL] = e
		l.mu.Unlock()
		return e, nil
	})

	e := v.(ledgerEntry)
	if !executed {
		return duplicateResult(e)
	}
	return e.path, e.outcome, e.err
}

// Len reports how many distinct URLs have been handled so far.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// duplicateResult converts a recorded entry into the outcome a repeat
// requester should see: successful entries become duplicates, failures
// keep their original classification.
func duplicateResult(e ledgerEntry) (string, Outcome, error) {
	switch e.outcome {
	case OutcomeDownloaded, OutcomeSkippedExisting, OutcomeSkippedDuplicate:
		return e.path, OutcomeSkippedDuplicate, nil
	default:
		return e.path, e.outcome, e.err
	}
}
