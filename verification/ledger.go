package verification

import "sync"

// Ledger records, per verification id, the trial count at which the user
// was last alerted. "Never alerted" is represented explicitly (a missing
// entry), distinct from "alerted at count zero", so a legitimately
// zero-trial failure still alerts on first sight.
type Ledger struct {
	mu          sync.Mutex
	lastAlerted map[string]int
	seen        map[string]bool
}

// NewLedger creates an empty alert ledger.
func NewLedger() *Ledger {
	return &Ledger{
		lastAlerted: make(map[string]int),
		seen:        make(map[string]bool),
	}
}

// ShouldAlert reports whether a failure with the given trial count warrants
// a fresh alert: always on first sight, and afterwards only when the count
// changed since the last alert.
func (l *Ledger) ShouldAlert(verificationID string, trialsSoFar int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.seen[verificationID] {
		return true
	}
	return l.lastAlerted[verificationID] != trialsSoFar
}

// MarkAlerted records that the user was alerted at the given trial count.
func (l *Ledger) MarkAlerted(verificationID string, trialsSoFar int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seen[verificationID] = true
	l.lastAlerted[verificationID] = trialsSoFar
}

// Forget drops the ledger entry for a verification id, re-arming alerts for
// a brand new attempt.
func (l *Ledger) Forget(verificationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.seen, verificationID)
	delete(l.lastAlerted, verificationID)
}
