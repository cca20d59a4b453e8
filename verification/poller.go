package verification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Source is the polled verification status endpoint.
type Source interface {
	FetchTrial(ctx context.Context, verificationID string) (*Trial, error)
}

// DefaultInterval is the poll interval when none is configured.
const DefaultInterval = 5 * time.Second

// ErrAlreadyPolling is returned by Start when a poll loop is running.
var ErrAlreadyPolling = errors.New("verification poll already running")

// Poller drives the verification state machine. Polling is either enabled
// or disabled, explicitly: reaching a terminal status disables it, and the
// caller re-arms by calling Start again when a new attempt begins.
type Poller struct {
	source   Source
	ledger   *Ledger
	interval time.Duration

	// OnStatus receives every reconciled status change. Optional.
	OnStatus func(verificationID string, update Update)
	// OnAlert receives exactly one call per distinct failed trial. Optional.
	OnAlert func(verificationID string, reason string, trialsSoFar int)
	// OnReadyPrompt fires once when verification succeeds, gated by
	// PromptGate. Optional.
	OnReadyPrompt func(verificationID string)
	// PromptGate decides whether the ready prompt should fire, typically by
	// checking refreshed conversation membership for a still-pending task.
	PromptGate func(ctx context.Context, verificationID string) bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	promptMu sync.Mutex
	prompted map[string]bool
}

// NewPoller creates a poller over the given source. interval <= 0 uses
// DefaultInterval.
func NewPoller(source Source, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		source:   source,
		ledger:   NewLedger(),
		interval: interval,
		prompted: make(map[string]bool),
	}
}

// Ledger exposes the alert ledger, mainly for re-arming via Forget.
func (p *Poller) Ledger() *Ledger {
	return p.ledger
}

// Polling reports whether the poll loop is currently enabled.
func (p *Poller) Polling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Start enables polling for a verification id. The loop polls immediately,
// then every interval, until a terminal status or Stop. Results that arrive
// after Stop are discarded; they never reach the callbacks.
func (p *Poller) Start(ctx context.Context, verificationID string) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return ErrAlreadyPolling
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	done := make(chan struct{})
	p.done = done
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":        "Start",
		"verification_id": verificationID,
		"interval":        p.interval,
	}).Debug("Verification polling enabled")

	go p.loop(loopCtx, verificationID, done)
	return nil
}

// Stop disables polling. Safe to call repeatedly and after terminal states.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (p *Poller) loop(ctx context.Context, verificationID string, done chan struct{}) {
	defer close(done)
	defer p.disarm()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if terminal := p.PollOnce(ctx, verificationID); terminal {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// disarm clears the cancel func when the loop exits on its own (terminal
// status), so a later Start can re-arm.
func (p *Poller) disarm() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
		p.done = nil
	}
	p.mu.Unlock()
}

// PollOnce performs a single poll tick and reconciles the result. It
// returns true when a terminal status was reached and polling must stop.
// Transient fetch errors keep the previous state: not terminal, no status
// emission.
func (p *Poller) PollOnce(ctx context.Context, verificationID string) bool {
	trial, err := p.source.FetchTrial(ctx, verificationID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		logrus.WithFields(logrus.Fields{
			"function":        "PollOnce",
			"verification_id": verificationID,
			"error":           err.Error(),
		}).Warn("Verification poll failed, keeping last state")
		return false
	}

	// A result that lands after teardown must not update state.
	if ctx.Err() != nil {
		return true
	}

	return p.reconcile(ctx, verificationID, trial)
}

// reconcile maps a trial snapshot to a user-facing status and decides
// whether polling continues.
func (p *Poller) reconcile(ctx context.Context, verificationID string, trial *Trial) bool {
	logrus.WithFields(logrus.Fields{
		"function":        "reconcile",
		"verification_id": verificationID,
		"trial_state":     trial.State.String(),
		"trials_so_far":   trial.TrialsSoFar,
	}).Debug("Reconciling verification trial")

	switch trial.State {
	case TrialReadyForUse, TrialProcessingMedia, TrialProcessingFailed:
		p.emitStatus(verificationID, Update{Status: StatusSuccess})
		p.maybePrompt(ctx, verificationID)
		return true

	case TrialVerificationInProgress:
		p.emitStatus(verificationID, Update{Status: StatusPending})
		return false

	case TrialVerificationFailed:
		p.emitStatus(verificationID, Update{
			Status:  StatusFailed,
			Message: trial.LastRejectionReason,
		})
		if p.ledger.ShouldAlert(verificationID, trial.TrialsSoFar) {
			p.ledger.MarkAlerted(verificationID, trial.TrialsSoFar)
			if p.OnAlert != nil {
				p.OnAlert(verificationID, trial.LastRejectionReason, trial.TrialsSoFar)
			}
		}
		return true

	default:
		logrus.WithFields(logrus.Fields{
			"function":        "reconcile",
			"verification_id": verificationID,
			"trial_state":     uint8(trial.State),
		}).Warn("Unknown trial state, keeping last status")
		return false
	}
}

func (p *Poller) emitStatus(verificationID string, update Update) {
	if p.OnStatus != nil {
		p.OnStatus(verificationID, update)
	}
}

// maybePrompt fires the one-time ready prompt when the gate allows it.
func (p *Poller) maybePrompt(ctx context.Context, verificationID string) {
	if p.OnReadyPrompt == nil {
		return
	}
	if p.PromptGate != nil && !p.PromptGate(ctx, verificationID) {
		return
	}

	p.promptMu.Lock()
	already := p.prompted[verificationID]
	p.prompted[verificationID] = true
	p.promptMu.Unlock()

	if !already {
		p.OnReadyPrompt(verificationID)
	}
}
