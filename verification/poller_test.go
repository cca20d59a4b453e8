package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource returns trials in sequence, repeating the last one.
type scriptedSource struct {
	mu     sync.Mutex
	trials []*Trial
	errs   []error
	calls  int
}

func (s *scriptedSource) FetchTrial(ctx context.Context, verificationID string) (*Trial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if len(s.trials) == 0 {
		return nil, errors.New("no scripted trials")
	}
	if i >= len(s.trials) {
		i = len(s.trials) - 1
	}
	return s.trials[i], nil
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recorder struct {
	mu       sync.Mutex
	statuses []Update
	alerts   []int
	prompts  int
}

func (r *recorder) attach(p *Poller) {
	p.OnStatus = func(id string, u Update) {
		r.mu.Lock()
		r.statuses = append(r.statuses, u)
		r.mu.Unlock()
	}
	p.OnAlert = func(id, reason string, trials int) {
		r.mu.Lock()
		r.alerts = append(r.alerts, trials)
		r.mu.Unlock()
	}
	p.OnReadyPrompt = func(id string) {
		r.mu.Lock()
		r.prompts++
		r.mu.Unlock()
	}
}

func (r *recorder) lastStatus() (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return Update{}, false
	}
	return r.statuses[len(r.statuses)-1], true
}

func (r *recorder) alertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestFailedTrialAlertsOnce(t *testing.T) {
	src := &scriptedSource{trials: []*Trial{
		{State: TrialVerificationFailed, TrialsSoFar: 1, LastRejectionReason: "blurry"},
	}}
	p := NewPoller(src, time.Minute)
	rec := &recorder{}
	rec.attach(p)
	ctx := context.Background()

	terminal := p.PollOnce(ctx, "v1")
	assert.True(t, terminal, "failed state is terminal")
	assert.Equal(t, 1, rec.alertCount(), "first failure alerts")

	last, ok := rec.lastStatus()
	require.True(t, ok)
	assert.Equal(t, StatusFailed, last.Status)
	assert.Equal(t, "blurry", last.Message)

	// Same trial count on a later tick: no additional alert.
	p.PollOnce(ctx, "v1")
	assert.Equal(t, 1, rec.alertCount())
}

func TestNewFailedTrialAlertsAgain(t *testing.T) {
	src := &scriptedSource{trials: []*Trial{
		{State: TrialVerificationFailed, TrialsSoFar: 1, LastRejectionReason: "blurry"},
		{State: TrialVerificationFailed, TrialsSoFar: 1, LastRejectionReason: "blurry"},
		{State: TrialVerificationFailed, TrialsSoFar: 2, LastRejectionReason: "too dark"},
	}}
	p := NewPoller(src, time.Minute)
	rec := &recorder{}
	rec.attach(p)
	ctx := context.Background()

	p.PollOnce(ctx, "v1")
	p.PollOnce(ctx, "v1")
	p.PollOnce(ctx, "v1")

	assert.Equal(t, []int{1, 2}, func() []int {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return append([]int(nil), rec.alerts...)
	}(), "one alert per distinct failed trial")
}

func TestZeroTrialFailureAlertsOnFirstSight(t *testing.T) {
	src := &scriptedSource{trials: []*Trial{
		{State: TrialVerificationFailed, TrialsSoFar: 0, LastRejectionReason: "rejected"},
	}}
	p := NewPoller(src, time.Minute)
	rec := &recorder{}
	rec.attach(p)
	ctx := context.Background()

	p.PollOnce(ctx, "v1")
	assert.Equal(t, 1, rec.alertCount(), "never-alerted must alert even at trial count zero")

	p.PollOnce(ctx, "v1")
	assert.Equal(t, 1, rec.alertCount())
}

func TestSuccessStatesAreTerminal(t *testing.T) {
	for _, state := range []TrialState{TrialReadyForUse, TrialProcessingMedia, TrialProcessingFailed} {
		t.Run(state.String(), func(t *testing.T) {
			src := &scriptedSource{trials: []*Trial{{State: state}}}
			p := NewPoller(src, time.Minute)
			rec := &recorder{}
			rec.attach(p)

			terminal := p.PollOnce(context.Background(), "v1")
			assert.True(t, terminal)

			last, ok := rec.lastStatus()
			require.True(t, ok)
			assert.Equal(t, StatusSuccess, last.Status)
		})
	}
}

func TestInProgressKeepsPolling(t *testing.T) {
	src := &scriptedSource{trials: []*Trial{{State: TrialVerificationInProgress}}}
	p := NewPoller(src, time.Minute)
	rec := &recorder{}
	rec.attach(p)

	terminal := p.PollOnce(context.Background(), "v1")
	assert.False(t, terminal)

	last, ok := rec.lastStatus()
	require.True(t, ok)
	assert.Equal(t, StatusPending, last.Status)
}

func TestTransientErrorKeepsLastState(t *testing.T) {
	src := &scriptedSource{
		trials: []*Trial{{State: TrialVerificationInProgress}},
		errs:   []error{nil, errors.New("network flake")},
	}
	p := NewPoller(src, time.Minute)
	rec := &recorder{}
	rec.attach(p)
	ctx := context.Background()

	p.PollOnce(ctx, "v1")
	statusesBefore := len(rec.statuses)

	terminal := p.PollOnce(ctx, "v1")
	assert.False(t, terminal, "fetch errors are transient, polling continues")
	assert.Equal(t, statusesBefore, len(rec.statuses), "no status emission on fetch error")
}

func TestTerminalStateHaltsLoop(t *testing.T) {
	src := &scriptedSource{trials: []*Trial{
		{State: TrialVerificationInProgress},
		{State: TrialReadyForUse},
	}}
	p := NewPoller(src, 5*time.Millisecond)
	rec := &recorder{}
	rec.attach(p)

	require.NoError(t, p.Start(context.Background(), "v1"))

	assert.Eventually(t, func() bool {
		last, ok := rec.lastStatus()
		return ok && last.Status == StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)

	// Polling disables itself; the source sees no further calls.
	assert.Eventually(t, func() bool { return !p.Polling() }, 2*time.Second, 5*time.Millisecond)
	calls := src.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, src.callCount(), "no polls after terminal state")
}

func TestStopDiscardsPendingResults(t *testing.T) {
	src := &scriptedSource{trials: []*Trial{{State: TrialVerificationInProgress}}}
	p := NewPoller(src, 5*time.Millisecond)
	rec := &recorder{}
	rec.attach(p)

	require.NoError(t, p.Start(context.Background(), "v1"))
	assert.Eventually(t, func() bool {
		_, ok := rec.lastStatus()
		return ok
	}, 2*time.Second, time.Millisecond)

	p.Stop()
	assert.False(t, p.Polling())

	rec.mu.Lock()
	n := len(rec.statuses)
	rec.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	rec.mu.Lock()
	after := len(rec.statuses)
	rec.mu.Unlock()
	assert.Equal(t, n, after, "no status updates after Stop")
}

func TestStartWhileRunningFails(t *testing.T) {
	src := &scriptedSource{trials: []*Trial{{State: TrialVerificationInProgress}}}
	p := NewPoller(src, time.Minute)
	defer p.Stop()

	require.NoError(t, p.Start(context.Background(), "v1"))
	assert.ErrorIs(t, p.Start(context.Background(), "v1"), ErrAlreadyPolling)
}

func TestRestartAfterTerminalRearms(t *testing.T) {
	src := &scriptedSource{trials: []*Trial{{State: TrialReadyForUse}}}
	p := NewPoller(src, 5*time.Millisecond)

	require.NoError(t, p.Start(context.Background(), "v1"))
	assert.Eventually(t, func() bool { return !p.Polling() }, 2*time.Second, time.Millisecond)

	require.NoError(t, p.Start(context.Background(), "v1"))
	p.Stop()
}

func TestReadyPromptFiresOnceAndRespectsGate(t *testing.T) {
	src := &scriptedSource{trials: []*Trial{{State: TrialReadyForUse}}}
	p := NewPoller(src, time.Minute)
	rec := &recorder{}
	rec.attach(p)

	gateOpen := false
	p.PromptGate = func(ctx context.Context, id string) bool { return gateOpen }
	ctx := context.Background()

	p.PollOnce(ctx, "v1")
	assert.Equal(t, 0, rec.prompts, "closed gate suppresses the prompt")

	gateOpen = true
	p.PollOnce(ctx, "v1")
	assert.Equal(t, 1, rec.prompts)

	p.PollOnce(ctx, "v1")
	assert.Equal(t, 1, rec.prompts, "prompt is one-time per verification id")
}

func TestLedgerDistinguishesNeverAlertedFromZero(t *testing.T) {
	l := NewLedger()

	assert.True(t, l.ShouldAlert("v1", 0), "never-alerted must alert")
	l.MarkAlerted("v1", 0)
	assert.False(t, l.ShouldAlert("v1", 0))
	assert.True(t, l.ShouldAlert("v1", 1))

	l.Forget("v1")
	assert.True(t, l.ShouldAlert("v1", 0), "forgotten id behaves as never alerted")
}
