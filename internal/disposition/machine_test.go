package disposition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// fakeDisposer counts calls. When gate is non-nil each call blocks until it
// receives a value from gate.
type fakeDisposer struct {
	mu       sync.Mutex
	approves []string
	rejects  []string
	err      error
	gate     chan struct{}
	entered  chan struct{}
}

func (f *fakeDisposer) Approve(ctx context.Context, txID string) error {
	return f.call(&f.approves, txID)
}

func (f *fakeDisposer) Reject(ctx context.Context, txID string) error {
	return f.call(&f.rejects, txID)
}

func (f *fakeDisposer) call(log *[]string, txID string) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	*log = append(*log, txID)
	return f.err
}

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

func pendingTx(level domain.RiskLevel) domain.Transaction {
	return domain.Transaction{ID: "tx-1", RiskLevel: level, Status: domain.DispositionPending}
}

func TestMachine_ApproveHappyPath(t *testing.T) {
	d := &fakeDisposer{}
	rec := &recorder{}
	reloaded := make(chan string, 1)

	m := NewMachine(pendingTx(domain.RiskHigh), d,
		WithNotifier(rec),
		WithReload(func(ctx context.Context, id string) { reloaded <- id }, 5*time.Millisecond),
	)

	p, err := m.Request(ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmPending, m.State())
	assert.Empty(t, p.Warning)
	assert.Empty(t, d.approves, "no side effect before confirm")

	require.NoError(t, m.Confirm(context.Background()))
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, []string{"tx-1"}, d.approves)

	notes := rec.all()
	require.Len(t, notes, 1)
	assert.Equal(t, NotifySuccess, notes[0].Kind)

	select {
	case id := <-reloaded:
		assert.Equal(t, "tx-1", id)
	case <-time.After(time.Second):
		t.Fatal("reload was not scheduled")
	}
}

func TestMachine_LowRiskRejectWarning(t *testing.T) {
	d := &fakeDisposer{}
	m := NewMachine(pendingTx(domain.RiskLow), d)

	p, err := m.Request(ActionReject)
	require.NoError(t, err)
	assert.Equal(t, LowRiskRejectWarning, p.Warning)

	require.NoError(t, m.Confirm(context.Background()))
	assert.Equal(t, []string{"tx-1"}, d.rejects)
	assert.Empty(t, d.approves)
}

func TestMachine_NoWarning(t *testing.T) {
	tests := []struct {
		level  domain.RiskLevel
		action Action
	}{
		{domain.RiskHigh, ActionReject},
		{domain.RiskMedium, ActionReject},
		{domain.RiskLow, ActionApprove},
	}

	for _, tt := range tests {
		t.Run(string(tt.level)+"/"+string(tt.action), func(t *testing.T) {
			m := NewMachine(pendingTx(tt.level), &fakeDisposer{})
			p, err := m.Request(tt.action)
			require.NoError(t, err)
			assert.Empty(t, p.Warning)
		})
	}
}

func TestMachine_Cancel(t *testing.T) {
	d := &fakeDisposer{}
	m := NewMachine(pendingTx(domain.RiskHigh), d)

	_, err := m.Request(ActionReject)
	require.NoError(t, err)
	require.NoError(t, m.Cancel())

	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, d.rejects)

	err = m.Cancel()
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestMachine_FailureReturnsToIdle(t *testing.T) {
	d := &fakeDisposer{err: errors.New("503 service unavailable")}
	rec := &recorder{}
	reloads := 0

	m := NewMachine(pendingTx(domain.RiskHigh), d,
		WithNotifier(rec),
		WithReload(func(ctx context.Context, id string) { reloads++ }, 0),
	)

	_, err := m.Request(ActionApprove)
	require.NoError(t, err)

	err = m.Confirm(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, domain.DispositionPending, m.Transaction().Status)

	notes := rec.all()
	require.Len(t, notes, 1)
	assert.Equal(t, NotifyError, notes[0].Kind)

	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, reloads)

	// No automatic retry; the reviewer can try again.
	_, err = m.Request(ActionApprove)
	assert.NoError(t, err)
	assert.Len(t, d.approves, 1)
}

func TestMachine_IllegalTransitions(t *testing.T) {
	m := NewMachine(pendingTx(domain.RiskHigh), &fakeDisposer{})

	err := m.Confirm(context.Background())
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StateIdle, terr.From)

	_, err = m.Request(ActionApprove)
	require.NoError(t, err)

	_, err = m.Request(ActionReject)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = m.Request("escalate")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestMachine_SingleFlight(t *testing.T) {
	d := &fakeDisposer{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	m := NewMachine(pendingTx(domain.RiskHigh), d)

	_, err := m.Request(ActionApprove)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Confirm(context.Background()) }()

	<-d.entered
	assert.Equal(t, StateSubmitting, m.State())

	_, err = m.Request(ActionReject)
	assert.ErrorIs(t, err, ErrSubmissionInFlight)
	assert.ErrorIs(t, m.Confirm(context.Background()), ErrSubmissionInFlight)
	assert.ErrorIs(t, m.Cancel(), ErrSubmissionInFlight)

	close(d.gate)
	require.NoError(t, <-done)

	assert.Len(t, d.approves, 1)
	assert.Empty(t, d.rejects)
}

func TestMachine_TerminalAfterReload(t *testing.T) {
	d := &fakeDisposer{}
	var m *Machine
	reloaded := make(chan struct{})

	m = NewMachine(pendingTx(domain.RiskMedium), d,
		WithReload(func(ctx context.Context, id string) {
			tx := m.Transaction()
			tx.Status = domain.DispositionRejected
			m.Update(tx)
			close(reloaded)
		}, 0),
	)

	_, err := m.Request(ActionReject)
	require.NoError(t, err)
	require.NoError(t, m.Confirm(context.Background()))

	select {
	case <-reloaded:
	case <-time.After(time.Second):
		t.Fatal("reload did not run")
	}

	_, err = m.Request(ActionApprove)
	assert.ErrorIs(t, err, ErrAlreadyDisposed)
}

func TestMachine_RequestBlockedUntilReload(t *testing.T) {
	d := &fakeDisposer{}
	m := NewMachine(pendingTx(domain.RiskHigh), d, WithReload(func(ctx context.Context, id string) {}, time.Hour))
	defer m.Stop()

	_, err := m.Request(ActionApprove)
	require.NoError(t, err)
	require.NoError(t, m.Confirm(context.Background()))

	// The snapshot still says pending, but the approval was accepted.
	assert.Equal(t, domain.DispositionPending, m.Transaction().Status)
	_, err = m.Request(ActionReject)
	assert.ErrorIs(t, err, ErrAlreadyDisposed)
	assert.Equal(t, StateIdle, m.State())

	// A reload that still shows pending does not lift the guard.
	m.Update(pendingTx(domain.RiskHigh))
	_, err = m.Request(ActionReject)
	assert.ErrorIs(t, err, ErrAlreadyDisposed)

	tx := pendingTx(domain.RiskHigh)
	tx.Status = domain.DispositionApproved
	m.Update(tx)
	_, err = m.Request(ActionReject)
	assert.ErrorIs(t, err, ErrAlreadyDisposed)

	assert.Equal(t, []string{"tx-1"}, d.approves)
	assert.Empty(t, d.rejects)
}

func TestMachine_FailedSubmissionAllowsRetry(t *testing.T) {
	d := &fakeDisposer{err: errors.New("connection refused")}
	m := NewMachine(pendingTx(domain.RiskHigh), d)

	_, err := m.Request(ActionApprove)
	require.NoError(t, err)
	require.Error(t, m.Confirm(context.Background()))

	_, err = m.Request(ActionApprove)
	assert.NoError(t, err, "a failed submission must not block a new request")
}

func TestMachine_StopCancelsReload(t *testing.T) {
	called := make(chan struct{}, 1)
	m := NewMachine(pendingTx(domain.RiskHigh), &fakeDisposer{},
		WithReload(func(ctx context.Context, id string) { called <- struct{}{} }, 50*time.Millisecond),
	)

	_, err := m.Request(ActionApprove)
	require.NoError(t, err)
	require.NoError(t, m.Confirm(context.Background()))
	m.Stop()

	select {
	case <-called:
		t.Fatal("reload ran after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "submitting", StateSubmitting.String())
	assert.Equal(t, "state(42)", State(42).String())
}
