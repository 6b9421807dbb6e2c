// Package disposition drives a reviewer's approve or reject decision on one
// transaction through confirmation, submission and reload.
package disposition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// State is a machine state.
type State int

const (
	StateIdle State = iota
	StateConfirmPending
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfirmPending:
		return "confirm_pending"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Action is the reviewer's decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// DefaultReloadDelay is the pause between a successful submission and the reload.
const DefaultReloadDelay = time.Second

// LowRiskRejectWarning is shown when rejecting a transaction scored low risk.
const LowRiskRejectWarning = "This transaction was scored low risk. Marking it as fraud overrides the risk assessment."

var (
	// ErrIllegalTransition is wrapped by TransitionError.
	ErrIllegalTransition = errors.New("illegal disposition transition")

	// ErrSubmissionInFlight is returned for any input while a submission is outstanding.
	ErrSubmissionInFlight = errors.New("a disposition is already being submitted for this transaction")

	// ErrAlreadyDisposed is returned when the last loaded state is already terminal.
	ErrAlreadyDisposed = errors.New("transaction already has a final disposition")

	// ErrUnknownAction is returned for actions other than approve and reject.
	ErrUnknownAction = errors.New("unknown disposition action")
)

// TransitionError reports an event that is not valid in the current state.
type TransitionError struct {
	From  State
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: cannot %s from %s", ErrIllegalTransition, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// Disposer performs the mutating persistence calls.
type Disposer interface {
	Approve(ctx context.Context, txID string) error
	Reject(ctx context.Context, txID string) error
}

// NotificationKind distinguishes success and error notifications.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
)

// Notification is a transient message for the reviewer.
type Notification struct {
	Kind    NotificationKind
	TxID    string
	Action  Action
	Message string
	Err     error
}

// Notifier receives notifications. Implementations must not block for long.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// ReloadFunc reloads a transaction and its audit trail after a disposition.
type ReloadFunc func(ctx context.Context, txID string)

// Prompt is what the confirmation surface shows.
type Prompt struct {
	TxID    string
	Action  Action
	Message string

	// Warning is non-empty for unusual but allowed decisions.
	Warning string
}

// Machine is the disposition state machine for one transaction.
// It is safe for concurrent use.
type Machine struct {
	mu      sync.Mutex
	tx      domain.Transaction
	state   State
	pending Action
	timer   *time.Timer

	// submitted is the action the backend accepted, held until a reload
	// brings a terminal status.
	submitted Action

	disposer    Disposer
	notifier    Notifier
	reload      ReloadFunc
	reloadDelay time.Duration
	logger      *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option {
	return func(m *Machine) { m.notifier = n }
}

// WithReload sets the function scheduled after a successful submission.
func WithReload(fn ReloadFunc, delay time.Duration) Option {
	return func(m *Machine) {
		m.reload = fn
		if delay >= 0 {
			m.reloadDelay = delay
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMachine creates an idle machine for tx.
func NewMachine(tx domain.Transaction, disposer Disposer, opts ...Option) *Machine {
	m := &Machine{
		tx:          tx,
		state:       StateIdle,
		disposer:    disposer,
		reloadDelay: DefaultReloadDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transaction returns the last loaded snapshot of the transaction.
func (m *Machine) Transaction() domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx
}

// Update replaces the transaction snapshot, typically from a reload.
func (m *Machine) Update(tx domain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID != m.tx.ID {
		return
	}
	m.tx = tx
	if tx.Status.Terminal() {
		m.submitted = ""
	}
}

// Request opens the confirmation gate for action.
func (m *Machine) Request(action Action) (Prompt, error) {
	if action != ActionApprove && action != ActionReject {
		return Prompt{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard(StateIdle, "request "+string(action)); err != nil {
		return Prompt{}, err
	}
	if m.tx.Status.Terminal() {
		return Prompt{}, fmt.Errorf("%w: %s", ErrAlreadyDisposed, m.tx.Status)
	}
	if m.submitted != "" {
		return Prompt{}, fmt.Errorf("%w: %s submitted, awaiting reload", ErrAlreadyDisposed, m.submitted)
	}

	m.transition(StateConfirmPending)
	m.pending = action

	p := Prompt{TxID: m.tx.ID, Action: action}
	switch action {
	case ActionApprove:
		p.Message = "Mark this transaction as legitimate? This cannot be undone."
	case ActionReject:
		p.Message = "Mark this transaction as fraud? This cannot be undone."
		if m.tx.RiskLevel == domain.RiskLow {
			p.Warning = LowRiskRejectWarning
		}
	}
	return p, nil
}

// Cancel closes the confirmation gate without side effects.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard(StateConfirmPending, "cancel"); err != nil {
		return err
	}
	m.pending = ""
	m.transition(StateIdle)
	return nil
}

// Confirm submits the pending action with exactly one call to the Disposer.
// The machine is back in StateIdle when Confirm returns; a non-nil error means
// the disposition was not recorded.
func (m *Machine) Confirm(ctx context.Context) error {
	m.mu.Lock()
	if err := m.guard(StateConfirmPending, "confirm"); err != nil {
		m.mu.Unlock()
		return err
	}
	action := m.pending
	txID := m.tx.ID
	m.pending = ""
	m.transition(StateSubmitting)
	m.mu.Unlock()

	var err error
	switch action {
	case ActionApprove:
		err = m.disposer.Approve(ctx, txID)
	case ActionReject:
		err = m.disposer.Reject(ctx, txID)
	}

	var n Notification
	m.mu.Lock()
	if err != nil {
		m.transition(StateFailed)
		m.logger.Warn("disposition failed", "tx_id", txID, "action", action, "error", err)
		n = Notification{
			Kind:    NotifyError,
			TxID:    txID,
			Action:  action,
			Message: fmt.Sprintf("Failed to %s transaction", action),
			Err:     err,
		}
		err = fmt.Errorf("%s %s: %w", action, txID, err)
	} else {
		m.transition(StateSucceeded)
		m.submitted = action
		m.logger.Info("disposition recorded", "tx_id", txID, "action", action)
		n = Notification{
			Kind:    NotifySuccess,
			TxID:    txID,
			Action:  action,
			Message: successMessage(action),
		}
		m.scheduleReload(txID)
	}
	m.transition(StateIdle)
	m.mu.Unlock()

	// Notify outside the lock so the notifier may call back into the machine.
	m.notify(n)
	return err
}

// Stop cancels a scheduled reload, if any.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// guard must be called with mu held.
func (m *Machine) guard(want State, event string) error {
	if m.state == StateSubmitting {
		return ErrSubmissionInFlight
	}
	if m.state != want {
		return &TransitionError{From: m.state, Event: event}
	}
	return nil
}

func (m *Machine) transition(to State) {
	m.logger.Debug("disposition state", "tx_id", m.tx.ID, "from", m.state.String(), "to", to.String())
	m.state = to
}

func (m *Machine) notify(n Notification) {
	if m.notifier != nil {
		m.notifier.Notify(n)
	}
}

func (m *Machine) scheduleReload(txID string) {
	if m.reload == nil {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	reload := m.reload
	m.timer = time.AfterFunc(m.reloadDelay, func() {
		reload(context.Background(), txID)
	})
}

func successMessage(a Action) string {
	if a == ActionApprove {
		return "Transaction marked as legitimate"
	}
	return "Transaction marked as fraud"
}
