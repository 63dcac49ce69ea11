package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	apperrors "github.com/Proton-105/pour-kiosk/internal/errors"
)

// ErrInvalidState indicates that a transition targeted an unknown state.
var ErrInvalidState = errors.New("invalid state")

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder allows external packages to observe transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}

// Observer receives every completed transition. Observers run outside the machine lock
// and may call back into the machine.
type Observer func(Change)

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option customizes a Machine.
type Option func(*Machine)

// WithClock sets the time source used for timestamps.
func WithClock(clock Clock) Option {
	return func(m *Machine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithAfterFunc sets the timer scheduler.
func WithAfterFunc(fn AfterFunc) Option {
	return func(m *Machine) {
		if fn != nil {
			m.afterFunc = fn
		}
	}
}

// WithTimeouts sets the initial per-state timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(m *Machine) {
		m.timeouts = t
	}
}

// WithPollingInterval sets the cadence handed to the poller on entering DISPENSING.
func WithPollingInterval(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

type pendingTimeout struct {
	timer  Timer
	target State
	delay  time.Duration
}

// Machine owns the single live kiosk session: its current state, accumulated data,
// and the one pending auto-transition.
type Machine struct {
	storage   Storage
	log       *slog.Logger
	clock     Clock
	afterFunc AfterFunc

	mu           sync.Mutex
	current      State
	previous     State
	data         Data
	timeouts     Timeouts
	pollInterval time.Duration
	poller       Poller
	pending      *pendingTimeout
	generation   uint64
	observers    []subscription
	nextObserver uint64
}

type subscription struct {
	id       uint64
	observer Observer
}

// NewMachine creates a machine resting in BOOT with no timeout armed.
func NewMachine(storage Storage, log *slog.Logger, opts ...Option) *Machine {
	if log == nil {
		log = slog.Default()
	}

	m := &Machine{
		storage:      storage,
		log:          log,
		clock:        SystemClock,
		afterFunc:    realAfterFunc,
		current:      StateBoot,
		data:         Data{},
		timeouts:     DefaultTimeouts(),
		pollInterval: 300 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// AttachPoller wires the dispense status poller driven by DISPENSING entry and exit.
func (m *Machine) AttachPoller(p Poller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poller = p
}

// SetTimeouts replaces the per-state timeouts. The change applies to timeouts armed afterwards.
func (m *Machine) SetTimeouts(t Timeouts) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts = t
}

// SetPollingInterval replaces the polling cadence used on the next DISPENSING entry.
func (m *Machine) SetPollingInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollInterval = d
}

// Subscribe registers an observer and returns a function removing it. Observers are
// notified in registration order.
func (m *Machine) Subscribe(observer Observer) func() {
	if observer == nil {
		return func() {}
	}

	m.mu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.observers = append(m.observers, subscription{id: id, observer: observer})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.observers {
			if sub.id == id {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// Start enters BOOT, persisting the snapshot and arming the boot timeout.
func (m *Machine) Start(ctx context.Context) error {
	return m.SetState(ctx, StateBoot, nil)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Previous returns the state active before the last transition.
func (m *Machine) Previous() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

// Data returns a copy of the session data.
func (m *Machine) Data() Data {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone()
}

// Snapshot returns the current (state, data) pair.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// PendingTimeout reports the armed auto-transition, if any.
func (m *Machine) PendingTimeout() (State, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return "", 0, false
	}
	return m.pending.target, m.pending.delay, true
}

// SetState transitions the machine to target, merging patch into the session data.
// Unknown targets are rejected without any mutation. A pending timeout is always
// cancelled, so the latest call wins.
func (m *Machine) SetState(ctx context.Context, target State, patch Data) error {
	_, err := m.transition(ctx, target, patch, nil, false)
	return err
}

// Guard decides, under the machine lock, whether a conditional transition may
// leave the current session. It must not modify data.
type Guard func(current State, data Data) bool

// InState matches a session resting in one of states.
func InState(states ...State) Guard {
	return func(current State, _ Data) bool {
		return slices.Contains(states, current)
	}
}

// ForAttempt matches a session in expected that still belongs to attemptID.
func ForAttempt(expected State, attemptID string) Guard {
	return func(current State, data Data) bool {
		return current == expected && data.String(KeyAttemptID) == attemptID
	}
}

// SetStateIf transitions to target only when guard accepts the current session,
// checked atomically with the transition. It reports whether the transition ran.
func (m *Machine) SetStateIf(ctx context.Context, guard Guard, target State, patch Data) (bool, error) {
	if guard == nil {
		guard = func(State, Data) bool { return true }
	}
	return m.transition(ctx, target, patch, guard, false)
}

// UpdateDataIn merges patch only while the machine is still in expected.
func (m *Machine) UpdateDataIn(ctx context.Context, expected State, patch Data) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != expected {
		return false
	}
	maps.Copy(m.data, patch)
	m.persistLocked(ctx, m.snapshotLocked())
	return true
}

func (m *Machine) transition(ctx context.Context, target State, patch Data, guard Guard, fromTimer bool) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !IsKnown(target) {
		m.log.Warn("rejected transition to unknown state", "target", string(target), "current", string(m.State()))
		return false, apperrors.NewStateError(fmt.Sprintf("unknown state %q", target)).
			Wrap(fmt.Errorf("%w: %q", ErrInvalidState, target))
	}

	m.mu.Lock()

	if guard != nil && !guard(m.current, m.data) {
		current := m.current
		m.mu.Unlock()
		if !fromTimer {
			m.log.Debug("conditional transition skipped", "current", string(current), "target", string(target))
		}
		return false, nil
	}

	m.cancelTimeoutLocked()

	from := m.current
	m.exitLocked(from)

	if target == StateIdle {
		m.data = patch.Clone()
	} else {
		maps.Copy(m.data, patch)
	}

	m.previous = from
	m.current = target
	m.persistLocked(ctx, m.snapshotLocked())

	m.enterLocked(target)
	m.armTimeoutLocked(target)

	change := Change{From: from, To: target, Data: m.data.Clone()}
	observers := make([]Observer, 0, len(m.observers))
	for _, sub := range m.observers {
		observers = append(observers, sub.observer)
	}

	m.mu.Unlock()

	transitionRecorder(string(from), string(target))

	m.log.Debug("state transition",
		"from", string(from),
		"to", string(target),
		"timer", fromTimer,
	)

	for _, observer := range observers {
		observer(change)
	}

	return true, nil
}

func (m *Machine) exitLocked(from State) {
	switch from {
	case StateDispensing:
		if m.poller != nil {
			m.poller.Stop()
		}
	case StateFinished, StatePaymentDenied:
		m.data = Data{}
	}
}

func (m *Machine) enterLocked(to State) {
	if to != StateDispensing {
		return
	}

	if _, ok := m.data[KeyDispensingStartedAt]; !ok {
		m.data[KeyDispensingStartedAt] = m.clock.Now().UnixMilli()
	}

	if m.poller != nil {
		m.poller.Start(m.pollInterval)
	}
}

func (m *Machine) armTimeoutLocked(s State) {
	next, delay, ok := m.timeouts.Next(s)
	if !ok {
		return
	}

	generation := m.generation
	current := func(State, Data) bool { return generation == m.generation }
	timer := m.afterFunc(delay, func() {
		if _, err := m.transition(context.Background(), next, nil, current, true); err != nil {
			m.log.Error("timeout transition failed", "from", string(s), "to", string(next), "error", err)
		}
	})

	m.pending = &pendingTimeout{timer: timer, target: next, delay: delay}
}

func (m *Machine) cancelTimeoutLocked() {
	m.generation++
	if m.pending == nil {
		return
	}
	m.pending.timer.Stop()
	m.pending = nil
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		State:     m.current,
		Data:      m.data.Clone(),
		Timestamp: m.clock.Now().UnixMilli(),
	}
}

// persistLocked writes the snapshot while holding the lock so snapshots land in transition order.
func (m *Machine) persistLocked(ctx context.Context, snapshot Snapshot) {
	if m.storage == nil {
		return
	}

	if err := m.storage.SaveAppState(ctx, snapshot); err != nil {
		m.log.Warn("failed to persist app state", "state", string(snapshot.State), "error", err)
	}
}
