package state

import (
	"maps"
	"time"
)

// State represents a kiosk session state.
type State string

const (
	// StateBoot is shown while the kiosk initializes.
	StateBoot State = "BOOT"
	// StateIdle waits for a customer to pick a beverage.
	StateIdle State = "IDLE"
	// StateConfirmAge asks the customer to confirm legal drinking age.
	StateConfirmAge State = "CONFIRM_AGE"
	// StateSelectVolume lets the customer pick a pour size.
	StateSelectVolume State = "SELECT_VOLUME"
	// StateSelectPayment lets the customer pick a payment method.
	StateSelectPayment State = "SELECT_PAYMENT"
	// StateAwaitingPayment waits for the payment provider to settle.
	StateAwaitingPayment State = "AWAITING_PAYMENT"
	// StatePaymentDenied shows the denial reason before returning to idle.
	StatePaymentDenied State = "PAYMENT_DENIED"
	// StateAuthorized confirms the gateway accepted the dispense token.
	StateAuthorized State = "AUTHORIZED"
	// StateDispensing tracks an active pour.
	StateDispensing State = "DISPENSING"
	// StateFinished thanks the customer after a completed pour.
	StateFinished State = "FINISHED"
)

// AllStates lists every state in flow order.
var AllStates = []State{
	StateBoot,
	StateIdle,
	StateConfirmAge,
	StateSelectVolume,
	StateSelectPayment,
	StateAwaitingPayment,
	StatePaymentDenied,
	StateAuthorized,
	StateDispensing,
	StateFinished,
}

// ParseState resolves a state name, reporting false for unknown names.
func ParseState(name string) (State, bool) {
	s := State(name)
	if !IsKnown(s) {
		return "", false
	}
	return s, true
}

func (s State) String() string {
	return string(s)
}

// Session data keys.
const (
	KeyAttemptID           = "attemptId"
	KeyBeverage            = "beverage"
	KeyVolume              = "volume"
	KeyPaymentMethod       = "paymentMethod"
	KeyTotal               = "total"
	KeyTransactionID       = "transactionId"
	KeySaleID              = "saleId"
	KeyToken               = "token"
	KeyExpiresAt           = "expiresAt"
	KeyEstimatedSeconds    = "estimatedSeconds"
	KeyMLServed            = "mlServed"
	KeyMLAuthorized        = "mlAuthorized"
	KeyPercentage          = "percentage"
	KeyStatus              = "status"
	KeyDispensingStartedAt = "dispensingStartedAt"
	KeyError               = "error"
	KeyMessage             = "message"
	KeyReason              = "reason"
)

// Data is the per-session context accumulated during a purchase attempt.
type Data map[string]any

// Clone returns a shallow copy of d. A nil Data clones to an empty map.
func (d Data) Clone() Data {
	out := make(Data, len(d))
	maps.Copy(out, d)
	return out
}

// String returns the value under key when it holds a string.
func (d Data) String(key string) string {
	v, _ := d[key].(string)
	return v
}

// Float returns the numeric value under key, accepting any integer or float type.
func (d Data) Float(key string) (float64, bool) {
	switch v := d[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

// Snapshot is the persisted (state, data) pair used for diagnostics and recovery.
type Snapshot struct {
	State     State `json:"state"`
	Data      Data  `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// Change describes a completed transition delivered to observers.
type Change struct {
	From State
	To   State
	Data Data
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (fn ClockFunc) Now() time.Time {
	return fn()
}

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)
