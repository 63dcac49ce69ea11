package state

import (
	"time"

	"github.com/Proton-105/pour-kiosk/pkg/config"
)

const (
	paymentDeniedTimeout = 3 * time.Second
	authorizedTimeout    = 1 * time.Second
)

// Timeouts holds the configurable per-state auto-transition delays. Zero disables a timeout.
type Timeouts struct {
	Boot            time.Duration
	Idle            time.Duration
	ConfirmAge      time.Duration
	SelectVolume    time.Duration
	SelectPayment   time.Duration
	AwaitingPayment time.Duration
	Dispensing      time.Duration
	Finished        time.Duration
}

// DefaultTimeouts mirrors the documented configuration defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Boot:            3 * time.Second,
		ConfirmAge:      30 * time.Second,
		SelectVolume:    30 * time.Second,
		SelectPayment:   30 * time.Second,
		AwaitingPayment: 120 * time.Second,
		Dispensing:      150 * time.Second,
		Finished:        5 * time.Second,
	}
}

// TimeoutsFromConfig converts the millisecond UI settings.
func TimeoutsFromConfig(cfg config.UIConfig) Timeouts {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }

	return Timeouts{
		Boot:            ms(cfg.BootDurationMS),
		Idle:            ms(cfg.IdleTimeoutMS),
		ConfirmAge:      ms(cfg.ConfirmAgeTimeoutMS),
		SelectVolume:    ms(cfg.SelectVolumeTimeoutMS),
		SelectPayment:   ms(cfg.SelectPaymentTimeoutMS),
		AwaitingPayment: ms(cfg.AwaitingPaymentTimeoutMS),
		Dispensing:      ms(cfg.DispensingTimeoutMS),
		Finished:        ms(cfg.FinishedTimeoutMS),
	}
}

// definition describes a state's automatic transition.
type definition struct {
	next    State
	timeout func(Timeouts) time.Duration
}

// definitions is the table of every known state and where its timeout leads.
var definitions = map[State]definition{
	StateBoot:            {next: StateIdle, timeout: func(t Timeouts) time.Duration { return t.Boot }},
	StateIdle:            {next: StateIdle, timeout: func(t Timeouts) time.Duration { return t.Idle }},
	StateConfirmAge:      {next: StateIdle, timeout: func(t Timeouts) time.Duration { return t.ConfirmAge }},
	StateSelectVolume:    {next: StateIdle, timeout: func(t Timeouts) time.Duration { return t.SelectVolume }},
	StateSelectPayment:   {next: StateIdle, timeout: func(t Timeouts) time.Duration { return t.SelectPayment }},
	StateAwaitingPayment: {next: StateIdle, timeout: func(t Timeouts) time.Duration { return t.AwaitingPayment }},
	StatePaymentDenied:   {next: StateIdle, timeout: func(Timeouts) time.Duration { return paymentDeniedTimeout }},
	StateAuthorized:      {next: StateDispensing, timeout: func(Timeouts) time.Duration { return authorizedTimeout }},
	StateDispensing:      {next: StateIdle, timeout: func(t Timeouts) time.Duration { return t.Dispensing }},
	StateFinished:        {next: StateIdle, timeout: func(t Timeouts) time.Duration { return t.Finished }},
}

// IsKnown reports whether s is a defined state.
func IsKnown(s State) bool {
	_, ok := definitions[s]
	return ok
}

// Next returns the automatic target and delay for s. ok is false when s arms no timeout.
func (t Timeouts) Next(s State) (next State, delay time.Duration, ok bool) {
	def, found := definitions[s]
	if !found {
		return "", 0, false
	}

	delay = def.timeout(t)
	if delay <= 0 {
		return "", 0, false
	}

	return def.next, delay, true
}
