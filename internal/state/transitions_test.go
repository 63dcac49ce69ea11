package state

import (
	"testing"
	"time"

	"github.com/Proton-105/pour-kiosk/pkg/config"
)

func TestTimeoutsNext(t *testing.T) {
	timeouts := DefaultTimeouts()

	testCases := []struct {
		name      string
		from      State
		next      State
		delay     time.Duration
		expectArm bool
	}{
		{name: "boot to idle", from: StateBoot, next: StateIdle, delay: 3 * time.Second, expectArm: true},
		{name: "idle has no timeout by default", from: StateIdle, expectArm: false},
		{name: "confirm age back to idle", from: StateConfirmAge, next: StateIdle, delay: 30 * time.Second, expectArm: true},
		{name: "select volume back to idle", from: StateSelectVolume, next: StateIdle, delay: 30 * time.Second, expectArm: true},
		{name: "select payment back to idle", from: StateSelectPayment, next: StateIdle, delay: 30 * time.Second, expectArm: true},
		{name: "awaiting payment falls back to idle", from: StateAwaitingPayment, next: StateIdle, delay: 120 * time.Second, expectArm: true},
		{name: "payment denied fixed delay", from: StatePaymentDenied, next: StateIdle, delay: 3 * time.Second, expectArm: true},
		{name: "authorized moves to dispensing", from: StateAuthorized, next: StateDispensing, delay: time.Second, expectArm: true},
		{name: "dispensing fallback to idle", from: StateDispensing, next: StateIdle, delay: 150 * time.Second, expectArm: true},
		{name: "finished back to idle", from: StateFinished, next: StateIdle, delay: 5 * time.Second, expectArm: true},
		{name: "unknown state", from: State("REFUND"), expectArm: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			next, delay, ok := timeouts.Next(tc.from)
			if ok != tc.expectArm {
				t.Fatalf("Next(%s) armed = %t, expected %t", tc.from, ok, tc.expectArm)
			}
			if !ok {
				return
			}
			if next != tc.next || delay != tc.delay {
				t.Errorf("Next(%s) = (%s, %s), expected (%s, %s)", tc.from, next, delay, tc.next, tc.delay)
			}
		})
	}
}

func TestTimeoutsFromConfig_IdleLoop(t *testing.T) {
	timeouts := TimeoutsFromConfig(config.UIConfig{IdleTimeoutMS: 60000, FinishedTimeoutMS: 0})

	next, delay, ok := timeouts.Next(StateIdle)
	if !ok || next != StateIdle || delay != time.Minute {
		t.Fatalf("idle timeout = (%s, %s, %t), expected (IDLE, 1m, true)", next, delay, ok)
	}

	if _, _, ok := timeouts.Next(StateFinished); ok {
		t.Fatalf("zero finished timeout must not arm")
	}
}

func TestParseState(t *testing.T) {
	for _, s := range AllStates {
		parsed, ok := ParseState(string(s))
		if !ok || parsed != s {
			t.Errorf("ParseState(%q) = (%q, %t)", s, parsed, ok)
		}
	}

	if _, ok := ParseState("dispensing"); ok {
		t.Errorf("state names are case sensitive")
	}
}
