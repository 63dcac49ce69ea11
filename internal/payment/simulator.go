package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Proton-105/pour-kiosk/internal/state"
)

// Simulator approves every payment after a fixed delay unless told otherwise.
type Simulator struct {
	delay time.Duration
	clock state.Clock
	log   *slog.Logger

	mu       sync.Mutex
	seq      int
	outcomes []Result
	cancel   context.CancelFunc
}

// NewSimulator creates a simulator deciding each payment after delay.
func NewSimulator(delay time.Duration, log *slog.Logger) *Simulator {
	if log == nil {
		log = slog.Default()
	}

	return &Simulator{
		delay: delay,
		clock: state.SystemClock,
		log:   log.With("component", "payment_simulator"),
	}
}

// DenyNext makes the next transaction end DENIED with reason.
func (s *Simulator) DenyNext(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, Result{Status: StatusDenied, Reason: reason})
}

// FailNext makes the next transaction end with a processor error.
func (s *Simulator) FailNext(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, Result{Status: StatusError, Reason: reason})
}

// Start simulates a transaction.
func (s *Simulator) Start(ctx context.Context, req Request, listener Listener) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	txID := NewTransactionID(s.clock.Now())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.seq++
	seq := s.seq
	var forced *Result
	if len(s.outcomes) > 0 {
		forced = &s.outcomes[0]
		s.outcomes = s.outcomes[1:]
	}
	s.mu.Unlock()

	s.log.Info("simulated payment started", "transaction_id", txID, "method", string(req.Method), "amount", req.Amount)

	switch req.Method {
	case MethodPIX:
		notify(listener, Update{Status: ProgressPixGenerated, TransactionID: txID, QRCode: "MOCKPIX" + txID, ExpiresAt: s.clock.Now().Add(5 * time.Minute)})
	case MethodQR:
		notify(listener, Update{Status: ProgressQRGenerated, TransactionID: txID, QRCode: "MOCKQR" + txID, ExpiresAt: s.clock.Now().Add(5 * time.Minute)})
	default:
		notify(listener, Update{Status: ProgressPending, TransactionID: txID})
	}

	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			notify(listener, Update{Status: ProgressCancelled, TransactionID: txID})
			return &Result{Status: StatusDenied, TransactionID: txID, Reason: "cancelled"}, nil
		case <-timer.C:
		}
	} else if ctx.Err() != nil {
		return &Result{Status: StatusDenied, TransactionID: txID, Reason: "cancelled"}, nil
	}

	if forced != nil {
		result := *forced
		result.TransactionID = txID
		return &result, nil
	}

	paymentID := fmt.Sprintf("MOCK_PAY_%d", seq)
	return &Result{
		Status:        StatusApproved,
		TransactionID: txID,
		PaymentID:     paymentID,
		NSU:           paymentID,
		AuthCode:      fmt.Sprintf("%06d", seq),
		ApprovedAt:    s.clock.Now(),
	}, nil
}

// Cancel aborts the pending transaction, if any.
func (s *Simulator) Cancel(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

var _ Provider = (*Simulator)(nil)
