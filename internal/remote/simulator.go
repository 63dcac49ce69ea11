package remote

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	apperrors "github.com/Proton-105/pour-kiosk/internal/errors"
	"github.com/Proton-105/pour-kiosk/internal/token"
)

// DefaultSimulatorStep is the share of the authorized volume poured per status query.
const DefaultSimulatorStep = 10.0

// DefaultCatalog is served by the simulator.
var DefaultCatalog = Catalog{Beverages: []Beverage{
	{ID: "03c91279-bb24-467c-9a42-fb707a4eaa9d", Name: "Chopp Pilsen", Style: "Pilsen", ABV: 4.5, PricePerML: 0.04},
	{ID: "f31ce553-5a02-4029-a100-1b689761f5fd", Name: "Chopp IPA", Style: "IPA", ABV: 6.5, PricePerML: 0.06},
	{ID: "e83b3c86-46a6-4eeb-8882-2a91eacf892f", Name: "Água de Coco", Style: "Natural", ABV: 0, PricePerML: 0.03},
	{ID: "d48c308a-b8e0-4bf6-ab17-eeca6b2f92ef", Name: "Suco de Laranja", Style: "Natural", ABV: 0, PricePerML: 0.035},
}}

// Simulator is a deterministic in-process stand-in for the sales backend and the
// gateway. Authorization starts an asynchronous pour that advances by a fixed step on
// every status query.
type Simulator struct {
	log   *slog.Logger
	delay time.Duration
	step  float64

	mu           sync.Mutex
	catalog      Catalog
	saleSeq      int
	reportSeq    int
	saleID       string
	authorizedML float64
	progress     float64
	dispensing   bool
	failures     map[string][]error
	reports      []ConsumptionReport
	calls        map[string]int
}

// SimulatorOption customizes a Simulator.
type SimulatorOption func(*Simulator)

// WithLatency delays every simulated call.
func WithLatency(d time.Duration) SimulatorOption {
	return func(s *Simulator) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithStep sets the percentage poured per status query.
func WithStep(percent float64) SimulatorOption {
	return func(s *Simulator) {
		if percent > 0 {
			s.step = percent
		}
	}
}

// WithCatalog replaces the served catalog.
func WithCatalog(c Catalog) SimulatorOption {
	return func(s *Simulator) {
		s.catalog = c
	}
}

// NewSimulator creates a simulator serving DefaultCatalog.
func NewSimulator(log *slog.Logger, opts ...SimulatorOption) *Simulator {
	if log == nil {
		log = slog.Default()
	}

	s := &Simulator{
		log:      log.With("component", "remote_simulator"),
		step:     DefaultSimulatorStep,
		catalog:  DefaultCatalog,
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// FailNext makes the next call of operation fail with a remote error carrying msg.
// Calls queue up, so FailNext twice fails the next two calls.
func (s *Simulator) FailNext(operation, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[operation] = append(s.failures[operation], apperrors.NewRemoteError(operation, msg, nil))
}

// Reports returns the consumption reports received so far.
func (s *Simulator) Reports() []ConsumptionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConsumptionReport(nil), s.reports...)
}

// Calls returns how many times operation was invoked, failed calls included.
func (s *Simulator) Calls(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[operation]
}

// Reset abandons any simulated pour.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = 0
	s.dispensing = false
	s.saleID = ""
}

// GetBeverages returns the simulated catalog.
func (s *Simulator) GetBeverages(ctx context.Context) (*Catalog, error) {
	if err := s.begin(ctx, OpGetBeverages); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	catalog := Catalog{Beverages: append([]Beverage(nil), s.catalog.Beverages...)}
	return &catalog, nil
}

// RegisterSale returns sequential MOCK_SALE_<n> identifiers.
func (s *Simulator) RegisterSale(ctx context.Context, sale SaleRequest) (*SaleResponse, error) {
	if err := s.begin(ctx, OpRegisterSale); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saleSeq++
	id := fmt.Sprintf("MOCK_SALE_%d", s.saleSeq)
	s.log.Info("simulated sale registered", "sale_id", id, "beverage_id", sale.BeverageID, "volume_ml", sale.VolumeML)
	return &SaleResponse{SaleID: id}, nil
}

// Authorize accepts any well-formed token and starts a pour of its volume.
func (s *Simulator) Authorize(ctx context.Context, value string) (*AuthorizeResponse, error) {
	if err := s.begin(ctx, OpAuthorize); err != nil {
		return nil, err
	}

	payload, err := token.Parse(value)
	if err != nil {
		appErr := apperrors.NewRemoteError(OpAuthorize, "Invalid token format", err)
		appErr.Retryable = false
		return nil, appErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saleID = payload.SaleID
	s.authorizedML = float64(payload.VolumeML)
	s.progress = 0
	s.dispensing = true

	return &AuthorizeResponse{Authorized: true}, nil
}

// GetStatus advances the simulated pour by one step.
func (s *Simulator) GetStatus(ctx context.Context) (*DispenseStatus, error) {
	if err := s.begin(ctx, OpGetStatus); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dispensing {
		status := DispenseIdle
		if s.progress >= 100 {
			status = DispenseFinished
		}
		return &DispenseStatus{
			Status:       status,
			SaleID:       s.saleID,
			ServedML:     math.Round(s.progress / 100 * s.authorizedML),
			AuthorizedML: s.authorizedML,
			Percentage:   clampPercentage(s.progress),
		}, nil
	}

	s.progress = math.Min(s.progress+s.step, 100)
	status := DispenseStatus{
		Status:       DispenseDispensing,
		SaleID:       s.saleID,
		Dispensing:   true,
		ServedML:     math.Min(math.Round(s.progress/100*s.authorizedML), s.authorizedML),
		AuthorizedML: s.authorizedML,
		Percentage:   clampPercentage(s.progress),
	}
	if s.progress >= 100 {
		s.dispensing = false
		status.Status = DispenseFinished
		status.Dispensing = false
	}

	return &status, nil
}

// ReportConsumption records the report.
func (s *Simulator) ReportConsumption(ctx context.Context, report ConsumptionReport) (*ConsumptionAck, error) {
	if err := s.begin(ctx, OpReportConsumption); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportSeq++
	s.reports = append(s.reports, report)
	return &ConsumptionAck{
		Status:        "OK",
		Message:       "Consumption registered",
		ConsumptionID: fmt.Sprintf("MOCK_CONSUMPTION_%d", s.reportSeq),
	}, nil
}

func (s *Simulator) begin(ctx context.Context, operation string) error {
	s.mu.Lock()
	s.calls[operation]++
	var injected error
	if queued := s.failures[operation]; len(queued) > 0 {
		injected = queued[0]
		s.failures[operation] = queued[1:]
	}
	s.mu.Unlock()

	if s.delay > 0 {
		if ctx == nil {
			ctx = context.Background()
		}
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return apperrors.NewRemoteError(operation, describeTransportError(ctx.Err()), ctx.Err())
		case <-timer.C:
		}
	}

	return injected
}

var _ Client = (*Simulator)(nil)
