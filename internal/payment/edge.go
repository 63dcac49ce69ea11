package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Proton-105/pour-kiosk/internal/errors"
	"github.com/Proton-105/pour-kiosk/pkg/config"
)

const operationStart = "payment_start"

// EdgeProvider collects payments through the gateway's payment endpoints: it starts a
// transaction, then polls its status until it is approved, rejected or times out.
type EdgeProvider struct {
	baseURL      string
	pollInterval time.Duration
	timeout      time.Duration
	http         *http.Client
	log          *slog.Logger
	now          func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewEdgeProvider builds a provider for cfg.EdgePaymentsURL.
func NewEdgeProvider(cfg config.PaymentConfig, client *http.Client, log *slog.Logger) *EdgeProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}

	p := &EdgeProvider{
		baseURL:      strings.TrimRight(cfg.EdgePaymentsURL, "/"),
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		http:         client,
		log:          log.With("component", "payment_edge"),
		now:          time.Now,
	}
	if p.pollInterval <= 0 {
		p.pollInterval = time.Second
	}
	if p.timeout <= 0 {
		p.timeout = 5 * time.Minute
	}

	return p
}

type startRequest struct {
	Amount            float64 `json:"amount"`
	VolumeML          int     `json:"volume_ml"`
	BeverageID        string  `json:"beverage_id"`
	PaymentType       string  `json:"payment_type"`
	ExternalReference string  `json:"external_reference"`
	Installments      int     `json:"installments"`
}

type startResponse struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"payment_id"`
	QRCode    string `json:"qr_code"`
	QRBase64  string `json:"qr_base64"`
	ExpiresAt string `json:"expires_at"`
	PixE2EID  string `json:"pix_e2e_id"`
	Error     string `json:"error"`
}

type statusResponse struct {
	Success        bool   `json:"success"`
	Status         string `json:"status"`
	Approved       bool   `json:"approved"`
	AuthCode       string `json:"authorization_code"`
	CardBrand      string `json:"card_brand"`
	CardLastDigits string `json:"card_last_digits"`
	PixE2EID       string `json:"pix_e2e_id"`
}

// Start runs a transaction to its decision.
func (p *EdgeProvider) Start(ctx context.Context, req Request, listener Listener) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	txID := NewTransactionID(p.now())
	installments := req.Installments
	if installments <= 0 {
		installments = 1
	}

	var started startResponse
	err := p.post(ctx, "/start", startRequest{
		Amount:            req.Amount,
		VolumeML:          req.VolumeML,
		BeverageID:        req.BeverageID,
		PaymentType:       string(req.Method),
		ExternalReference: txID,
		Installments:      installments,
	}, &started)
	if err != nil {
		return nil, err
	}
	if !started.Success {
		reason := started.Error
		if reason == "" {
			reason = "payment start refused"
		}
		return &Result{Status: StatusError, TransactionID: txID, Reason: reason}, nil
	}

	expiresAt, _ := time.Parse(time.RFC3339, started.ExpiresAt)
	update := Update{
		Status:        ProgressPending,
		TransactionID: txID,
		QRCode:        started.QRCode,
		QRCodeBase64:  started.QRBase64,
		ExpiresAt:     expiresAt,
	}
	switch req.Method {
	case MethodPIX:
		update.Status = ProgressPixGenerated
	case MethodQR:
		update.Status = ProgressQRGenerated
	}
	notify(listener, update)

	statusPath := "/status/" + started.PaymentID
	if req.Method == MethodQR {
		statusPath = "/order/status/" + started.PaymentID
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if !expiresAt.IsZero() && p.now().After(expiresAt) {
			return &Result{Status: StatusDenied, TransactionID: txID, PaymentID: started.PaymentID, Reason: "expired"}, nil
		}

		var status statusResponse
		if err := p.get(ctx, statusPath, &status); err != nil {
			if ctx.Err() == nil {
				p.log.Warn("payment status query failed", "payment_id", started.PaymentID, "error", err)
			}
		} else if status.Success {
			switch {
			case status.Approved || strings.EqualFold(status.Status, "approved"):
				return &Result{
					Status:         StatusApproved,
					TransactionID:  txID,
					PaymentID:      started.PaymentID,
					NSU:            started.PaymentID,
					AuthCode:       status.AuthCode,
					CardBrand:      status.CardBrand,
					CardLastDigits: status.CardLastDigits,
					PixEndToEndID:  firstNonEmpty(status.PixE2EID, started.PixE2EID),
					ApprovedAt:     p.now(),
				}, nil
			case strings.EqualFold(status.Status, "rejected"), strings.EqualFold(status.Status, "cancelled"):
				return &Result{Status: StatusDenied, TransactionID: txID, PaymentID: started.PaymentID, Reason: strings.ToLower(status.Status)}, nil
			}
		}

		select {
		case <-ctx.Done():
			reason := "cancelled"
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				reason = "timeout"
			}
			notify(listener, Update{Status: ProgressCancelled, TransactionID: txID})
			return &Result{Status: StatusDenied, TransactionID: txID, PaymentID: started.PaymentID, Reason: reason}, nil
		case <-ticker.C:
		}
	}
}

// Cancel aborts the pending transaction locally.
func (p *EdgeProvider) Cancel(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	p.cancel = nil
	return nil
}

func (p *EdgeProvider) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return apperrors.NewValidationError("payment request is not serializable").Wrap(err)
	}
	return p.send(ctx, http.MethodPost, path, bytes.NewReader(data), out)
}

func (p *EdgeProvider) get(ctx context.Context, path string, out any) error {
	return p.send(ctx, http.MethodGet, path, nil, out)
}

func (p *EdgeProvider) send(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return apperrors.NewRemoteError(operationStart, "invalid request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		msg := "no connection"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "timeout"
		}
		return apperrors.NewRemoteError(operationStart, msg, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body close error is irrelevant once read.

	// error statuses still carry success=false and the reason in the body
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return apperrors.NewRemoteError(operationStart,
				fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)), err)
		}
		return apperrors.NewRemoteError(operationStart, "invalid response", err)
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Provider = (*EdgeProvider)(nil)
