// Package remote talks to the sales backend and the local dispensing gateway.
//
// Every failure crossing this boundary is an *errors.AppError with code E300 whose
// message names the condition: "timeout", "no connection", "HTTP <code>: <text>" or
// "invalid response".
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/Proton-105/pour-kiosk/internal/errors"
	"github.com/Proton-105/pour-kiosk/internal/idempotency"
	"github.com/Proton-105/pour-kiosk/pkg/config"
	"github.com/Proton-105/pour-kiosk/pkg/logger"
	"github.com/Proton-105/pour-kiosk/pkg/metrics"
)

// Operation names used in errors, logs and metrics.
const (
	OpGetBeverages      = "get_beverages"
	OpRegisterSale      = "register_sale"
	OpAuthorize         = "authorize"
	OpGetStatus         = "get_status"
	OpReportConsumption = "report_consumption"
)

const (
	apiKeyHeader   = "X-API-Key"
	maxBodyBytes   = 1 << 20
	defaultTimeout = 30 * time.Second
)

// Client is the remote surface the kiosk core consumes.
type Client interface {
	GetBeverages(ctx context.Context) (*Catalog, error)
	RegisterSale(ctx context.Context, sale SaleRequest) (*SaleResponse, error)
	Authorize(ctx context.Context, token string) (*AuthorizeResponse, error)
	GetStatus(ctx context.Context) (*DispenseStatus, error)
	ReportConsumption(ctx context.Context, report ConsumptionReport) (*ConsumptionAck, error)
}

// HTTPError is the cause attached to non-2xx responses.
type HTTPError struct {
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Detail)
}

// HTTPClient implements Client over JSON/HTTP.
type HTTPClient struct {
	saasURL          string
	edgeURL          string
	apiKey           string
	timeout          time.Duration
	authorizeTimeout time.Duration

	http     *http.Client
	breaker  *apperrors.CircuitBreaker
	validate *validator.Validate
	log      *slog.Logger
}

// HTTPOption customizes an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the transport client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.http = c
		}
	}
}

// WithBreaker replaces the circuit breaker guarding sales backend calls.
func WithBreaker(cb *apperrors.CircuitBreaker) HTTPOption {
	return func(h *HTTPClient) {
		if cb != nil {
			h.breaker = cb
		}
	}
}

// NewHTTPClient builds a client for the configured sales backend and gateway.
func NewHTTPClient(cfg config.APIConfig, log *slog.Logger, opts ...HTTPOption) *HTTPClient {
	if log == nil {
		log = slog.Default()
	}

	c := &HTTPClient{
		saasURL:          strings.TrimRight(cfg.SaaSURL, "/"),
		edgeURL:          strings.TrimRight(cfg.EdgeURL, "/"),
		apiKey:           cfg.APIKey,
		timeout:          cfg.Timeout,
		authorizeTimeout: cfg.AuthorizeTimeout,
		http:             &http.Client{},
		breaker:          apperrors.NewCircuitBreaker("saas"),
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		log:              log.With("component", "remote"),
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.authorizeTimeout <= 0 {
		c.authorizeTimeout = c.timeout
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetBeverages fetches the active catalog.
func (c *HTTPClient) GetBeverages(ctx context.Context) (*Catalog, error) {
	var catalog Catalog
	err := c.saas(ctx, request{
		operation: OpGetBeverages,
		method:    http.MethodGet,
		path:      "/api/v1/beverages",
	}, &catalog)
	if err != nil {
		return nil, err
	}

	return &catalog, nil
}

// RegisterSale records an approved payment and returns the canonical sale id.
func (c *HTTPClient) RegisterSale(ctx context.Context, sale SaleRequest) (*SaleResponse, error) {
	if err := c.validate.Struct(sale); err != nil {
		return nil, apperrors.NewValidationError("invalid sale request").Wrap(err)
	}

	var resp SaleResponse
	err := c.saas(ctx, request{
		operation:      OpRegisterSale,
		method:         http.MethodPost,
		path:           "/api/v1/sales",
		body:           sale,
		idempotencyKey: idempotency.SaleKey(sale.MachineID, sale.PaymentTransactionID),
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// ReportConsumption sends the served volume of a finished pour.
func (c *HTTPClient) ReportConsumption(ctx context.Context, report ConsumptionReport) (*ConsumptionAck, error) {
	if err := c.validate.Struct(report); err != nil {
		return nil, apperrors.NewValidationError("invalid consumption report").Wrap(err)
	}

	var ack ConsumptionAck
	err := c.saas(ctx, request{
		operation:      OpReportConsumption,
		method:         http.MethodPost,
		path:           "/api/v1/consumptions",
		body:           report,
		idempotencyKey: idempotency.ConsumptionKey(report.MachineID, report.TokenID),
	}, &ack)
	if err != nil {
		return nil, err
	}

	return &ack, nil
}

// Authorize submits the dispense token. The gateway may run the whole pour before it
// answers, so the call is bound to the long authorize timeout.
func (c *HTTPClient) Authorize(ctx context.Context, token string) (*AuthorizeResponse, error) {
	var resp AuthorizeResponse
	err := c.do(ctx, request{
		operation: OpAuthorize,
		method:    http.MethodPost,
		url:       c.edgeURL + "/edge/authorize",
		body:      map[string]string{"token": token},
		timeout:   c.authorizeTimeout,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if !resp.Authorized {
		reason := resp.Error
		if reason == "" {
			reason = "authorization refused"
		}
		appErr := apperrors.NewRemoteError(OpAuthorize, reason, nil)
		appErr.Retryable = false
		return nil, appErr
	}

	return &resp, nil
}

// GetStatus queries the dispenser.
func (c *HTTPClient) GetStatus(ctx context.Context) (*DispenseStatus, error) {
	var resp statusResponse
	err := c.do(ctx, request{
		operation: OpGetStatus,
		method:    http.MethodGet,
		url:       c.edgeURL + "/edge/status",
	}, &resp)
	if err != nil {
		return nil, err
	}

	status := resp.normalize()
	return &status, nil
}

type request struct {
	operation      string
	method         string
	path           string
	url            string
	body           any
	timeout        time.Duration
	idempotencyKey string
	saas           bool
}

// saas runs a sales backend call through the circuit breaker.
func (c *HTTPClient) saas(ctx context.Context, req request, out any) error {
	req.saas = true
	req.url = c.saasURL + req.path

	err := c.breaker.Call(func() error {
		return c.do(ctx, req, out)
	})
	if errors.Is(err, apperrors.ErrCircuitOpen) {
		c.log.Warn("sales backend circuit open", "operation", req.operation)
		metrics.RecordRemoteRequest(req.operation, "circuit_open", 0)
		return apperrors.NewRemoteError(req.operation, "circuit open", err)
	}

	return err
}

func (c *HTTPClient) do(ctx context.Context, req request, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	err := c.roundTrip(ctx, req, out)
	duration := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		c.log.Warn("remote call failed",
			"operation", req.operation,
			"attempt_id", logger.AttemptIDFromContext(ctx),
			"duration", duration,
			"error", err,
		)
	} else {
		c.log.Debug("remote call succeeded", "operation", req.operation, "duration", duration)
	}
	metrics.RecordRemoteRequest(req.operation, status, duration)

	return err
}

func (c *HTTPClient) roundTrip(ctx context.Context, req request, out any) error {
	timeout := req.timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("%s: request is not serializable", req.operation)).Wrap(err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return apperrors.NewRemoteError(req.operation, "invalid request", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.saas && c.apiKey != "" {
		httpReq.Header.Set(apiKeyHeader, c.apiKey)
	}
	if req.idempotencyKey != "" {
		httpReq.Header.Set(idempotency.HeaderName, req.idempotencyKey)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		httpReq.Header.Set("X-Correlation-ID", id)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return apperrors.NewRemoteError(req.operation, describeTransportError(err), err)
	}
	defer resp.Body.Close() //nolint:errcheck // body close error is irrelevant once read.

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return apperrors.NewRemoteError(req.operation, describeTransportError(err), err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Detail: errorDetail(payload)}
		appErr := apperrors.NewRemoteError(req.operation,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)), httpErr)
		appErr.Retryable = resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
		return appErr
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return apperrors.NewRemoteError(req.operation, "invalid response", err)
	}

	if err := c.validate.Struct(out); err != nil {
		return apperrors.NewRemoteError(req.operation, "invalid response", err)
	}

	return nil
}

func describeTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	return "no connection"
}

// errorDetail extracts the reason a backend put in an error body.
func errorDetail(payload []byte) string {
	var body struct {
		Error   string `json:"error"`
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}

	switch {
	case body.Error != "":
		return body.Error
	case body.Message != "":
		return body.Message
	case body.Detail != nil:
		if s, ok := body.Detail.(string); ok {
			return s
		}
		data, _ := json.Marshal(body.Detail)
		return string(data)
	default:
		return ""
	}
}

var _ Client = (*HTTPClient)(nil)
