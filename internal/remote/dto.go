package remote

import (
	"math"
	"strings"
	"time"

	"github.com/Proton-105/pour-kiosk/internal/store"
)

// Consumption statuses accepted by the sales backend.
const (
	ConsumptionOK      = "OK"
	ConsumptionPartial = "PARTIAL"
	ConsumptionFailed  = "FAILED"
	ConsumptionError   = "ERROR"
)

// Dispense statuses reported by the gateway, normalized to upper case.
const (
	DispenseIdle        = "IDLE"
	DispenseValidating  = "VALIDATING"
	DispenseDispensing  = "DISPENSING"
	DispenseCompleted   = "COMPLETED"
	DispenseFinished    = "FINISHED"
	DispenseInterrupted = "INTERRUPTED"
	DispenseError       = "ERROR"
)

// Beverage is one catalog entry.
type Beverage struct {
	ID          string  `json:"id" validate:"required"`
	Name        string  `json:"name" validate:"required"`
	Style       string  `json:"style,omitempty"`
	Description string  `json:"description,omitempty"`
	ABV         float64 `json:"abv" validate:"gte=0,lte=100"`
	PricePerML  float64 `json:"price_per_ml" validate:"gt=0"`
	ImageURL    string  `json:"image_url,omitempty"`
}

// Alcoholic reports whether buying the beverage requires an age confirmation.
func (b Beverage) Alcoholic() bool {
	return b.ABV > 0
}

// Catalog is the response of the catalog fetch.
type Catalog struct {
	Beverages []Beverage `json:"beverages" validate:"dive"`
}

// Find returns the beverage with id.
func (c Catalog) Find(id string) (Beverage, bool) {
	for _, b := range c.Beverages {
		if b.ID == id {
			return b, true
		}
	}
	return Beverage{}, false
}

// SaleRequest registers an approved payment as a sale.
type SaleRequest struct {
	MachineID             string    `json:"machine_id" validate:"required"`
	BeverageID            string    `json:"beverage_id" validate:"required"`
	VolumeML              int       `json:"volume_ml" validate:"gt=0,lte=1000"`
	TotalValue            float64   `json:"total_value" validate:"gt=0"`
	PaymentMethod         string    `json:"payment_method" validate:"required"`
	PaymentTransactionID  string    `json:"payment_transaction_id" validate:"required"`
	PaymentNSU            string    `json:"payment_nsu,omitempty"`
	PaymentAuthCode       string    `json:"payment_auth_code,omitempty"`
	PaymentCardBrand      string    `json:"payment_card_brand,omitempty"`
	PaymentCardLastDigits string    `json:"payment_card_last_digits,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// SaleResponse carries the backend's canonical sale id.
type SaleResponse struct {
	SaleID string `json:"sale_id" validate:"required"`
}

// DispenseResult is the outcome of a pour the gateway ran synchronously.
type DispenseResult struct {
	Success            bool    `json:"success"`
	Status             string  `json:"status"`
	SaleID             string  `json:"sale_id"`
	VolumeAuthorizedML float64 `json:"volume_authorized_ml" validate:"gte=0"`
	VolumeDispensedML  float64 `json:"volume_dispensed_ml" validate:"gte=0"`
	DurationSeconds    float64 `json:"duration_seconds" validate:"gte=0"`
	ErrorMessage       string  `json:"error_message,omitempty"`
}

// Terminal reports whether the result describes a pour that already ended.
func (r DispenseResult) Terminal() bool {
	return isTerminal(normalizeStatus(r.Status))
}

// Completed reports whether the pour ended successfully.
func (r DispenseResult) Completed() bool {
	status := normalizeStatus(r.Status)
	return r.Success && (status == DispenseCompleted || status == DispenseFinished)
}

// AuthorizeResponse is the gateway's answer to a token submission.
type AuthorizeResponse struct {
	Authorized bool            `json:"authorized"`
	Result     *DispenseResult `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// DispenseStatus is a transient snapshot of the gateway's dispenser.
type DispenseStatus struct {
	Status       string
	SaleID       string
	Dispensing   bool
	ServedML     float64
	AuthorizedML float64
	Percentage   int
	Error        string
}

// Terminal reports whether polling can stop.
func (s DispenseStatus) Terminal() bool {
	return isTerminal(s.Status)
}

// Completed reports whether the pour finished successfully.
func (s DispenseStatus) Completed() bool {
	return s.Status == DispenseCompleted || s.Status == DispenseFinished
}

// Failed reports whether the gateway ended the pour with an error or interruption.
func (s DispenseStatus) Failed() bool {
	return s.Status == DispenseError || s.Status == DispenseInterrupted
}

// statusResponse accepts both the gateway's nested dispenser shape and the flat shape
// served by simulators.
type statusResponse struct {
	Dispenser *struct {
		Status             string  `json:"status"`
		IsDispensing       bool    `json:"is_dispensing"`
		CurrentSaleID      string  `json:"current_sale_id"`
		VolumeDispensedML  float64 `json:"volume_dispensed_ml" validate:"gte=0"`
		VolumeAuthorizedML float64 `json:"volume_authorized_ml" validate:"gte=0"`
		ErrorMessage       string  `json:"error_message"`
	} `json:"dispenser"`
	State        string   `json:"state"`
	MLServed     float64  `json:"ml_served" validate:"gte=0"`
	MLAuthorized float64  `json:"ml_authorized" validate:"gte=0"`
	Percentage   *float64 `json:"percentage"`
	Error        string   `json:"error"`
}

func (r statusResponse) normalize() DispenseStatus {
	var status DispenseStatus
	if d := r.Dispenser; d != nil {
		status = DispenseStatus{
			Status:       normalizeStatus(d.Status),
			SaleID:       d.CurrentSaleID,
			Dispensing:   d.IsDispensing,
			ServedML:     d.VolumeDispensedML,
			AuthorizedML: d.VolumeAuthorizedML,
			Error:        d.ErrorMessage,
		}
	} else {
		status = DispenseStatus{
			Status:       normalizeStatus(r.State),
			ServedML:     r.MLServed,
			AuthorizedML: r.MLAuthorized,
			Error:        r.Error,
		}
		status.Dispensing = status.Status == DispenseDispensing
	}

	switch {
	case r.Percentage != nil:
		status.Percentage = clampPercentage(*r.Percentage)
	default:
		status.Percentage = Percentage(status.ServedML, status.AuthorizedML)
	}

	return status
}

// ConsumptionReport tells the sales backend how much was actually poured.
type ConsumptionReport struct {
	TokenID      string    `json:"token_id,omitempty"`
	MachineID    string    `json:"machine_id" validate:"required"`
	MLServed     int       `json:"ml_served" validate:"gte=0"`
	MLAuthorized int       `json:"ml_authorized" validate:"gte=0"`
	SaleID       string    `json:"sale_id,omitempty"`
	Status       string    `json:"status" validate:"oneof=OK PARTIAL FAILED ERROR"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// NewConsumptionReport builds the report for a persisted transaction, rounding the
// volumes to whole millilitres. A transaction without a start time reports its
// finish time instead.
func NewConsumptionReport(machineID string, tx store.Transaction) ConsumptionReport {
	status := tx.Status
	if status == "" {
		status = ConsumptionOK
	}

	startedAt := tx.StartedAt
	if startedAt.IsZero() {
		startedAt = tx.FinishedAt
	}

	return ConsumptionReport{
		TokenID:      tx.Token,
		MachineID:    machineID,
		MLServed:     int(math.Round(tx.MLServed)),
		MLAuthorized: int(math.Round(tx.MLAuthorized)),
		SaleID:       tx.SaleID,
		Status:       status,
		ErrorMessage: tx.DispenseError,
		StartedAt:    startedAt,
		FinishedAt:   tx.FinishedAt,
	}
}

// ConsumptionAck is the backend's confirmation of a report.
type ConsumptionAck struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	ConsumptionID string `json:"consumption_id,omitempty"`
}

// Percentage returns served as a share of authorized, rounded and capped to 0..100.
func Percentage(served, authorized float64) int {
	if authorized <= 0 {
		return 0
	}
	return clampPercentage(served / authorized * 100)
}

func clampPercentage(p float64) int {
	return int(math.Round(math.Max(0, math.Min(p, 100))))
}

func normalizeStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func isTerminal(status string) bool {
	switch status {
	case DispenseCompleted, DispenseFinished, DispenseInterrupted, DispenseError:
		return true
	default:
		return false
	}
}
