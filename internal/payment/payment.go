// Package payment is the kiosk's boundary with the card/PIX processor. Only the
// outcome of a transaction (approved, denied or error plus identifiers) reaches the
// purchase flow.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Method is a payment method offered on the kiosk.
type Method string

const (
	MethodPIX    Method = "PIX"
	MethodCredit Method = "CREDIT"
	MethodDebit  Method = "DEBIT"
	MethodQR     Method = "QR"
)

// Methods lists the supported methods in display order.
var Methods = []Method{MethodPIX, MethodCredit, MethodDebit, MethodQR}

// ParseMethod resolves a method name case-insensitively.
func ParseMethod(name string) (Method, bool) {
	candidate := Method(strings.ToUpper(strings.TrimSpace(name)))
	for _, m := range Methods {
		if m == candidate {
			return m, true
		}
	}
	return "", false
}

// Status is the outcome of a transaction.
type Status string

const (
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
	StatusError    Status = "ERROR"
)

// Request describes the amount to collect.
type Request struct {
	Amount       float64
	Method       Method
	VolumeML     int
	BeverageID   string
	Installments int
}

// Result is the outcome handed back to the purchase flow.
type Result struct {
	Status         Status
	TransactionID  string
	PaymentID      string
	NSU            string
	AuthCode       string
	CardBrand      string
	CardLastDigits string
	PixEndToEndID  string
	Reason         string
	ApprovedAt     time.Time
}

// Approved reports whether the payment can be turned into a sale.
func (r Result) Approved() bool {
	return r.Status == StatusApproved
}

// Progress statuses reported while a transaction is pending.
const (
	ProgressPixGenerated = "PIX_GENERATED"
	ProgressQRGenerated  = "QR_GENERATED"
	ProgressPending      = "PENDING"
	ProgressCancelled    = "CANCELLED"
)

// Update is an intermediate notification, e.g. a QR code to display.
type Update struct {
	Status        string
	TransactionID string
	QRCode        string
	QRCodeBase64  string
	ExpiresAt     time.Time
}

// Listener receives updates while a transaction is pending.
type Listener func(Update)

// Provider collects a payment. Start blocks until the transaction is decided, ctx
// ends or Cancel is called.
type Provider interface {
	Start(ctx context.Context, req Request, listener Listener) (*Result, error)
	Cancel(ctx context.Context) error
}

// NewTransactionID returns a local transaction identifier.
func NewTransactionID(now time.Time) string {
	return fmt.Sprintf("TXN_%d_%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
}

func notify(listener Listener, update Update) {
	if listener != nil {
		listener(update)
	}
}
