package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HeaderName carries the key on mutating requests to the sales backend.
const HeaderName = "Idempotency-Key"

// GenerateKey builds a deterministic key using all provided parts.
func GenerateKey(parts ...any) string {
	h := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%v:", part)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// SaleKey identifies one sale registration. Retrying the same approved payment yields
// the same key.
func SaleKey(machineID, paymentTransactionID string) string {
	return GenerateKey("sale", machineID, paymentTransactionID)
}

// ConsumptionKey identifies one consumption report. The token is single-use, so a
// report re-sent after a restart carries the key of the first attempt.
func ConsumptionKey(machineID, token string) string {
	return GenerateKey("consumption", machineID, token)
}
