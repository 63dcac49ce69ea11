package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Proton-105/pour-kiosk/internal/store"
)

func TestNewConsumptionReport(t *testing.T) {
	started := time.Date(2026, 3, 1, 18, 29, 40, 0, time.UTC)
	finished := started.Add(20 * time.Second)

	testCases := []struct {
		name     string
		tx       store.Transaction
		expected ConsumptionReport
	}{
		{
			name: "completed pour",
			tx: store.Transaction{
				Token:        "payload.signature",
				MLServed:     299.6,
				MLAuthorized: 300,
				SaleID:       "SALE-1",
				StartedAt:    started,
				FinishedAt:   finished,
			},
			expected: ConsumptionReport{
				TokenID:      "payload.signature",
				MachineID:    "KIOSK-01",
				MLServed:     300,
				MLAuthorized: 300,
				SaleID:       "SALE-1",
				Status:       ConsumptionOK,
				StartedAt:    started,
				FinishedAt:   finished,
			},
		},
		{
			name: "partial pour without start time",
			tx: store.Transaction{
				MLServed:      120.4,
				MLAuthorized:  400,
				SaleID:        "SALE-2",
				FinishedAt:    finished,
				Status:        ConsumptionPartial,
				DispenseError: "flow sensor timeout",
				Error:         "report_consumption: timeout",
			},
			expected: ConsumptionReport{
				MachineID:    "KIOSK-01",
				MLServed:     120,
				MLAuthorized: 400,
				SaleID:       "SALE-2",
				Status:       ConsumptionPartial,
				ErrorMessage: "flow sensor timeout",
				StartedAt:    finished,
				FinishedAt:   finished,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NewConsumptionReport("KIOSK-01", tc.tx))
		})
	}
}
