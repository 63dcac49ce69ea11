package payment

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/pour-kiosk/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseMethod(t *testing.T) {
	testCases := []struct {
		input    string
		expected Method
		ok       bool
	}{
		{input: "PIX", expected: MethodPIX, ok: true},
		{input: "credit", expected: MethodCredit, ok: true},
		{input: " Debit ", expected: MethodDebit, ok: true},
		{input: "qr", expected: MethodQR, ok: true},
		{input: "CASH"},
		{input: ""},
	}

	for _, tc := range testCases {
		got, ok := ParseMethod(tc.input)
		assert.Equal(t, tc.ok, ok, tc.input)
		assert.Equal(t, tc.expected, got, tc.input)
	}
}

func TestSimulator_Approves(t *testing.T) {
	sim := NewSimulator(0, testLogger())

	var updates []Update
	result, err := sim.Start(context.Background(), Request{Amount: 12, Method: MethodPIX}, func(u Update) {
		updates = append(updates, u)
	})

	require.NoError(t, err)
	assert.True(t, result.Approved())
	assert.True(t, strings.HasPrefix(result.TransactionID, "TXN_"))
	assert.Equal(t, "MOCK_PAY_1", result.NSU)
	require.Len(t, updates, 1)
	assert.Equal(t, ProgressPixGenerated, updates[0].Status)
	assert.NotEmpty(t, updates[0].QRCode)
}

func TestSimulator_DenyAndFail(t *testing.T) {
	sim := NewSimulator(0, testLogger())
	sim.DenyNext("insufficient funds")
	sim.FailNext("terminal offline")

	denied, err := sim.Start(context.Background(), Request{Method: MethodCredit}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, denied.Status)
	assert.Equal(t, "insufficient funds", denied.Reason)

	failed, err := sim.Start(context.Background(), Request{Method: MethodDebit}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusError, failed.Status)

	approved, err := sim.Start(context.Background(), Request{Method: MethodDebit}, nil)
	require.NoError(t, err)
	assert.True(t, approved.Approved())
}

func TestSimulator_Cancel(t *testing.T) {
	sim := NewSimulator(time.Hour, testLogger())

	done := make(chan *Result, 1)
	started := make(chan struct{})
	go func() {
		result, _ := sim.Start(context.Background(), Request{Method: MethodQR}, func(u Update) {
			if u.Status == ProgressQRGenerated {
				close(started)
			}
		})
		done <- result
	}()

	<-started
	require.NoError(t, sim.Cancel(context.Background()))

	select {
	case result := <-done:
		assert.Equal(t, StatusDenied, result.Status)
		assert.Equal(t, "cancelled", result.Reason)
	case <-time.After(time.Second):
		t.Fatal("cancel did not interrupt the payment")
	}
}

func newEdgeProvider(t *testing.T, handler http.Handler) *EdgeProvider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewEdgeProvider(config.PaymentConfig{
		EdgePaymentsURL: srv.URL + "/edge/payments",
		PollInterval:    5 * time.Millisecond,
		Timeout:         time.Second,
	}, srv.Client(), testLogger())
}

func TestEdgeProvider_ApprovedAfterPolling(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/edge/payments/start", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "PIX", body["payment_type"])
		assert.EqualValues(t, 1, body["installments"])
		assert.True(t, strings.HasPrefix(body["external_reference"].(string), "TXN_"))

		_, _ = io.WriteString(w, `{"success":true,"payment_id":"mp-77","qr_code":"000201..."}`)
	})
	mux.HandleFunc("/edge/payments/status/mp-77", func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) < 3 {
			_, _ = io.WriteString(w, `{"success":true,"status":"pending"}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"status":"approved","approved":true,"pix_e2e_id":"E2E1"}`)
	})

	provider := newEdgeProvider(t, mux)

	var updates []Update
	result, err := provider.Start(context.Background(), Request{Amount: 12, Method: MethodPIX, VolumeML: 300, BeverageID: "ipa"}, func(u Update) {
		updates = append(updates, u)
	})

	require.NoError(t, err)
	assert.True(t, result.Approved())
	assert.Equal(t, "mp-77", result.PaymentID)
	assert.Equal(t, "mp-77", result.NSU)
	assert.Equal(t, "E2E1", result.PixEndToEndID)
	assert.EqualValues(t, 3, polls.Load())
	require.NotEmpty(t, updates)
	assert.Equal(t, "000201...", updates[0].QRCode)
}

func TestEdgeProvider_Rejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/edge/payments/start", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"payment_id":"mp-1"}`)
	})
	mux.HandleFunc("/edge/payments/order/status/mp-1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"status":"rejected"}`)
	})

	result, err := newEdgeProvider(t, mux).Start(context.Background(), Request{Method: MethodQR}, nil)

	require.NoError(t, err)
	assert.Equal(t, StatusDenied, result.Status)
	assert.Equal(t, "rejected", result.Reason)
}

func TestEdgeProvider_StartRefused(t *testing.T) {
	provider := newEdgeProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"success":false,"error":"Invalid amount"}`)
	}))

	result, err := provider.Start(context.Background(), Request{Method: MethodDebit}, nil)

	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, "Invalid amount", result.Reason)
}

func TestEdgeProvider_Timeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/edge/payments/start", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"payment_id":"mp-2"}`)
	})
	mux.HandleFunc("/edge/payments/status/mp-2", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"status":"pending"}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	provider := NewEdgeProvider(config.PaymentConfig{
		EdgePaymentsURL: srv.URL + "/edge/payments",
		PollInterval:    5 * time.Millisecond,
		Timeout:         50 * time.Millisecond,
	}, srv.Client(), testLogger())

	result, err := provider.Start(context.Background(), Request{Method: MethodCredit}, nil)

	require.NoError(t, err)
	assert.Equal(t, StatusDenied, result.Status)
	assert.Equal(t, "timeout", result.Reason)
}
