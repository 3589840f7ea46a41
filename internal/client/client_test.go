package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_InitiatePush(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/mpesa/stk-push", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got["phone_number"] == "bad" {
			writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": "Bad Request - Invalid PhoneNumber"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "transactionId": "txn-1", "checkoutRequestId": "ws_1", "message": "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", time.Second)
	resp, err := c.InitiatePush(context.Background(), PushRequest{PhoneNumber: "0712345678", Amount: 2500, LeaseID: "lease-1"})
	require.NoError(t, err)
	assert.Equal(t, "txn-1", resp.TransactionID)
	assert.Equal(t, "ws_1", resp.CheckoutRequestID)
	assert.Equal(t, "lease-1", got["lease_id"])
	assert.Equal(t, 2500.0, got["amount"])

	resp, err = c.InitiatePush(context.Background(), PushRequest{PhoneNumber: "bad", Amount: 1, LeaseID: "lease-1"})
	assert.ErrorIs(t, err, ErrPushRejected)
	require.NotNil(t, resp)
	assert.Equal(t, "Bad Request - Invalid PhoneNumber", resp.Error)
}

func TestClient_GetTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/mpesa/transaction/txn-1":
			writeJSON(w, http.StatusOK, map[string]any{"transaction": map[string]any{
				"id": "txn-1", "status": "completed", "amount": 2500, "mpesa_receipt_number": "QGR7XXXX1", "result_code": 0,
			}})
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "mpesa transaction not found"})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", time.Second)
	txn, err := c.GetTransaction(context.Background(), "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", txn.Status)
	require.NotNil(t, txn.MpesaReceiptNumber)
	assert.Equal(t, "QGR7XXXX1", *txn.MpesaReceiptNumber)

	_, err = c.GetTransaction(context.Background(), "txn-2")
	assert.ErrorIs(t, err, ErrRequest)
	assert.Contains(t, err.Error(), "404")
}

// sequence 依次返回给定状态，之后一直返回最后一个
func sequence(statuses ...string) (FetchFunc, *int32) {
	var calls int32
	return func(_ context.Context, id string) (*Transaction, error) {
		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		if statuses[n] == "error" {
			return nil, errors.New("connection refused")
		}
		return &Transaction{ID: id, Status: statuses[n]}, nil
	}, &calls
}

func TestPoller_Completes(t *testing.T) {
	fetch, calls := sequence("pending", "error", "completed")
	p := Poller{Interval: time.Millisecond, MaxAttempts: 10}

	out, err := p.Wait(context.Background(), "txn-1", fetch)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 3, out.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	assert.Error(t, out.LastErr)
}

func TestPoller_Failed(t *testing.T) {
	fetch, _ := sequence("failed")
	out, err := Poller{Interval: time.Millisecond, MaxAttempts: 5}.Wait(context.Background(), "txn-1", fetch)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, 1, out.Attempts)
}

func TestPoller_CeilingReturnsPending(t *testing.T) {
	fetch, calls := sequence("pending")
	out, err := Poller{Interval: time.Millisecond, MaxAttempts: 4}.Wait(context.Background(), "txn-1", fetch)
	require.NoError(t, err)
	assert.Equal(t, StatePending, out.State)
	assert.Equal(t, 4, out.Attempts)
	assert.EqualValues(t, 4, atomic.LoadInt32(calls))
	require.NotNil(t, out.Transaction)
	assert.Equal(t, "pending", out.Transaction.Status)
}

func TestPoller_ContextCancel(t *testing.T) {
	fetch, _ := sequence("pending")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out, err := Poller{Interval: time.Hour, MaxAttempts: 10}.Wait(ctx, "txn-1", fetch)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatePending, out.State)
	assert.Equal(t, 1, out.Attempts)
}

func TestPoller_NilTransactionCountsAsFailedFetch(t *testing.T) {
	var calls int32
	fetch := func(_ context.Context, id string) (*Transaction, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, nil
		}
		return &Transaction{ID: id, Status: "completed"}, nil
	}

	out, err := Poller{Interval: time.Millisecond, MaxAttempts: 5}.Wait(context.Background(), "txn-1", fetch)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 2, out.Attempts)
	assert.ErrorIs(t, out.LastErr, ErrRequest)

	empty := func(context.Context, string) (*Transaction, error) { return nil, nil }
	out, err = Poller{Interval: time.Millisecond, MaxAttempts: 3}.Wait(context.Background(), "txn-1", empty)
	require.NoError(t, err)
	assert.Equal(t, StatePending, out.State)
	assert.Equal(t, 3, out.Attempts)
	assert.Nil(t, out.Transaction)
}
