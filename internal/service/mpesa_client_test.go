package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rentdesk/internal/config"
	"rentdesk/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeDaraja 模拟 Daraja 网关
type fakeDaraja struct {
	tokenStatus int
	pushStatus  int
	pushResp    map[string]any
	queryStatus int
	queryResp   map[string]any

	tokenCalls int
	lastPush   map[string]any
	lastQuery  map[string]any
	lastAuth   string
}

func (f *fakeDaraja) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls++
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" || r.URL.Query().Get("grant_type") != "client_credentials" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"errorMessage": "bad credentials"})
			return
		}
		if f.tokenStatus != 0 && f.tokenStatus != http.StatusOK {
			writeJSON(w, f.tokenStatus, map[string]any{"errorMessage": "auth failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "tok-123", "expires_in": "3599"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&f.lastPush)
		status := f.pushStatus
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, f.pushResp)
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastQuery)
		status := f.queryStatus
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, f.queryResp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestMpesaClient(t *testing.T, f *fakeDaraja) *MpesaClient {
	srv := f.server(t)
	c := NewMpesaClient(config.MpesaConfig{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "passkey",
		CallbackURL:    "https://example.com/api/mpesa/callback",
		Timeout:        5 * time.Second,
	}, zap.NewNop())
	c.now = func() time.Time { return time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC) }
	return c
}

func TestNormalizePhone(t *testing.T) {
	valid := []string{
		"0712345678",
		"+254 712-345-678",
		"712345678",
		"(0712) 345678",
		"254712345678",
	}
	for _, in := range valid {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, "254712345678", got, in)
	}

	got, err := NormalizePhone("0110123456")
	require.NoError(t, err)
	assert.Equal(t, "254110123456", got)

	for _, in := range []string{"", "12345", "071234567", "abc0712345678", "+1 415 555 0100"} {
		_, err := NormalizePhone(in)
		assert.ErrorIs(t, err, domain.ErrValidation, in)
	}
}

func TestRoundAmount(t *testing.T) {
	n, err := RoundAmount(1500.75)
	require.NoError(t, err)
	assert.Equal(t, int64(1501), n)

	n, err = RoundAmount(2500)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), n)

	n, err = RoundAmount(0.5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = RoundAmount(0.4)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = RoundAmount(-10)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPasswordAndTimestamp(t *testing.T) {
	c := newTestMpesaClient(t, &fakeDaraja{})
	// 07:00 UTC = 10:00 EAT
	assert.Equal(t, "20240301100000", c.Timestamp())

	pw := Password("174379", "passkey", "20240301100000")
	raw, err := base64.StdEncoding.DecodeString(pw)
	require.NoError(t, err)
	assert.Equal(t, "174379passkey20240301100000", string(raw))
}

func TestMpesaClient_InitiatePush_Success(t *testing.T) {
	f := &fakeDaraja{pushResp: map[string]any{
		"MerchantRequestID":   "m-1",
		"CheckoutRequestID":   "ws_1",
		"ResponseCode":        "0",
		"ResponseDescription": "Success. Request accepted for processing",
		"CustomerMessage":     "Success. Request accepted for processing",
	}}
	c := newTestMpesaClient(t, f)

	res := c.InitiatePush(context.Background(), PushRequest{
		Phone: "0712345678", Amount: 1500.75, AccountReference: "A1", Description: "Rent payment",
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "ws_1", res.CheckoutRequestID)
	assert.Equal(t, "m-1", res.MerchantRequestID)
	assert.Equal(t, "Bearer tok-123", f.lastAuth)

	assert.Equal(t, "174379", f.lastPush["BusinessShortCode"])
	assert.Equal(t, "20240301100000", f.lastPush["Timestamp"])
	assert.Equal(t, Password("174379", "passkey", "20240301100000"), f.lastPush["Password"])
	assert.Equal(t, "CustomerPayBillOnline", f.lastPush["TransactionType"])
	assert.Equal(t, float64(1501), f.lastPush["Amount"])
	assert.Equal(t, "254712345678", f.lastPush["PartyA"])
	assert.Equal(t, "174379", f.lastPush["PartyB"])
	assert.Equal(t, "254712345678", f.lastPush["PhoneNumber"])
	assert.Equal(t, "https://example.com/api/mpesa/callback", f.lastPush["CallBackURL"])
	assert.Equal(t, "A1", f.lastPush["AccountReference"])
	assert.Equal(t, "Rent payment", f.lastPush["TransactionDesc"])
}

func TestMpesaClient_InitiatePush_Failures(t *testing.T) {
	f := &fakeDaraja{
		pushStatus: http.StatusBadRequest,
		pushResp:   map[string]any{"requestId": "r-1", "errorCode": "400.002.02", "errorMessage": "Bad Request - Invalid PhoneNumber"},
	}
	c := newTestMpesaClient(t, f)

	res := c.InitiatePush(context.Background(), PushRequest{Phone: "0712345678", Amount: 10})
	assert.False(t, res.Success)
	assert.Equal(t, "Bad Request - Invalid PhoneNumber", res.Error)

	// 非法手机号不请求网关
	calls := f.tokenCalls
	res = c.InitiatePush(context.Background(), PushRequest{Phone: "123", Amount: 10})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid phone number")
	assert.Equal(t, calls, f.tokenCalls)

	f.tokenStatus = http.StatusInternalServerError
	res = c.InitiatePush(context.Background(), PushRequest{Phone: "0712345678", Amount: 10})
	assert.False(t, res.Success)
	assert.Equal(t, "failed to authenticate with M-PESA", res.Error)
}

func TestMpesaClient_GetAccessToken_NoCaching(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestMpesaClient(t, f)

	for i := 0; i < 2; i++ {
		tok, err := c.GetAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-123", tok)
	}
	assert.Equal(t, 2, f.tokenCalls)

	c.cfg.ConsumerSecret = "wrong"
	_, err := c.GetAccessToken(context.Background())
	assert.ErrorIs(t, err, domain.ErrGatewayAuth)
}

func TestMpesaClient_QueryStatus(t *testing.T) {
	f := &fakeDaraja{queryResp: map[string]any{
		"ResponseCode":        "0",
		"ResponseDescription": "The service request has been accepted successsfully",
		"MerchantRequestID":   "m-1",
		"CheckoutRequestID":   "ws_1",
		"ResultCode":          "1032",
		"ResultDesc":          "Request cancelled by user",
	}}
	c := newTestMpesaClient(t, f)

	qr, err := c.QueryStatus(context.Background(), "ws_1")
	require.NoError(t, err)
	assert.False(t, qr.Pending)
	assert.Equal(t, 1032, qr.ResultCode)
	assert.Equal(t, "Request cancelled by user", qr.ResultDesc)
	assert.Equal(t, "ws_1", f.lastQuery["CheckoutRequestID"])

	f.queryStatus = http.StatusInternalServerError
	f.queryResp = map[string]any{"requestId": "r", "errorCode": "500.001.1001", "errorMessage": "The transaction is being processed"}
	qr, err = c.QueryStatus(context.Background(), "ws_1")
	require.NoError(t, err)
	assert.True(t, qr.Pending)

	f.queryStatus = http.StatusBadRequest
	f.queryResp = map[string]any{"errorCode": "400.002.02", "errorMessage": "Bad Request"}
	_, err = c.QueryStatus(context.Background(), "ws_1")
	assert.ErrorIs(t, err, domain.ErrGatewayRequest)
}
