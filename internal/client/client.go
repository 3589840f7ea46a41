package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrPushRejected 网关或服务端拒绝发起支付（响应 success=false）
	ErrPushRejected = errors.New("stk push rejected")
	ErrRequest      = errors.New("api request failed")
)

// Client rentdesk HTTP API 客户端（bearer token）
type Client struct {
	http *resty.Client
}

// New baseURL 例如 http://localhost:8080
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetAuthToken(token).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
	}
}

// PushRequest 发起 STK Push
type PushRequest struct {
	PhoneNumber      string  `json:"phone_number"`
	Amount           float64 `json:"amount"`
	LeaseID          string  `json:"lease_id"`
	AccountReference string  `json:"account_reference,omitempty"`
	TransactionDesc  string  `json:"transaction_desc,omitempty"`
}

// PushResponse 服务端应答
type PushResponse struct {
	Success           bool   `json:"success"`
	TransactionID     string `json:"transactionId"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	Message           string `json:"message"`
	Error             string `json:"error"`
}

// Transaction 轮询读取的交易视图
type Transaction struct {
	ID                 string  `json:"id"`
	CheckoutRequestID  string  `json:"checkout_request_id"`
	LeaseID            string  `json:"lease_id"`
	Amount             float64 `json:"amount"`
	Status             string  `json:"status"`
	MpesaReceiptNumber *string `json:"mpesa_receipt_number"`
	ResultCode         *int64  `json:"result_code"`
	ResultDesc         *string `json:"result_desc"`
	CallbackReceived   bool    `json:"callback_received"`
}

// InitiatePush success=false 时同时返回响应与 ErrPushRejected
func (c *Client) InitiatePush(ctx context.Context, req PushRequest) (*PushResponse, error) {
	var out PushResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/api/mpesa/stk-push")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode())
		}
		return &out, fmt.Errorf("%w: %s", ErrPushRejected, msg)
	}
	return &out, nil
}

// GetTransaction 查询交易状态
func (c *Client) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	var out struct {
		Transaction *Transaction `json:"transaction"`
	}
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/mpesa/transaction/{id}")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	if resp.IsError() || out.Transaction == nil {
		msg := apiErr.Error
		if msg == "" {
			msg = apiErr.Message
		}
		return nil, fmt.Errorf("%w: status %d %s", ErrRequest, resp.StatusCode(), msg)
	}
	return out.Transaction, nil
}
