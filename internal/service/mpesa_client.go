package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"rentdesk/internal/config"
	"rentdesk/internal/domain"
)

// eat 东非时间（UTC+3，无夏令时）
var eat = time.FixedZone("EAT", 3*60*60)

const (
	timestampLayout = "20060102150405"
	// queryPendingCode STK query：交易仍在处理中
	queryPendingCode = "500.001.1001"
)

var kenyanMSISDN = regexp.MustCompile(`^254\d{9}$`)

// PushRequest STK Push 请求（金额、手机号在客户端内规范化）
type PushRequest struct {
	Phone            string
	Amount           float64
	AccountReference string
	Description      string
}

// PushResult STK Push 结果：网关拒绝与传输错误都以 Success=false + Error 返回
type PushResult struct {
	Success             bool
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseDescription string
	CustomerMessage     string
	Error               string
}

// QueryResult STK 状态查询结果；Pending=true 表示网关仍在处理
type QueryResult struct {
	ResponseCode string
	ResultCode   int
	ResultDesc   string
	Pending      bool
}

// MpesaGateway 网关抽象（服务层与对账任务依赖此接口，便于测试替换）
type MpesaGateway interface {
	InitiatePush(ctx context.Context, req PushRequest) PushResult
	QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error)
}

// MpesaClient Daraja API 客户端
type MpesaClient struct {
	httpClient *resty.Client
	cfg        config.MpesaConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewMpesaClient 创建 Daraja 客户端（不做重试：STK Push 不是幂等请求）
func NewMpesaClient(cfg config.MpesaConfig, logger *zap.Logger) *MpesaClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.BaseURLFor(cfg.Environment)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.TransactionType == "" {
		cfg.TransactionType = "CustomerPayBillOnline"
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &MpesaClient{
		httpClient: client,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// gatewayError Daraja 错误响应
type gatewayError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// GetAccessToken OAuth client_credentials；不缓存，每次推送/查询重新获取
func (c *MpesaClient) GetAccessToken(ctx context.Context) (string, error) {
	var token tokenResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret).
		SetQueryParam("grant_type", "client_credentials").
		SetResult(&token).
		Get("/oauth/v1/generate")
	if err != nil {
		c.logger.Error("M-PESA OAuth request failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", domain.ErrGatewayAuth, err)
	}
	if resp.IsError() || token.AccessToken == "" {
		c.logger.Error("M-PESA OAuth rejected",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", truncate(resp.String(), 256)),
		)
		return "", fmt.Errorf("%w: status %d", domain.ErrGatewayAuth, resp.StatusCode())
	}
	return token.AccessToken, nil
}

// Timestamp 当前 EAT 时间戳 yyyyMMddHHmmss
func (c *MpesaClient) Timestamp() string {
	return c.now().In(eat).Format(timestampLayout)
}

// Password base64(shortcode + passkey + timestamp)
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

type stkPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// InitiatePush 发起 STK Push
func (c *MpesaClient) InitiatePush(ctx context.Context, req PushRequest) PushResult {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return PushResult{Error: err.Error()}
	}
	amount, err := RoundAmount(req.Amount)
	if err != nil {
		return PushResult{Error: err.Error()}
	}

	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return PushResult{Error: "failed to authenticate with M-PESA"}
	}

	ts := c.Timestamp()
	body := stkPushBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
		Timestamp:         ts,
		TransactionType:   c.cfg.TransactionType,
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}

	c.logger.Info("Calling M-PESA STK push",
		zap.String("phone", maskPhone(phone)),
		zap.Int64("amount", amount),
		zap.String("account_reference", req.AccountReference),
	)

	var out stkPushResponse
	var gwErr gatewayError
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		SetResult(&out).
		SetError(&gwErr).
		Post("/mpesa/stkpush/v1/processrequest")
	if err != nil {
		c.logger.Error("M-PESA STK push failed", zap.Error(err))
		return PushResult{Error: "failed to reach M-PESA"}
	}
	if resp.IsError() || out.ResponseCode != "0" {
		msg := gwErr.ErrorMessage
		if msg == "" {
			msg = out.ResponseDescription
		}
		if msg == "" {
			msg = fmt.Sprintf("M-PESA returned status %d", resp.StatusCode())
		}
		c.logger.Warn("M-PESA STK push rejected",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("error_code", gwErr.ErrorCode),
			zap.String("message", msg),
		)
		return PushResult{Error: msg}
	}

	return PushResult{
		Success:             true,
		MerchantRequestID:   out.MerchantRequestID,
		CheckoutRequestID:   out.CheckoutRequestID,
		ResponseDescription: out.ResponseDescription,
		CustomerMessage:     out.CustomerMessage,
	}
}

type stkQueryBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode        string          `json:"ResponseCode"`
	ResponseDescription string          `json:"ResponseDescription"`
	MerchantRequestID   string          `json:"MerchantRequestID"`
	CheckoutRequestID   string          `json:"CheckoutRequestID"`
	ResultCode          json.RawMessage `json:"ResultCode"`
	ResultDesc          string          `json:"ResultDesc"`
}

// QueryStatus 主动查询 STK Push 结果（对账任务使用）
func (c *MpesaClient) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := c.Timestamp()
	var out stkQueryResponse
	var gwErr gatewayError
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(stkQueryBody{
			BusinessShortCode: c.cfg.ShortCode,
			Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
			Timestamp:         ts,
			CheckoutRequestID: checkoutRequestID,
		}).
		SetResult(&out).
		SetError(&gwErr).
		Post("/mpesa/stkpushquery/v1/query")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayRequest, err)
	}
	if gwErr.ErrorCode == queryPendingCode {
		return &QueryResult{Pending: true, ResultDesc: gwErr.ErrorMessage}, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d %s %s", domain.ErrGatewayRequest, resp.StatusCode(), gwErr.ErrorCode, gwErr.ErrorMessage)
	}

	code, ok := flexInt(out.ResultCode)
	if !ok {
		return nil, fmt.Errorf("%w: query response without ResultCode", domain.ErrGatewayRequest)
	}
	return &QueryResult{
		ResponseCode: out.ResponseCode,
		ResultCode:   code,
		ResultDesc:   out.ResultDesc,
	}, nil
}

// NormalizePhone 规范化为 254XXXXXXXXX
func NormalizePhone(s string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	cleaned = strings.TrimPrefix(cleaned, "+")

	switch {
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 10:
		cleaned = "254" + cleaned[1:]
	case (strings.HasPrefix(cleaned, "7") || strings.HasPrefix(cleaned, "1")) && len(cleaned) == 9:
		cleaned = "254" + cleaned
	}

	if !kenyanMSISDN.MatchString(cleaned) {
		return "", fmt.Errorf("%w: invalid phone number %q", domain.ErrValidation, s)
	}
	return cleaned, nil
}

// RoundAmount 四舍五入到整数先令；结果 < 1 视为非法
func RoundAmount(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: invalid amount", domain.ErrValidation)
	}
	r := math.Round(f)
	if r < 1 {
		return 0, fmt.Errorf("%w: amount must be at least 1", domain.ErrValidation)
	}
	return int64(r), nil
}

// flexInt 兼容数字与字符串两种写法
func flexInt(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.Atoi(n.String()); err == nil {
			return i, true
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func maskPhone(phone string) string {
	if len(phone) < 10 {
		return phone
	}
	return phone[:6] + strings.Repeat("*", len(phone)-9) + phone[len(phone)-3:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
