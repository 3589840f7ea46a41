package domain

import (
	"database/sql"
	"time"
)

// MpesaStatus STK Push 交易状态
type MpesaStatus string

const (
	MpesaPending   MpesaStatus = "pending"
	MpesaCompleted MpesaStatus = "completed"
	MpesaFailed    MpesaStatus = "failed"
)

const (
	// ResultCodeSuccess 网关回调成功码
	ResultCodeSuccess = 0
	// ResultCodeNoCallback 本地对账任务放弃等待时写入的结果码（非网关返回值）
	ResultCodeNoCallback = -1
)

// MpesaTransaction STK Push 待对账记录（对应 mpesa_transactions 表）
// checkout_request_id 是推送请求与异步回调之间唯一的关联键
type MpesaTransaction struct {
	TransactionID      string         `db:"id"`
	MerchantRequestID  string         `db:"merchant_request_id"`
	CheckoutRequestID  string         `db:"checkout_request_id"`
	LeaseID            string         `db:"lease_id"`
	TenantID           string         `db:"tenant_id"`
	PhoneNumber        string         `db:"phone_number"`
	Amount             float64        `db:"amount"`
	AccountReference   string         `db:"account_reference"`
	TransactionDesc    string         `db:"transaction_desc"`
	MpesaReceiptNumber sql.NullString `db:"mpesa_receipt_number"`
	TransactionDate    sql.NullTime   `db:"transaction_date"`
	Status             MpesaStatus    `db:"status"`
	ResultCode         sql.NullInt64  `db:"result_code"`
	ResultDesc         sql.NullString `db:"result_desc"`
	CallbackReceived   bool           `db:"callback_received"`
	CallbackPayload    []byte         `db:"callback_payload"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

// CallbackResult 网关回调（或主动查询）得到的终态结果
type CallbackResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
	Amount            float64
	TransactionDate   time.Time
	PhoneNumber       string
	Raw               []byte
}

// Succeeded 仅 ResultCode == 0 视为成功
func (r CallbackResult) Succeeded() bool {
	return r.ResultCode == ResultCodeSuccess
}
