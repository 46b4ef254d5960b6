package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// 错误分类（taxonomy）：调用方根据错误类型决定重试策略，
// 而不是解析错误字符串。

// AuthError 凭证缺失或无效（致命，不重试）
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Reason)
}

// RateLimitError 触发交易所限流（退避后可重试，次数有界）
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfterSeconds > 0 {
		return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds)
	}
	return "rate limited"
}

// RemoteError 交易所拒绝请求（携带交易所的状态码和消息）
type RemoteError struct {
	StatusCode int
	Label      string // 交易所错误码（如 INVALID_PARAM_VALUE）
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("exchange rejected request: status=%d label=%s message=%s",
		e.StatusCode, e.Label, e.Message)
}

// NetworkError 网络错误或超时（结果不确定，必须先对账再动余额）
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// InsufficientBalanceError 本地余额检查失败（未触达交易所）
type InsufficientBalanceError struct {
	UserID    string
	Asset     string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: user=%s asset=%s required=%s available=%s",
		e.UserID, e.Asset, e.Required, e.Available)
}

// LedgerInvariantError 账本不变式被破坏（对该操作致命，绝不静默截断）
type LedgerInvariantError struct {
	Invariant string
	Detail    string
}

func (e *LedgerInvariantError) Error() string {
	return fmt.Sprintf("ledger invariant violated (%s): %s", e.Invariant, e.Detail)
}

// OrderStateError 订单状态机非法转换（如取消已成交订单）
type OrderStateError struct {
	OrderID string
	From    OrderStatus
	Op      string
}

func (e *OrderStateError) Error() string {
	return fmt.Sprintf("illegal order operation %s: order=%s status=%s", e.Op, e.OrderID, e.From)
}
