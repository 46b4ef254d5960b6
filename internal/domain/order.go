package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce 订单有效期
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "gtc" // good till cancelled
	TimeInForceIOC TimeInForce = "ioc" // immediate or cancel
	TimeInForceFOK TimeInForce = "fok" // fill or kill
)

// OrderStatus 订单状态
// 状态机：New → Submitted → {PartiallyFilled ⇄ Submitted} → Filled | Cancelled | Rejected | Expired
// Filled/Cancelled/Rejected/Expired 为终态，之后订单不可变。
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// IsOpen 是否仍可接受成交或取消
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusSubmitted || s == OrderStatusPartiallyFilled
}

// IsTerminal 是否为终态
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Order 订单领域模型
// 由 Coordinator 独占持有；只通过成交/取消/拒绝事件变更，调用方不直接改字段。
// 不变式：FilledQuantity + RemainingQuantity == Quantity，FilledQuantity 单调不减。
type Order struct {
	ID              string           // 内部订单 ID（单调安全生成）
	ExchangeOrderID string           // 交易所订单 ID（提交成功后才有）
	IdempotencyKey  string           // 调用方幂等键（可选，防止重试重复下单）
	UserID          string           // 所属用户
	Exchange        string           // 交易所名称
	Symbol          string           // 交易对（如 BTC_USDT）
	Side            Side             // 方向
	Type            OrderType        // 类型
	Quantity        decimal.Decimal  // 原始数量（base asset）
	Price           *decimal.Decimal // 限价（市价单为 nil）
	StopPrice       *decimal.Decimal // 触发价（stop/stop-limit）
	TimeInForce     TimeInForce      // 有效期
	Status          OrderStatus      // 当前状态

	FilledQuantity    decimal.Decimal // 已成交数量（折叠 executions 得到）
	RemainingQuantity decimal.Decimal // 剩余数量
	AverageFillPrice  decimal.Decimal // 平均成交价
	FeeAccrued        decimal.Decimal // 累计手续费
	FeeAsset          string          // 手续费资产

	FrozenAsset  string          // 冻结的资产（买单为计价资产，卖单为基础资产）
	FrozenAmount decimal.Decimal // 尚未释放的冻结量

	CancelRequested bool   // 已发送取消请求但尚未收到交易所确认
	RejectReason    string // Rejected 时记录原因

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BaseAsset 返回交易对的基础资产（BTC_USDT -> BTC）
func (o *Order) BaseAsset() string {
	return SymbolBase(o.Symbol)
}

// QuoteAsset 返回交易对的计价资产（BTC_USDT -> USDT）
func (o *Order) QuoteAsset() string {
	return SymbolQuote(o.Symbol)
}

// OrderSpec 下单请求（服务层入参，校验后转换为 Order）
type OrderSpec struct {
	Exchange       string
	Symbol         string
	Side           Side
	Type           OrderType
	Quantity       decimal.Decimal
	Price          *decimal.Decimal
	StopPrice      *decimal.Decimal
	TimeInForce    TimeInForce
	IdempotencyKey string
}

// ValidationError 本地参数校验错误（未触达交易所）
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order spec: field=%s reason=%s", e.Field, e.Reason)
}

// Validate 按订单类型校验参数
func (s *OrderSpec) Validate() error {
	if s.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "required"}
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return &ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	if !s.Quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	switch s.Type {
	case OrderTypeLimit, OrderTypeStopLimit:
		if s.Price == nil || !s.Price.IsPositive() {
			return &ValidationError{Field: "price", Reason: "required for limit orders"}
		}
	case OrderTypeMarket, OrderTypeStop:
	default:
		return &ValidationError{Field: "type", Reason: "unknown order type " + string(s.Type)}
	}
	if s.Type == OrderTypeStop || s.Type == OrderTypeStopLimit {
		if s.StopPrice == nil || !s.StopPrice.IsPositive() {
			return &ValidationError{Field: "stop_price", Reason: "required for stop orders"}
		}
	}
	return nil
}
