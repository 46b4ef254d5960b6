// Package exchange 定义交易所适配器的能力接口与注册表。
// 适配器只做翻译：交易所私有报文 <-> 规范领域类型，
// 不重试、不碰账本状态。
package exchange

import (
	"context"
	"time"

	"github.com/tradecore/gotrade/internal/domain"
)

// CreateOrderRequest 适配器下单入参（已通过服务层校验）
type CreateOrderRequest struct {
	Symbol         string
	Side           domain.Side
	Type           domain.OrderType
	Quantity       string // 已按精度格式化的数量
	Price          string // 限价（市价单为空）
	StopPrice      string
	TimeInForce    domain.TimeInForce
	ClientOrderID  string // 携带内部订单 ID，交易所回报中可关联
}

// OrderEvent 私有频道推送的订单事件
type OrderEvent struct {
	Kind            OrderEventKind
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Execution       *domain.Execution // Kind == OrderEventFill 时非空
	Timestamp       time.Time
}

// OrderEventKind 订单事件类型
type OrderEventKind string

const (
	OrderEventFill      OrderEventKind = "fill"
	OrderEventCancelled OrderEventKind = "cancelled"
	OrderEventExpired   OrderEventKind = "expired"
)

// MarketDataHandler 公共行情回调
type MarketDataHandler struct {
	OnTicker    func(domain.Ticker)
	OnTrade     func(domain.Trade)
	OnOrderBook func(domain.OrderBook)
}

// Adapter 交易所能力接口
// 每个交易所一个实现；用能力接口取代抽象基类继承。
type Adapter interface {
	Name() string

	// 连接生命周期
	Connect(ctx context.Context) error
	Disconnect() error

	// 行情读取
	Symbols(ctx context.Context) ([]domain.Symbol, error)
	Ticker(ctx context.Context, symbol string) (*domain.Ticker, error)
	OrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error)
	Trades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)

	// 账户读取
	Balances(ctx context.Context) ([]domain.Balance, error)
	Positions(ctx context.Context) ([]domain.Position, error)

	// 交易写入
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*domain.Order, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	GetOrder(ctx context.Context, symbol, exchangeOrderID string) (*domain.Order, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error)
	// MyTrades 拉取本账户成交，用于断线重连后的对账回放
	MyTrades(ctx context.Context, symbol string, since time.Time) ([]domain.Execution, error)

	// 流式订阅
	SubscribeMarketData(symbols []string, handler MarketDataHandler) error
	SubscribeOrderEvents(handler func(OrderEvent)) error
}

// StreamNotifier 可选能力：流进入 Streaming 状态（含每次重连完成）时回调。
// 协调器用它挂断线对账。
type StreamNotifier interface {
	OnStreaming(fn func())
}
