package gateio

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tradecore/gotrade/internal/domain"
	"github.com/tradecore/gotrade/internal/exchange"
	"github.com/tradecore/gotrade/pkg/ratelimit"
)

// Name 注册表中的交易所名
const Name = "gateio"

const (
	pathCurrencyPairs = "/api/v4/spot/currency_pairs"
	pathTickers       = "/api/v4/spot/tickers"
	pathOrderBook     = "/api/v4/spot/order_book"
	pathTrades        = "/api/v4/spot/trades"
	pathCandles       = "/api/v4/spot/candlesticks"
	pathAccounts      = "/api/v4/spot/accounts"
	pathOrders        = "/api/v4/spot/orders"
	pathMyTrades      = "/api/v4/spot/my_trades"
)

// Exchange 现货适配器。只做报文翻译，不重试、不碰账本。
type Exchange struct {
	transport *Transport
	signer    *Signer
	stream    *StreamClient
	log       *logrus.Entry
}

var _ exchange.Adapter = (*Exchange)(nil)

// New 构造适配器，供注册表使用
func New(cfg exchange.AdapterConfig) (exchange.Adapter, error) {
	signer := NewSigner(cfg.Key, cfg.Secret)

	// 现货 REST 公共限额约 200 req/10s，默认值留出余量
	capacity, refill, queue := cfg.RateLimitCapacity, cfg.RateLimitRefillPerSec, cfg.RateLimitMaxQueue
	if capacity <= 0 {
		capacity = 20
	}
	if refill <= 0 {
		refill = 15
	}
	limiter := ratelimit.NewTokenBucket(capacity, refill, queue)

	streamCfg := DefaultStreamConfig()
	if cfg.ReconnectDelay > 0 {
		streamCfg.ReconnectDelay = cfg.ReconnectDelay
	}
	if cfg.MaxReconnectDelay > 0 {
		streamCfg.MaxReconnectDelay = cfg.MaxReconnectDelay
	}
	if cfg.PingInterval > 0 {
		streamCfg.PingInterval = cfg.PingInterval
	}

	return &Exchange{
		transport: NewTransport(cfg.BaseURL, signer, limiter),
		signer:    signer,
		stream:    NewStreamClient(cfg.WsURL, signer, streamCfg),
		log:       logrus.WithField("component", "gateio"),
	}, nil
}

// Name 返回交易所名
func (e *Exchange) Name() string { return Name }

// Connect 启动 WebSocket 流
func (e *Exchange) Connect(ctx context.Context) error {
	return e.stream.Start(ctx)
}

// Disconnect 关闭 WebSocket 流
func (e *Exchange) Disconnect() error {
	e.stream.Stop()
	return nil
}

// Stream 暴露流客户端（协调器挂重连对账钩子用）
func (e *Exchange) Stream() *StreamClient { return e.stream }

// Symbols 拉取全部交易对元信息
func (e *Exchange) Symbols(ctx context.Context) ([]domain.Symbol, error) {
	var wire []wireCurrencyPair
	if err := e.transport.executeJSON(ctx, "GET", pathCurrencyPairs, nil, nil, false, &wire); err != nil {
		return nil, err
	}
	symbols := make([]domain.Symbol, 0, len(wire))
	for _, w := range wire {
		s, err := convertSymbol(w)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, nil
}

// Ticker 拉取单个交易对行情
func (e *Exchange) Ticker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	params := url.Values{"currency_pair": {symbol}}
	var wire []wireTicker
	if err := e.transport.executeJSON(ctx, "GET", pathTickers, params, nil, false, &wire); err != nil {
		return nil, err
	}
	if len(wire) == 0 {
		return nil, errors.Errorf("ticker not found for %s", symbol)
	}
	t, err := convertTicker(wire[0])
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// OrderBook 拉取订单簿快照
func (e *Exchange) OrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	params := url.Values{"currency_pair": {symbol}}
	if depth > 0 {
		params.Set("limit", strconv.Itoa(depth))
	}
	var wire wireOrderBook
	if err := e.transport.executeJSON(ctx, "GET", pathOrderBook, params, nil, false, &wire); err != nil {
		return nil, err
	}
	book, err := convertOrderBook(symbol, wire)
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// Trades 拉取公共成交
func (e *Exchange) Trades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	params := url.Values{"currency_pair": {symbol}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var wire []wireTrade
	if err := e.transport.executeJSON(ctx, "GET", pathTrades, params, nil, false, &wire); err != nil {
		return nil, err
	}
	trades := make([]domain.Trade, 0, len(wire))
	for _, w := range wire {
		t, err := convertTrade(w)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// Candles 拉取 K 线
func (e *Exchange) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	params := url.Values{"currency_pair": {symbol}, "interval": {interval}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var wire []wireCandle
	if err := e.transport.executeJSON(ctx, "GET", pathCandles, params, nil, false, &wire); err != nil {
		return nil, err
	}
	candles := make([]domain.Candle, 0, len(wire))
	for _, w := range wire {
		c, err := convertCandle(symbol, interval, w)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// Balances 拉取账户余额
func (e *Exchange) Balances(ctx context.Context) ([]domain.Balance, error) {
	var wire []wireAccount
	if err := e.transport.executeJSON(ctx, "GET", pathAccounts, nil, nil, true, &wire); err != nil {
		return nil, err
	}
	balances := make([]domain.Balance, 0, len(wire))
	for _, w := range wire {
		b, err := convertBalance(w)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, nil
}

// Positions 现货没有衍生品持仓，本地持仓账本是唯一权威
func (e *Exchange) Positions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

// wireCreateOrder 下单请求体
type wireCreateOrder struct {
	Text         string `json:"text,omitempty"`
	CurrencyPair string `json:"currency_pair"`
	Type         string `json:"type"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Price        string `json:"price,omitempty"`
	TimeInForce  string `json:"time_in_force,omitempty"`
}

// CreateOrder 提交订单。
// 触发类订单走交易所独立的条件单命名空间，其 id 无法与普通
// 订单统一对账，本适配器不支持。
func (e *Exchange) CreateOrder(ctx context.Context, req *exchange.CreateOrderRequest) (*domain.Order, error) {
	if req.Type == domain.OrderTypeStop || req.Type == domain.OrderTypeStopLimit {
		return nil, &domain.ValidationError{Field: "type", Reason: "trigger orders not supported on spot"}
	}

	wire := wireCreateOrder{
		CurrencyPair: req.Symbol,
		Type:         string(req.Type),
		Side:         string(req.Side),
		Amount:       req.Quantity,
		Price:        req.Price,
		TimeInForce:  string(req.TimeInForce),
	}
	if req.ClientOrderID != "" {
		wire.Text = clientOrderIDPrefix + req.ClientOrderID
	}
	// 市价单不允许 gtc
	if req.Type == domain.OrderTypeMarket && wire.TimeInForce == string(domain.TimeInForceGTC) {
		wire.TimeInForce = string(domain.TimeInForceIOC)
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.Wrap(err, "encode create order")
	}

	var resp wireOrder
	if err := e.transport.executeJSON(ctx, "POST", pathOrders, nil, body, true, &resp); err != nil {
		return nil, err
	}
	return convertOrder(resp)
}

// CancelOrder 请求撤单。撤单是尽力而为的请求，
// 订单真正的终态以后续回报/查询为准。
func (e *Exchange) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	params := url.Values{"currency_pair": {symbol}}
	_, err := e.transport.Execute(ctx, "DELETE", pathOrders+"/"+exchangeOrderID, params, nil, true)
	return err
}

// GetOrder 查询单个订单
func (e *Exchange) GetOrder(ctx context.Context, symbol, exchangeOrderID string) (*domain.Order, error) {
	params := url.Values{"currency_pair": {symbol}}
	var wire wireOrder
	if err := e.transport.executeJSON(ctx, "GET", pathOrders+"/"+exchangeOrderID, params, nil, true, &wire); err != nil {
		return nil, err
	}
	return convertOrder(wire)
}

// ListOpenOrders 列出交易对下的全部未完结订单
func (e *Exchange) ListOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	params := url.Values{"currency_pair": {symbol}, "status": {"open"}}
	var wire []wireOrder
	if err := e.transport.executeJSON(ctx, "GET", pathOrders, params, nil, true, &wire); err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(wire))
	for _, w := range wire {
		o, err := convertOrder(w)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// MyTrades 拉取本账户成交（断线重连后的对账回放源）
func (e *Exchange) MyTrades(ctx context.Context, symbol string, since time.Time) ([]domain.Execution, error) {
	params := url.Values{"currency_pair": {symbol}}
	if !since.IsZero() {
		params.Set("from", strconv.FormatInt(since.Unix(), 10))
	}
	var wire []wireMyTrade
	if err := e.transport.executeJSON(ctx, "GET", pathMyTrades, params, nil, true, &wire); err != nil {
		return nil, err
	}
	execs := make([]domain.Execution, 0, len(wire))
	for _, w := range wire {
		x, err := convertMyTrade(w)
		if err != nil {
			return nil, err
		}
		execs = append(execs, x)
	}
	return execs, nil
}

// SubscribeMarketData 订阅公共行情频道
func (e *Exchange) SubscribeMarketData(symbols []string, handler exchange.MarketDataHandler) error {
	if handler.OnTicker != nil {
		e.stream.Handle(channelTicker, func(event string, result json.RawMessage) {
			var w wireTicker
			if err := json.Unmarshal(result, &w); err != nil {
				e.log.Warnf("行情帧解析失败: %v", err)
				return
			}
			t, err := convertTicker(w)
			if err != nil {
				e.log.Warnf("行情转换失败: %v", err)
				return
			}
			handler.OnTicker(t)
		})
		if err := e.stream.Subscribe(channelTicker, symbols); err != nil {
			return err
		}
	}
	if handler.OnTrade != nil {
		e.stream.Handle(channelPubTrades, func(event string, result json.RawMessage) {
			var w wireTrade
			if err := json.Unmarshal(result, &w); err != nil {
				e.log.Warnf("成交帧解析失败: %v", err)
				return
			}
			t, err := convertTrade(w)
			if err != nil {
				e.log.Warnf("成交转换失败: %v", err)
				return
			}
			handler.OnTrade(t)
		})
		if err := e.stream.Subscribe(channelPubTrades, symbols); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeOrderEvents 订阅私有订单/成交频道。
// 成交以 usertrades 为准（Execution 幂等单元），
// orders 频道只用于撤单/过期的终态通知。
func (e *Exchange) SubscribeOrderEvents(handler func(exchange.OrderEvent)) error {
	e.stream.Handle(channelTrades, func(event string, result json.RawMessage) {
		var trades []wsUserTrade
		if err := json.Unmarshal(result, &trades); err != nil {
			e.log.Warnf("成交回报解析失败: %v", err)
			return
		}
		for _, w := range trades {
			exec, err := convertWsUserTrade(w)
			if err != nil {
				e.log.Warnf("成交回报转换失败: %v", err)
				continue
			}
			handler(exchange.OrderEvent{
				Kind:            exchange.OrderEventFill,
				ExchangeOrderID: w.OrderID.String(),
				ClientOrderID:   exec.OrderID,
				Symbol:          w.CurrencyPair,
				Execution:       &exec,
				Timestamp:       exec.Timestamp,
			})
		}
	})
	e.stream.Handle(channelOrders, func(event string, result json.RawMessage) {
		var orders []wsOrder
		if err := json.Unmarshal(result, &orders); err != nil {
			e.log.Warnf("订单回报解析失败: %v", err)
			return
		}
		for _, w := range orders {
			if w.Event != "finish" {
				continue
			}
			kind := exchange.OrderEventKind("")
			switch w.FinishAs {
			case "cancelled", "ioc":
				kind = exchange.OrderEventCancelled
			case "expired":
				kind = exchange.OrderEventExpired
			default:
				// filled 终态由成交回报驱动
				continue
			}
			handler(exchange.OrderEvent{
				Kind:            kind,
				ExchangeOrderID: w.ID.String(),
				ClientOrderID:   strings.TrimPrefix(w.Text, clientOrderIDPrefix),
				Symbol:          w.CurrencyPair,
				Timestamp:       parseTimeMs(w.UpdateTimeMs.String()),
			})
		}
	})

	if err := e.stream.Subscribe(channelOrders, []string{"!all"}); err != nil {
		return err
	}
	return e.stream.Subscribe(channelTrades, []string{"!all"})
}

// OnStreaming 注册流恢复钩子（含初次连接与每次重连）
func (e *Exchange) OnStreaming(fn func()) {
	e.stream.OnStreaming(fn)
}
