package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecore/gotrade/internal/domain"
	"github.com/tradecore/gotrade/internal/exchange"
	"github.com/tradecore/gotrade/internal/execution"
	"github.com/tradecore/gotrade/internal/ledger"
)

// stubAdapter 门面测试用的最小适配器
type stubAdapter struct{}

func (stubAdapter) Name() string                      { return "stub" }
func (stubAdapter) Connect(ctx context.Context) error { return nil }
func (stubAdapter) Disconnect() error                 { return nil }
func (stubAdapter) Symbols(ctx context.Context) ([]domain.Symbol, error) { return nil, nil }
func (stubAdapter) Ticker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	return &domain.Ticker{Symbol: symbol, Last: decimal.RequireFromString("50000")}, nil
}
func (stubAdapter) OrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	return &domain.OrderBook{Symbol: symbol}, nil
}
func (stubAdapter) Trades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	return nil, nil
}
func (stubAdapter) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	return nil, nil
}
func (stubAdapter) Balances(ctx context.Context) ([]domain.Balance, error)   { return nil, nil }
func (stubAdapter) Positions(ctx context.Context) ([]domain.Position, error) { return nil, nil }
func (stubAdapter) CreateOrder(ctx context.Context, req *exchange.CreateOrderRequest) (*domain.Order, error) {
	return &domain.Order{
		ID:              req.ClientOrderID,
		ExchangeOrderID: "ex-" + req.ClientOrderID,
		Status:          domain.OrderStatusSubmitted,
	}, nil
}
func (stubAdapter) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error { return nil }
func (stubAdapter) GetOrder(ctx context.Context, symbol, exchangeOrderID string) (*domain.Order, error) {
	return nil, ledger.ErrNotFound
}
func (stubAdapter) ListOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	return nil, nil
}
func (stubAdapter) MyTrades(ctx context.Context, symbol string, since time.Time) ([]domain.Execution, error) {
	return nil, nil
}
func (stubAdapter) SubscribeMarketData(symbols []string, handler exchange.MarketDataHandler) error {
	return nil
}
func (stubAdapter) SubscribeOrderEvents(handler func(exchange.OrderEvent)) error { return nil }

func newTestService(t *testing.T) *TradingService {
	t.Helper()
	repo := ledger.NewMemoryRepository()
	balances, err := ledger.NewBalanceLedger(repo)
	if err != nil {
		t.Fatalf("创建余额账本失败: %v", err)
	}
	positions, err := ledger.NewPositionLedger(repo)
	if err != nil {
		t.Fatalf("创建持仓账本失败: %v", err)
	}
	coord, err := execution.NewCoordinator(execution.DefaultConfig(), stubAdapter{}, balances, positions, repo)
	if err != nil {
		t.Fatalf("创建协调器失败: %v", err)
	}
	return NewTradingService(stubAdapter{}, coord, balances, positions, repo)
}

func TestServiceOrderLifecycle(t *testing.T) {
	s := newTestService(t)
	if err := s.Deposit("u1", "USDT", decimal.RequireFromString("1000")); err != nil {
		t.Fatalf("入金失败: %v", err)
	}

	price := decimal.RequireFromString("50000")
	order, err := s.CreateOrder(context.Background(), "u1", domain.OrderSpec{
		Symbol: "BTC_USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Quantity: decimal.RequireFromString("0.01"), Price: &price,
		TimeInForce: domain.TimeInForceGTC,
	})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}

	got, err := s.GetOrder("u1", order.ID)
	if err != nil || got.ID != order.ID {
		t.Fatalf("订单查询失败: %v %v", got, err)
	}
	// 其他用户查不到这笔订单
	if _, err := s.GetOrder("u2", order.ID); err == nil {
		t.Error("跨用户订单查询应失败")
	}

	open := s.ListOpenOrders("u1")
	if len(open) != 1 {
		t.Errorf("未完结订单数量错误: %d", len(open))
	}

	b := s.GetBalance("u1", "USDT")
	if !b.Frozen.Equal(decimal.RequireFromString("500")) {
		t.Errorf("下单后冻结错误: %s", b.Frozen)
	}
}

func TestServiceWithdrawRespectsFrozen(t *testing.T) {
	s := newTestService(t)
	s.Deposit("u1", "USDT", decimal.RequireFromString("1000"))

	price := decimal.RequireFromString("50000")
	if _, err := s.CreateOrder(context.Background(), "u1", domain.OrderSpec{
		Symbol: "BTC_USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Quantity: decimal.RequireFromString("0.01"), Price: &price,
		TimeInForce: domain.TimeInForceGTC,
	}); err != nil {
		t.Fatalf("下单失败: %v", err)
	}

	// 可用 500：出金 600 必须失败，冻结部分不可动
	if err := s.Withdraw("u1", "USDT", decimal.RequireFromString("600")); err == nil {
		t.Fatal("超出可用余额的出金应失败")
	}
	if err := s.Withdraw("u1", "USDT", decimal.RequireFromString("500")); err != nil {
		t.Fatalf("可用范围内出金失败: %v", err)
	}
}
