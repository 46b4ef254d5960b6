// Package services 对外暴露交易服务门面：下单、撤单与账本查询
// 都走规范领域类型，调用方不接触交易所报文。
package services

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tradecore/gotrade/internal/domain"
	"github.com/tradecore/gotrade/internal/exchange"
	"github.com/tradecore/gotrade/internal/execution"
	"github.com/tradecore/gotrade/internal/ledger"
)

// TradingService 交易服务门面
type TradingService struct {
	adapter   exchange.Adapter
	coord     *execution.Coordinator
	balances  *ledger.BalanceLedger
	positions *ledger.PositionLedger
	repo      ledger.Repository
	log       *logrus.Entry
}

// NewTradingService 组装服务门面
func NewTradingService(adapter exchange.Adapter, coord *execution.Coordinator,
	balances *ledger.BalanceLedger, positions *ledger.PositionLedger,
	repo ledger.Repository) *TradingService {
	return &TradingService{
		adapter:   adapter,
		coord:     coord,
		balances:  balances,
		positions: positions,
		repo:      repo,
		log:       logrus.WithField("component", "trading_service"),
	}
}

// Start 连接交易所并接线事件流：
// 订单事件 → 协调器，行情 → 持仓盯市刷新，流恢复 → 对账。
func (s *TradingService) Start(ctx context.Context, symbols []string) error {
	if notifier, ok := s.adapter.(exchange.StreamNotifier); ok {
		notifier.OnStreaming(func() {
			go s.coord.Reconcile(ctx)
		})
	}

	if err := s.adapter.Connect(ctx); err != nil {
		return err
	}
	if err := s.adapter.SubscribeOrderEvents(s.coord.HandleOrderEvent); err != nil {
		return err
	}
	if len(symbols) > 0 {
		handler := exchange.MarketDataHandler{
			OnTicker: func(t domain.Ticker) {
				s.positions.UpdateMark(t.Symbol, t.Last)
			},
		}
		if err := s.adapter.SubscribeMarketData(symbols, handler); err != nil {
			return err
		}
	}
	s.log.Infof("交易服务已启动: exchange=%s symbols=%v", s.adapter.Name(), symbols)
	return nil
}

// Stop 断开交易所连接
func (s *TradingService) Stop() error {
	return s.adapter.Disconnect()
}

// CreateOrder 下单
func (s *TradingService) CreateOrder(ctx context.Context, userID string, spec domain.OrderSpec) (*domain.Order, error) {
	return s.coord.CreateOrder(ctx, userID, spec)
}

// CancelOrder 撤单（尽力而为，终态以交易所确认为准）
func (s *TradingService) CancelOrder(ctx context.Context, userID, orderID string) error {
	return s.coord.CancelOrder(ctx, userID, orderID)
}

// GetOrder 查询订单
func (s *TradingService) GetOrder(userID, orderID string) (*domain.Order, error) {
	order, err := s.coord.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ledger.ErrNotFound
	}
	return order, nil
}

// ListOrders 查询用户全部订单
func (s *TradingService) ListOrders(userID string) ([]*domain.Order, error) {
	return s.repo.ListUserOrders(userID)
}

// ListOpenOrders 查询用户未完结订单
func (s *TradingService) ListOpenOrders(userID string) []*domain.Order {
	var out []*domain.Order
	for _, o := range s.coord.OpenOrders() {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out
}

// Deposit 入金（资金入口，余额账本是唯一权威）
func (s *TradingService) Deposit(userID, asset string, amount decimal.Decimal) error {
	return s.balances.Credit(userID, asset, amount)
}

// Withdraw 出金（可用余额扣减，冻结部分不可出）
func (s *TradingService) Withdraw(userID, asset string, amount decimal.Decimal) error {
	return s.balances.Debit(userID, asset, amount)
}

// GetBalance 查询单资产余额
func (s *TradingService) GetBalance(userID, asset string) domain.Balance {
	return s.balances.Get(userID, asset)
}

// ListBalances 查询用户全部余额
func (s *TradingService) ListBalances(userID string) []domain.Balance {
	return s.balances.List(userID)
}

// GetPosition 查询单交易对持仓
func (s *TradingService) GetPosition(userID, symbol string) domain.Position {
	return s.positions.Get(userID, symbol)
}

// ListPositions 查询用户全部非平仓持仓
func (s *TradingService) ListPositions(userID string) []domain.Position {
	return s.positions.List(userID)
}

// Ticker 行情透传
func (s *TradingService) Ticker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	return s.adapter.Ticker(ctx, symbol)
}

// OrderBook 订单簿透传
func (s *TradingService) OrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	return s.adapter.OrderBook(ctx, symbol, depth)
}
