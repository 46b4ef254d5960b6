package execution

import (
	"context"
	"time"

	"github.com/tradecore/gotrade/internal/domain"
	"github.com/tradecore/gotrade/internal/exchange"
)

// 对账：重连后与周期性的状态兜底都走同一条路径，
// 成交回放复用 ApplyFill 的幂等性，漏掉的成交恰好补一次。

// Reconcile 与交易所对齐一次：
// 1. 按水位线拉取每个活跃交易对的成交并回放；
// 2. 本地未完结但交易所未完结列表中不存在的订单逐笔查证。
func (c *Coordinator) Reconcile(ctx context.Context) {
	open := c.OpenOrders()
	if len(open) == 0 {
		c.advanceWatermark(time.Now())
		return
	}

	c.lastSyncMu.Lock()
	since := c.lastSync
	c.lastSyncMu.Unlock()
	started := time.Now()

	symbols := make(map[string][]*domain.Order)
	for _, o := range open {
		symbols[o.Symbol] = append(symbols[o.Symbol], o)
	}

	for symbol, orders := range symbols {
		execs, err := c.adapter.MyTrades(ctx, symbol, since)
		if err != nil {
			c.log.Warnf("对账拉取成交失败: symbol=%s err=%v", symbol, err)
			return // 水位线不前移，下次重拉
		}
		for _, x := range execs {
			if err := c.ApplyFill(x); err != nil {
				c.log.Errorf("对账回放成交失败: exec=%s err=%v", x.ID, err)
			}
		}

		remote, err := c.adapter.ListOpenOrders(ctx, symbol)
		if err != nil {
			c.log.Warnf("对账拉取订单失败: symbol=%s err=%v", symbol, err)
			return
		}
		remoteIDs := make(map[string]bool, len(remote))
		for _, ro := range remote {
			remoteIDs[ro.ExchangeOrderID] = true
		}
		for _, o := range orders {
			gone := o.ExchangeOrderID != "" && !remoteIDs[o.ExchangeOrderID] && !o.Status.IsTerminal()
			if gone {
				c.syncOrder(ctx, o)
			}
		}
	}

	c.advanceWatermark(started)
	c.log.Infof("对账完成: symbols=%d open=%d", len(symbols), len(open))
}

func (c *Coordinator) advanceWatermark(t time.Time) {
	// 回拨一点，避免交易所成交时间与本地时钟的边界竞争
	t = t.Add(-5 * time.Second)
	c.lastSyncMu.Lock()
	if t.After(c.lastSync) {
		c.lastSync = t
	}
	c.lastSyncMu.Unlock()
}

// syncOrder 单笔订单查证：以交易所回读的状态为准对齐本地。
// 回读到的已成交量多于本地时，先补回放成交，再应用终态。
func (c *Coordinator) syncOrder(ctx context.Context, order *domain.Order) {
	c.mu.Lock()
	symbol, exchangeID := order.Symbol, order.ExchangeOrderID
	localFilled := order.FilledQuantity
	c.mu.Unlock()

	remote, err := c.adapter.GetOrder(ctx, symbol, exchangeID)
	if err != nil {
		c.log.Warnf("订单查证失败: id=%s err=%v", order.ID, err)
		return
	}

	if remote.FilledQuantity.GreaterThan(localFilled) {
		execs, err := c.adapter.MyTrades(ctx, symbol, order.CreatedAt)
		if err != nil {
			c.log.Warnf("查证拉取成交失败: id=%s err=%v", order.ID, err)
			return
		}
		for _, x := range execs {
			if x.OrderID == order.ID {
				if err := c.ApplyFill(x); err != nil {
					c.log.Errorf("查证回放成交失败: exec=%s err=%v", x.ID, err)
				}
			}
		}
	}

	switch remote.Status {
	case domain.OrderStatusCancelled, domain.OrderStatusExpired:
		c.confirmTerminal(exchange.OrderEvent{
			Kind:            exchange.OrderEventCancelled,
			ClientOrderID:   order.ID,
			ExchangeOrderID: exchangeID,
		}, remote.Status)
	}
}

// Run 周期对账循环。有未完结订单时用短间隔，空闲时放长，
// 直到 ctx 取消。
func (c *Coordinator) Run(ctx context.Context, withOrders, withoutOrders time.Duration) {
	c.log.Infof("对账循环启动: busy=%s idle=%s", withOrders, withoutOrders)
	for {
		interval := withoutOrders
		if len(c.OpenOrders()) > 0 {
			interval = withOrders
		}
		select {
		case <-ctx.Done():
			c.log.Info("对账循环退出")
			return
		case <-time.After(interval):
			c.Reconcile(ctx)
		}
	}
}
