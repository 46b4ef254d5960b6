package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tradecore/gotrade/internal/domain"
	"github.com/tradecore/gotrade/internal/exchange"
	"github.com/tradecore/gotrade/internal/ledger"
)

// Config 协调器配置
type Config struct {
	SubmitTimeout time.Duration // 单次提交的超时
	// 提交结果不确定（网络错误/超时）时，向交易所查证的次数与间隔
	StatusPollAttempts int
	StatusPollInterval time.Duration
	// 市价买单冻结计价资产时在最新价上加的缓冲比例
	MarketBuffer decimal.Decimal
}

// DefaultConfig 返回默认协调器配置
func DefaultConfig() Config {
	return Config{
		SubmitTimeout:      10 * time.Second,
		StatusPollAttempts: 5,
		StatusPollInterval: 2 * time.Second,
		MarketBuffer:       decimal.RequireFromString("0.01"),
	}
}

// Coordinator 订单执行协调器。
// 订单状态的唯一写入方：下单、撤单、成交回报、对账回放都汇聚到这里，
// 按订单串行应用。余额的冻结与释放只跟随订单事件，从不乐观释放。
type Coordinator struct {
	cfg       Config
	adapter   exchange.Adapter
	balances  *ledger.BalanceLedger
	positions *ledger.PositionLedger
	repo      ledger.Repository
	dedup     *InFlightDeduper
	log       *logrus.Entry

	mu           sync.Mutex
	orders       map[string]*domain.Order // 内部 id ->
	byExchangeID map[string]string        // 交易所 id -> 内部 id

	// fillMu 把成交应用与终态确认串行化：WS 推送与对账回放
	// 并发投递同一笔成交时，去重检查与落账之间不会被穿插。
	fillMu    sync.Mutex
	seenExecs map[string]bool // 已生效的成交 id（仓库写失败时的内存兜底）

	// 最近一次成交对账的水位线，重连回放从这里开始拉
	lastSyncMu sync.Mutex
	lastSync   time.Time
}

// NewCoordinator 创建协调器并从仓库恢复未完结订单
func NewCoordinator(cfg Config, adapter exchange.Adapter, balances *ledger.BalanceLedger,
	positions *ledger.PositionLedger, repo ledger.Repository) (*Coordinator, error) {

	c := &Coordinator{
		cfg:          cfg,
		adapter:      adapter,
		balances:     balances,
		positions:    positions,
		repo:         repo,
		dedup:        NewInFlightDeduper(cfg.SubmitTimeout, 32),
		log:          logrus.WithField("component", "coordinator"),
		orders:       make(map[string]*domain.Order),
		byExchangeID: make(map[string]string),
		seenExecs:    make(map[string]bool),
		lastSync:     time.Now(),
	}

	open, err := repo.ListOpenOrders()
	if err != nil {
		return nil, err
	}
	for _, o := range open {
		c.orders[o.ID] = o
		if o.ExchangeOrderID != "" {
			c.byExchangeID[o.ExchangeOrderID] = o.ID
		}
	}
	if len(open) > 0 {
		c.log.Infof("恢复 %d 笔未完结订单", len(open))
	}
	return c, nil
}

// CreateOrder 下单主路径：校验 → 冻结 → 提交 → 跟踪。
// 提交失败时冻结原路释放；结果不确定时先查证再决定，
// 绝不在资金可能已被交易所占用时提前解冻。
func (c *Coordinator) CreateOrder(ctx context.Context, userID string, spec domain.OrderSpec) (*domain.Order, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	// 幂等：同一用户同键的已知订单直接返回，不重复提交。
	// 键按用户隔离，不同用户的同名键互不可见。
	if spec.IdempotencyKey != "" {
		if existing, err := c.repo.GetOrderByIdempotencyKey(userID, spec.IdempotencyKey); err == nil {
			return existing, nil
		}
		dedupKey := userID + ":" + spec.IdempotencyKey
		if err := c.dedup.TryAcquire(dedupKey); err != nil {
			return nil, err
		}
		defer c.dedup.Release(dedupKey)
	}

	frozenAsset, frozenAmount, err := c.computeFreeze(ctx, spec)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	order := &domain.Order{
		ID:                uuid.NewString(),
		IdempotencyKey:    spec.IdempotencyKey,
		UserID:            userID,
		Exchange:          c.adapter.Name(),
		Symbol:            spec.Symbol,
		Side:              spec.Side,
		Type:              spec.Type,
		Quantity:          spec.Quantity,
		Price:             spec.Price,
		StopPrice:         spec.StopPrice,
		TimeInForce:       spec.TimeInForce,
		Status:            domain.OrderStatusNew,
		FilledQuantity:    decimal.Zero,
		RemainingQuantity: spec.Quantity,
		AverageFillPrice:  decimal.Zero,
		FeeAccrued:        decimal.Zero,
		FrozenAsset:       frozenAsset,
		FrozenAmount:      frozenAmount,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := c.balances.Freeze(userID, frozenAsset, frozenAmount); err != nil {
		return nil, err
	}
	if err := c.repo.SaveOrder(order); err != nil {
		// 订单还未提交，冻结可以安全回滚
		c.balances.Unfreeze(userID, frozenAsset, frozenAmount)
		return nil, err
	}

	c.track(order)

	submitCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	req := &exchange.CreateOrderRequest{
		Symbol:        spec.Symbol,
		Side:          spec.Side,
		Type:          spec.Type,
		Quantity:      spec.Quantity.String(),
		TimeInForce:   spec.TimeInForce,
		ClientOrderID: order.ID,
	}
	if spec.Price != nil {
		req.Price = spec.Price.String()
	}
	if spec.StopPrice != nil {
		req.StopPrice = spec.StopPrice.String()
	}

	remote, err := c.adapter.CreateOrder(submitCtx, req)
	if err != nil {
		return c.resolveSubmitFailure(ctx, order, err)
	}

	c.mu.Lock()
	order.ExchangeOrderID = remote.ExchangeOrderID
	if remote.Status != "" {
		order.Status = remote.Status
	} else {
		order.Status = domain.OrderStatusSubmitted
	}
	order.UpdatedAt = time.Now()
	c.byExchangeID[remote.ExchangeOrderID] = order.ID
	cp := *order
	c.mu.Unlock()

	if err := c.repo.SaveOrder(&cp); err != nil {
		c.log.Errorf("订单持久化失败: id=%s err=%v", cp.ID, err)
	}
	c.log.Infof("订单已提交: id=%s exchange_id=%s %s %s %s", order.ID, order.ExchangeOrderID,
		order.Side, order.Quantity, order.Symbol)
	return &cp, nil
}

// computeFreeze 计算下单需要锁定的资产与数量。
// 买单锁计价资产（限价按限价计，市价按最新价加缓冲），卖单锁基础资产。
func (c *Coordinator) computeFreeze(ctx context.Context, spec domain.OrderSpec) (string, decimal.Decimal, error) {
	if spec.Side == domain.SideSell {
		return domain.SymbolBase(spec.Symbol), spec.Quantity, nil
	}

	quote := domain.SymbolQuote(spec.Symbol)
	var ref decimal.Decimal
	switch {
	case spec.Price != nil:
		ref = *spec.Price
	default:
		ticker, err := c.adapter.Ticker(ctx, spec.Symbol)
		if err != nil {
			return "", decimal.Zero, err
		}
		ref = ticker.Last.Mul(decimal.NewFromInt(1).Add(c.cfg.MarketBuffer))
	}
	return quote, spec.Quantity.Mul(ref), nil
}

// resolveSubmitFailure 区分确定失败与不确定失败。
// 确定失败（交易所明确拒绝 / 限流未发出）：释放冻结并标记 Rejected。
// 不确定失败（网络错误/超时）：订单可能已被接受，先查证，
// 只有确认订单不存在才释放冻结。
func (c *Coordinator) resolveSubmitFailure(ctx context.Context, order *domain.Order, submitErr error) (*domain.Order, error) {
	switch submitErr.(type) {
	case *domain.NetworkError:
		c.log.Warnf("提交结果不确定: id=%s err=%v, 查证中", order.ID, submitErr)
		if found := c.pollSubmitOutcome(ctx, order); found {
			c.mu.Lock()
			cp := *order
			c.mu.Unlock()
			return &cp, nil
		}
		c.log.Warnf("交易所确认无此订单: id=%s, 释放冻结", order.ID)
	default:
		// RemoteError / AuthError / RateLimitError / ValidationError：订单确定未被接受
	}

	c.reject(order, submitErr.Error())
	return nil, submitErr
}

// pollSubmitOutcome 有界轮询交易所的未完结订单，按客户端订单 ID 认领。
// 返回 true 表示订单确实已被交易所接受。
func (c *Coordinator) pollSubmitOutcome(ctx context.Context, order *domain.Order) bool {
	for attempt := 0; attempt < c.cfg.StatusPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.cfg.StatusPollInterval):
		}

		remote, err := c.adapter.ListOpenOrders(ctx, order.Symbol)
		if err != nil {
			continue
		}
		for _, ro := range remote {
			if ro.ID == order.ID {
				c.mu.Lock()
				order.ExchangeOrderID = ro.ExchangeOrderID
				order.Status = ro.Status
				order.UpdatedAt = time.Now()
				c.byExchangeID[ro.ExchangeOrderID] = order.ID
				cp := *order
				c.mu.Unlock()
				c.repo.SaveOrder(&cp)
				return true
			}
		}
		// 订单可能已被接受并立即成交，再查一遍成交记录
		execs, err := c.adapter.MyTrades(ctx, order.Symbol, order.CreatedAt)
		if err != nil {
			continue
		}
		for _, x := range execs {
			if x.OrderID == order.ID {
				c.mu.Lock()
				order.Status = domain.OrderStatusSubmitted
				order.UpdatedAt = time.Now()
				c.mu.Unlock()
				c.ApplyFill(x)
				return true
			}
		}
	}
	return false
}

// reject 终结订单并释放全部剩余冻结
func (c *Coordinator) reject(order *domain.Order, reason string) {
	c.mu.Lock()
	order.Status = domain.OrderStatusRejected
	order.RejectReason = reason
	order.UpdatedAt = time.Now()
	release := order.FrozenAmount
	order.FrozenAmount = decimal.Zero
	cp := *order
	c.mu.Unlock()

	if release.IsPositive() {
		if err := c.balances.Unfreeze(order.UserID, order.FrozenAsset, release); err != nil {
			c.log.Errorf("拒单释放冻结失败: id=%s err=%v", order.ID, err)
		}
	}
	c.repo.SaveOrder(&cp)
	c.untrack(order.ID)
}

func (c *Coordinator) track(order *domain.Order) {
	c.mu.Lock()
	c.orders[order.ID] = order
	if order.ExchangeOrderID != "" {
		c.byExchangeID[order.ExchangeOrderID] = order.ID
	}
	c.mu.Unlock()
}

func (c *Coordinator) untrack(id string) {
	c.mu.Lock()
	if o, ok := c.orders[id]; ok {
		delete(c.byExchangeID, o.ExchangeOrderID)
		delete(c.orders, id)
	}
	c.mu.Unlock()
}

// lookup 按内部 id 或交易所 id 找被跟踪的订单
func (c *Coordinator) lookup(clientOrderID, exchangeOrderID string) *domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.orders[clientOrderID]; ok {
		return o
	}
	if id, ok := c.byExchangeID[exchangeOrderID]; ok {
		return c.orders[id]
	}
	return nil
}

// ApplyFill 应用一笔成交。按成交 id 幂等：重复回放（WS 推送 +
// 对账拉取同一笔成交）只生效一次，fillMu 保证并发投递也只进一次。
// 结算顺序：余额 → 持仓 → 订单状态，资金过账失败时订单不折叠。
func (c *Coordinator) ApplyFill(x domain.Execution) error {
	c.fillMu.Lock()
	defer c.fillMu.Unlock()

	if c.seenExecs[x.ID] {
		c.log.Debugf("成交已处理，跳过: exec=%s", x.ID)
		return nil
	}
	seen, err := c.repo.HasExecution(x.ID)
	if err != nil {
		return err
	}
	if seen {
		c.seenExecs[x.ID] = true
		c.log.Debugf("成交已处理，跳过: exec=%s", x.ID)
		return nil
	}

	// 撤单确认先到时订单已不在跟踪表里，从仓库兜底找回：
	// 频道间没有顺序保证，成交优先于已应用的撤销终态。
	order := c.lookup(x.OrderID, "")
	late := false
	if order == nil {
		stored, err := c.repo.GetOrder(x.OrderID)
		if err != nil {
			c.log.Warnf("成交找不到对应订单，丢弃: exec=%s order=%s", x.ID, x.OrderID)
			return nil
		}
		order = stored
		if order.Status.IsTerminal() {
			late = true
		} else {
			c.track(order)
		}
	}

	c.mu.Lock()
	if order.Status.IsTerminal() && !late {
		st := order.Status
		c.mu.Unlock()
		c.log.Errorf("终态订单收到新成交: id=%s status=%s exec=%s", order.ID, st, x.ID)
		return &domain.OrderStateError{OrderID: order.ID, From: st, Op: "apply fill"}
	}
	if x.Quantity.GreaterThan(order.RemainingQuantity) {
		c.mu.Unlock()
		return &domain.LedgerInvariantError{
			Invariant: "fill <= remaining",
			Detail:    "fill " + x.Quantity.String() + " exceeds remaining " + order.RemainingQuantity.String(),
		}
	}

	// 本笔成交消耗的冻结
	var settle decimal.Decimal
	if order.Side == domain.SideBuy {
		settle = x.Price.Mul(x.Quantity)
	} else {
		settle = x.Quantity
	}
	if settle.GreaterThan(order.FrozenAmount) {
		// 市价单成交在缓冲价之上，或撤单确认已释放冻结：超出部分从可用余额补
		settle = order.FrozenAmount
	}
	snapshot := *order
	c.mu.Unlock()

	// 先过账，成功后才折叠订单聚合字段
	if err := c.settleBalances(&snapshot, x, settle); err != nil {
		c.log.Errorf("成交结算失败: exec=%s err=%v", x.ID, err)
		return err
	}
	if _, err := c.positions.ApplyTrade(snapshot.UserID, snapshot.Symbol, x.Side, x.Quantity, x.Price); err != nil {
		c.log.Errorf("持仓更新失败: exec=%s err=%v", x.ID, err)
		return err
	}

	c.mu.Lock()
	newFilled := order.FilledQuantity.Add(x.Quantity)
	order.AverageFillPrice = order.AverageFillPrice.Mul(order.FilledQuantity).
		Add(x.Price.Mul(x.Quantity)).Div(newFilled)
	order.FilledQuantity = newFilled
	order.RemainingQuantity = order.Quantity.Sub(newFilled)
	order.FeeAccrued = order.FeeAccrued.Add(x.Fee)
	order.FeeAsset = x.FeeAsset
	order.FrozenAmount = order.FrozenAmount.Sub(settle)

	filledOut := order.RemainingQuantity.IsZero()
	if filledOut {
		// 成交优先：迟到成交把已撤销订单补成 Filled
		order.Status = domain.OrderStatusFilled
	} else if !late {
		order.Status = domain.OrderStatusPartiallyFilled
	}
	order.UpdatedAt = time.Now()
	cp := *order
	c.mu.Unlock()

	c.seenExecs[x.ID] = true
	if err := c.repo.SaveExecution(x); err != nil {
		c.log.Errorf("成交持久化失败: exec=%s err=%v", x.ID, err)
	}
	if err := c.repo.SaveOrder(&cp); err != nil {
		c.log.Errorf("订单持久化失败: id=%s err=%v", cp.ID, err)
	}

	if late {
		c.log.Warnf("撤单确认后补到成交，已从可用余额结算: id=%s exec=%s", cp.ID, x.ID)
		return nil
	}
	if filledOut {
		// 完全成交：释放剩余冻结（限价优于成交价时的差额）
		c.releaseRemaining(&cp)
		c.untrack(cp.ID)
		c.log.Infof("订单完全成交: id=%s avg=%s fee=%s %s", cp.ID, cp.AverageFillPrice, cp.FeeAccrued, cp.FeeAsset)
	}
	return nil
}

// settleBalances 成交的资金腾挪：
// 买单：冻结的计价资产按成交成本扣减，入账基础资产（手续费若以基础资产计则净额入账）。
// 卖单：冻结的基础资产按成交数量扣减，入账计价资产所得（扣计价资产手续费）。
func (c *Coordinator) settleBalances(order *domain.Order, x domain.Execution, settle decimal.Decimal) error {
	cost := x.Price.Mul(x.Quantity)
	base := order.BaseAsset()
	quote := order.QuoteAsset()

	if order.Side == domain.SideBuy {
		if settle.IsPositive() {
			if err := c.balances.DebitFrozen(order.UserID, quote, settle); err != nil {
				return err
			}
		}
		if cost.GreaterThan(settle) {
			// 冻结不足的部分从可用余额补扣
			if err := c.balances.Debit(order.UserID, quote, cost.Sub(settle)); err != nil {
				return err
			}
		}
		credit := x.Quantity
		if x.FeeAsset == base {
			credit = credit.Sub(x.Fee)
		}
		if credit.IsPositive() {
			if err := c.balances.Credit(order.UserID, base, credit); err != nil {
				return err
			}
		}
		if x.FeeAsset == quote && x.Fee.IsPositive() {
			if err := c.balances.Debit(order.UserID, quote, x.Fee); err != nil {
				return err
			}
		}
		return nil
	}

	if settle.IsPositive() {
		if err := c.balances.DebitFrozen(order.UserID, base, settle); err != nil {
			return err
		}
	}
	if x.Quantity.GreaterThan(settle) {
		// 冻结不足的部分从可用余额补扣（撤单确认先释放、成交后到时发生）
		if err := c.balances.Debit(order.UserID, base, x.Quantity.Sub(settle)); err != nil {
			return err
		}
	}
	proceeds := cost
	if x.FeeAsset == quote {
		proceeds = proceeds.Sub(x.Fee)
	}
	if proceeds.IsPositive() {
		if err := c.balances.Credit(order.UserID, quote, proceeds); err != nil {
			return err
		}
	}
	return nil
}

// releaseRemaining 释放订单的全部剩余冻结
func (c *Coordinator) releaseRemaining(order *domain.Order) {
	c.mu.Lock()
	release := order.FrozenAmount
	order.FrozenAmount = decimal.Zero
	if live, ok := c.orders[order.ID]; ok {
		live.FrozenAmount = decimal.Zero
	}
	c.mu.Unlock()

	if release.IsPositive() {
		if err := c.balances.Unfreeze(order.UserID, order.FrozenAsset, release); err != nil {
			c.log.Errorf("释放剩余冻结失败: id=%s err=%v", order.ID, err)
		}
	}
	c.repo.SaveOrder(order)
}

// CancelOrder 请求撤单。只向交易所发出请求并标记 CancelRequested，
// 冻结资金等收到撤单确认才释放：撤单请求在途时订单仍可能成交。
func (c *Coordinator) CancelOrder(ctx context.Context, userID, orderID string) error {
	order := c.lookup(orderID, "")
	if order == nil {
		return ledger.ErrNotFound
	}

	c.mu.Lock()
	if order.UserID != userID {
		c.mu.Unlock()
		return ledger.ErrNotFound
	}
	if order.Status.IsTerminal() {
		st := order.Status
		c.mu.Unlock()
		return &domain.OrderStateError{OrderID: orderID, From: st, Op: "cancel"}
	}
	if order.CancelRequested {
		c.mu.Unlock()
		return nil
	}
	symbol, exchangeID := order.Symbol, order.ExchangeOrderID
	c.mu.Unlock()

	if err := c.adapter.CancelOrder(ctx, symbol, exchangeID); err != nil {
		if _, ok := err.(*domain.RemoteError); ok {
			// 交易所已不认识这笔订单（可能刚成交或已撤），查证对齐
			c.log.Warnf("撤单被拒，查证订单状态: id=%s err=%v", orderID, err)
			c.syncOrder(ctx, order)
			return nil
		}
		return err
	}

	c.mu.Lock()
	order.CancelRequested = true
	order.UpdatedAt = time.Now()
	cp := *order
	c.mu.Unlock()
	c.repo.SaveOrder(&cp)
	c.log.Infof("撤单请求已发出: id=%s", orderID)
	return nil
}

// HandleOrderEvent 私有频道订单事件入口
func (c *Coordinator) HandleOrderEvent(ev exchange.OrderEvent) {
	switch ev.Kind {
	case exchange.OrderEventFill:
		if ev.Execution == nil {
			c.log.Warnf("成交事件缺少执行明细: %+v", ev)
			return
		}
		if err := c.ApplyFill(*ev.Execution); err != nil {
			c.log.Errorf("成交应用失败: exec=%s err=%v", ev.Execution.ID, err)
		}
	case exchange.OrderEventCancelled:
		c.confirmTerminal(ev, domain.OrderStatusCancelled)
	case exchange.OrderEventExpired:
		c.confirmTerminal(ev, domain.OrderStatusExpired)
	}
}

// confirmTerminal 交易所确认的撤销/过期终态。
// 已 Filled 的订单忽略该确认：成交优先于迟到的撤单确认。
// 与 ApplyFill 共用 fillMu，终态确认不会与折叠中的成交交错。
func (c *Coordinator) confirmTerminal(ev exchange.OrderEvent, status domain.OrderStatus) {
	c.fillMu.Lock()
	defer c.fillMu.Unlock()

	order := c.lookup(ev.ClientOrderID, ev.ExchangeOrderID)
	if order == nil {
		c.log.Debugf("终态确认找不到订单，忽略: %s %s", ev.Kind, ev.ClientOrderID)
		return
	}

	c.mu.Lock()
	if order.Status.IsTerminal() {
		st := order.Status
		c.mu.Unlock()
		c.log.Warnf("终态订单收到 %s 确认，忽略: id=%s status=%s", ev.Kind, order.ID, st)
		return
	}
	order.Status = status
	order.UpdatedAt = time.Now()
	cp := *order
	c.mu.Unlock()

	c.releaseRemaining(&cp)
	c.untrack(cp.ID)
	c.log.Infof("订单 %s: id=%s filled=%s", status, cp.ID, cp.FilledQuantity)
}

// GetOrder 查询订单（先内存，后仓库）
func (c *Coordinator) GetOrder(orderID string) (*domain.Order, error) {
	c.mu.Lock()
	if o, ok := c.orders[orderID]; ok {
		cp := *o
		c.mu.Unlock()
		return &cp, nil
	}
	c.mu.Unlock()
	return c.repo.GetOrder(orderID)
}

// OpenOrders 当前被跟踪的未完结订单快照
func (c *Coordinator) OpenOrders() []*domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.Order, 0, len(c.orders))
	for _, o := range c.orders {
		cp := *o
		out = append(out, &cp)
	}
	return out
}
