package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tradecore/gotrade/internal/domain"
)

// PositionLedger 持仓账本。
// 数量带符号（正多负空）；加仓更新加权平均成本，减仓按
// (成交价 - 平均成本) 入账已实现盈亏；穿越零点时剩余部分
// 以成交价作为新仓成本。未实现盈亏只随盯市价派生，不落库。
type PositionLedger struct {
	repo Repository
	log  *logrus.Entry

	mu    sync.Mutex
	users map[string]*userPositions
}

type userPositions struct {
	mu        sync.Mutex
	positions map[string]*domain.Position // symbol ->
}

// NewPositionLedger 创建持仓账本并从仓库恢复快照
func NewPositionLedger(repo Repository) (*PositionLedger, error) {
	l := &PositionLedger{
		repo:  repo,
		log:   logrus.WithField("component", "position_ledger"),
		users: make(map[string]*userPositions),
	}
	snapshot, err := repo.AllPositions()
	if err != nil {
		return nil, err
	}
	for _, p := range snapshot {
		cp := p
		l.user(p.UserID).positions[p.Symbol] = &cp
	}
	return l, nil
}

func (l *PositionLedger) user(userID string) *userPositions {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	if !ok {
		u = &userPositions{positions: make(map[string]*domain.Position)}
		l.users[userID] = u
	}
	return u
}

// ApplyTrade 按一笔成交更新持仓，返回更新后的快照
func (l *PositionLedger) ApplyTrade(userID, symbol string, side domain.Side, quantity, price decimal.Decimal) (domain.Position, error) {
	if !quantity.IsPositive() || !price.IsPositive() {
		return domain.Position{}, &domain.LedgerInvariantError{
			Invariant: "quantity > 0 && price > 0",
			Detail:    "apply trade qty=" + quantity.String() + " price=" + price.String(),
		}
	}

	delta := quantity
	if side == domain.SideSell {
		delta = quantity.Neg()
	}

	u := l.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	p, ok := u.positions[symbol]
	if !ok {
		p = &domain.Position{UserID: userID, Symbol: symbol,
			Quantity: decimal.Zero, AvgCost: decimal.Zero,
			RealizedPnL: decimal.Zero}
		u.positions[symbol] = p
	}

	switch {
	case p.Quantity.IsZero():
		// 开仓
		p.Quantity = delta
		p.AvgCost = price

	case p.Quantity.Sign() == delta.Sign():
		// 同向加仓：加权平均成本
		oldAbs := p.Quantity.Abs()
		newAbs := oldAbs.Add(quantity)
		p.AvgCost = p.AvgCost.Mul(oldAbs).Add(price.Mul(quantity)).Div(newAbs)
		p.Quantity = p.Quantity.Add(delta)

	default:
		// 反向：先平后开
		closed := decimal.Min(quantity, p.Quantity.Abs())
		pnlPerUnit := price.Sub(p.AvgCost)
		if p.Quantity.Sign() < 0 {
			pnlPerUnit = pnlPerUnit.Neg()
		}
		p.RealizedPnL = p.RealizedPnL.Add(pnlPerUnit.Mul(closed))

		p.Quantity = p.Quantity.Add(delta)
		if p.Quantity.IsZero() {
			p.AvgCost = decimal.Zero
		} else if p.Quantity.Sign() != delta.Neg().Sign() {
			// 穿越零点，剩余反向仓位以本笔成交价为成本
			p.AvgCost = price
		}
	}

	p.UpdatedAt = time.Now()
	if !p.MarkPrice.IsZero() {
		p.RefreshUnrealized(p.MarkPrice)
	}

	if err := l.repo.SavePosition(*p); err != nil {
		l.log.Errorf("持仓落库失败: user=%s symbol=%s err=%v", userID, symbol, err)
		return *p, err
	}
	return *p, nil
}

// UpdateMark 用最新盯市价刷新该交易对下所有用户的未实现盈亏。
// 派生值只改内存，不落库。
func (l *PositionLedger) UpdateMark(symbol string, mark decimal.Decimal) {
	if !mark.IsPositive() {
		return
	}
	l.mu.Lock()
	users := make([]*userPositions, 0, len(l.users))
	for _, u := range l.users {
		users = append(users, u)
	}
	l.mu.Unlock()

	for _, u := range users {
		u.mu.Lock()
		if p, ok := u.positions[symbol]; ok && !p.IsFlat() {
			p.RefreshUnrealized(mark)
		}
		u.mu.Unlock()
	}
}

// Get 查询单个持仓（不存在返回平仓零值）
func (l *PositionLedger) Get(userID, symbol string) domain.Position {
	u := l.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if p, ok := u.positions[symbol]; ok {
		return *p
	}
	return domain.Position{UserID: userID, Symbol: symbol,
		Quantity: decimal.Zero, AvgCost: decimal.Zero,
		RealizedPnL: decimal.Zero}
}

// List 查询用户全部非平仓持仓
func (l *PositionLedger) List(userID string) []domain.Position {
	u := l.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]domain.Position, 0, len(u.positions))
	for _, p := range u.positions {
		if !p.IsFlat() {
			out = append(out, *p)
		}
	}
	return out
}
