package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position 持仓领域模型，按 (user, symbol) 记账
// Quantity 带符号（正为多头）；AvgCost 仅在 Quantity != 0 时有意义，
// 平仓到零时重置均价并把已实现盈亏落袋。
// UnrealizedPnL 是按最新标记价推导的缓存值，不作为权威数据持久化。
type Position struct {
	UserID      string
	Symbol      string
	Quantity    decimal.Decimal // 带符号持仓数量
	AvgCost     decimal.Decimal // 平均成本价
	RealizedPnL decimal.Decimal // 累计已实现盈亏（只增量累加）

	MarkPrice     decimal.Decimal // 最新标记价
	UnrealizedPnL decimal.Decimal // 未实现盈亏（推导缓存）
	UpdatedAt     time.Time
}

// IsFlat 是否空仓
func (p *Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// RefreshUnrealized 按标记价重算未实现盈亏
func (p *Position) RefreshUnrealized(mark decimal.Decimal) {
	p.MarkPrice = mark
	if p.Quantity.IsZero() {
		p.UnrealizedPnL = decimal.Zero
		return
	}
	// (mark - avgCost) * quantity，空头时 quantity 为负自然取反
	p.UnrealizedPnL = mark.Sub(p.AvgCost).Mul(p.Quantity)
}
