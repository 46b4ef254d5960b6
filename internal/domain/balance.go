package domain

import "github.com/shopspring/decimal"

// Balance 按 (user, asset) 记账
// 不变式：Total == Available + Frozen，且两者均非负。
// 首次引用时惰性创建；只能通过 BalanceLedger 的四个原子操作变更。
type Balance struct {
	UserID    string
	Asset     string
	Available decimal.Decimal // 可用
	Frozen    decimal.Decimal // 冻结（挂单占用）
}

// Total 总额（推导值）
func (b *Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Frozen)
}
