package ledger

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tradecore/gotrade/internal/domain"
)

// BalanceLedger 余额账本，本地权威状态。
// 每个用户的资产操作串行化；四个原子操作：Freeze / Unfreeze / Credit / Debit。
// 任何会使 available 或 frozen 变负的操作都会失败并保持状态不变，绝不截断。
type BalanceLedger struct {
	repo Repository
	log  *logrus.Entry

	mu    sync.Mutex
	users map[string]*userBalances
}

type userBalances struct {
	mu       sync.Mutex
	balances map[string]*domain.Balance // asset ->
}

// NewBalanceLedger 创建余额账本并从仓库恢复快照
func NewBalanceLedger(repo Repository) (*BalanceLedger, error) {
	l := &BalanceLedger{
		repo:  repo,
		log:   logrus.WithField("component", "balance_ledger"),
		users: make(map[string]*userBalances),
	}
	snapshot, err := repo.AllBalances()
	if err != nil {
		return nil, err
	}
	for _, b := range snapshot {
		cp := b
		l.user(b.UserID).balances[b.Asset] = &cp
	}
	return l, nil
}

// user 取（或建）用户账户，用户级互斥锁保证同一用户操作串行
func (l *BalanceLedger) user(userID string) *userBalances {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	if !ok {
		u = &userBalances{balances: make(map[string]*domain.Balance)}
		l.users[userID] = u
	}
	return u
}

func (u *userBalances) balance(userID, asset string) *domain.Balance {
	b, ok := u.balances[asset]
	if !ok {
		b = &domain.Balance{UserID: userID, Asset: asset,
			Available: decimal.Zero, Frozen: decimal.Zero}
		u.balances[asset] = b
	}
	return b
}

func requirePositive(op string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &domain.LedgerInvariantError{
			Invariant: "amount > 0",
			Detail:    op + " with non-positive amount " + amount.String(),
		}
	}
	return nil
}

// Credit 入账到可用余额
func (l *BalanceLedger) Credit(userID, asset string, amount decimal.Decimal) error {
	if err := requirePositive("credit", amount); err != nil {
		return err
	}
	u := l.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	b := u.balance(userID, asset)
	b.Available = b.Available.Add(amount)
	return l.persist(b)
}

// Debit 从可用余额扣减
func (l *BalanceLedger) Debit(userID, asset string, amount decimal.Decimal) error {
	if err := requirePositive("debit", amount); err != nil {
		return err
	}
	u := l.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	b := u.balance(userID, asset)
	if b.Available.LessThan(amount) {
		return &domain.InsufficientBalanceError{
			UserID: userID, Asset: asset, Required: amount, Available: b.Available,
		}
	}
	b.Available = b.Available.Sub(amount)
	return l.persist(b)
}

// Freeze 从可用转入冻结（下单前锁定资金）
func (l *BalanceLedger) Freeze(userID, asset string, amount decimal.Decimal) error {
	if err := requirePositive("freeze", amount); err != nil {
		return err
	}
	u := l.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	b := u.balance(userID, asset)
	if b.Available.LessThan(amount) {
		return &domain.InsufficientBalanceError{
			UserID: userID, Asset: asset, Required: amount, Available: b.Available,
		}
	}
	b.Available = b.Available.Sub(amount)
	b.Frozen = b.Frozen.Add(amount)
	return l.persist(b)
}

// Unfreeze 冻结转回可用（撤单确认 / 拒单后释放）。
// 释放量超过冻结量说明记账已错乱，返回不变式错误。
func (l *BalanceLedger) Unfreeze(userID, asset string, amount decimal.Decimal) error {
	if err := requirePositive("unfreeze", amount); err != nil {
		return err
	}
	u := l.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	b := u.balance(userID, asset)
	if b.Frozen.LessThan(amount) {
		l.log.Errorf("解冻超量: user=%s asset=%s frozen=%s release=%s",
			userID, asset, b.Frozen, amount)
		return &domain.LedgerInvariantError{
			Invariant: "frozen >= release",
			Detail:    "unfreeze " + amount.String() + " exceeds frozen " + b.Frozen.String(),
		}
	}
	b.Frozen = b.Frozen.Sub(amount)
	b.Available = b.Available.Add(amount)
	return l.persist(b)
}

// DebitFrozen 从冻结余额直接扣减（成交结算）
func (l *BalanceLedger) DebitFrozen(userID, asset string, amount decimal.Decimal) error {
	if err := requirePositive("debit frozen", amount); err != nil {
		return err
	}
	u := l.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	b := u.balance(userID, asset)
	if b.Frozen.LessThan(amount) {
		l.log.Errorf("冻结扣减超量: user=%s asset=%s frozen=%s debit=%s",
			userID, asset, b.Frozen, amount)
		return &domain.LedgerInvariantError{
			Invariant: "frozen >= settlement",
			Detail:    "debit " + amount.String() + " exceeds frozen " + b.Frozen.String(),
		}
	}
	b.Frozen = b.Frozen.Sub(amount)
	return l.persist(b)
}

// Get 查询单个资产余额（不存在返回零值余额）
func (l *BalanceLedger) Get(userID, asset string) domain.Balance {
	u := l.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if b, ok := u.balances[asset]; ok {
		return *b
	}
	return domain.Balance{UserID: userID, Asset: asset,
		Available: decimal.Zero, Frozen: decimal.Zero}
}

// List 查询用户全部余额
func (l *BalanceLedger) List(userID string) []domain.Balance {
	u := l.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]domain.Balance, 0, len(u.balances))
	for _, b := range u.balances {
		out = append(out, *b)
	}
	return out
}

// persist 写穿仓库。持久化失败不回滚内存状态（内存是权威），
// 只向上返回错误供调用方告警。
func (l *BalanceLedger) persist(b *domain.Balance) error {
	if err := l.repo.SaveBalance(*b); err != nil {
		l.log.Errorf("余额落库失败: user=%s asset=%s err=%v", b.UserID, b.Asset, err)
		return err
	}
	return nil
}
