// Package ledger 维护余额与持仓的本地权威账本，
// 以及订单/成交的持久化仓库。
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tradecore/gotrade/internal/domain"
)

// ErrNotFound 表示仓库中不存在该记录
var ErrNotFound = fmt.Errorf("ledger record not found")

// Repository 订单、成交、余额与持仓的持久化接口。
// 成交按 id 幂等存储：HasExecution 是对账回放去重的依据。
type Repository interface {
	SaveOrder(o *domain.Order) error
	GetOrder(id string) (*domain.Order, error)
	// 幂等键按用户隔离，不同用户的同名键互不可见
	GetOrderByIdempotencyKey(userID, key string) (*domain.Order, error)
	ListOpenOrders() ([]*domain.Order, error)
	ListUserOrders(userID string) ([]*domain.Order, error)

	SaveExecution(x domain.Execution) error
	HasExecution(id string) (bool, error)

	SaveBalance(b domain.Balance) error
	AllBalances() ([]domain.Balance, error)

	SavePosition(p domain.Position) error
	AllPositions() ([]domain.Position, error)

	Close() error
}

// MemoryRepository 内存实现，测试与无持久化场景使用
type MemoryRepository struct {
	mu         sync.RWMutex
	orders     map[string]*domain.Order
	byIdemKey  map[string]string // userID+"/"+idempotency key -> order id
	executions map[string]domain.Execution
	balances   map[string]domain.Balance // userID+"/"+asset
	positions  map[string]domain.Position
}

// NewMemoryRepository 创建内存仓库
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:     make(map[string]*domain.Order),
		byIdemKey:  make(map[string]string),
		executions: make(map[string]domain.Execution),
		balances:   make(map[string]domain.Balance),
		positions:  make(map[string]domain.Position),
	}
}

// SaveOrder 保存订单副本
func (r *MemoryRepository) SaveOrder(o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	if o.IdempotencyKey != "" {
		r.byIdemKey[o.UserID+"/"+o.IdempotencyKey] = o.ID
	}
	return nil
}

// GetOrder 按内部 ID 查询订单
func (r *MemoryRepository) GetOrder(id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// GetOrderByIdempotencyKey 按用户与幂等键查询订单
func (r *MemoryRepository) GetOrderByIdempotencyKey(userID, key string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdemKey[userID+"/"+key]
	if !ok {
		return nil, ErrNotFound
	}
	o := r.orders[id]
	cp := *o
	return &cp, nil
}

// ListOpenOrders 列出全部未完结订单
func (r *MemoryRepository) ListOpenOrders() ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.Status.IsOpen() || o.Status == domain.OrderStatusNew {
			cp := *o
			out = append(out, &cp)
		}
	}
	sortOrders(out)
	return out, nil
}

// ListUserOrders 列出用户全部订单
func (r *MemoryRepository) ListUserOrders(userID string) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sortOrders(out)
	return out, nil
}

func sortOrders(orders []*domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}

// SaveExecution 保存成交（按 id 幂等）
func (r *MemoryRepository) SaveExecution(x domain.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[x.ID] = x
	return nil
}

// HasExecution 该成交 id 是否已记录
func (r *MemoryRepository) HasExecution(id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executions[id]
	return ok, nil
}

// SaveBalance 保存余额快照
func (r *MemoryRepository) SaveBalance(b domain.Balance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[b.UserID+"/"+b.Asset] = b
	return nil
}

// AllBalances 列出全部余额（重启恢复用）
func (r *MemoryRepository) AllBalances() ([]domain.Balance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Balance, 0, len(r.balances))
	for _, b := range r.balances {
		out = append(out, b)
	}
	return out, nil
}

// SavePosition 保存持仓快照
func (r *MemoryRepository) SavePosition(p domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[p.UserID+"/"+p.Symbol] = p
	return nil
}

// AllPositions 列出全部持仓（重启恢复用）
func (r *MemoryRepository) AllPositions() ([]domain.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Position, 0, len(r.positions))
	for _, p := range r.positions {
		out = append(out, p)
	}
	return out, nil
}

// Close 内存实现无资源需要释放
func (r *MemoryRepository) Close() error { return nil }

var _ Repository = (*MemoryRepository)(nil)
