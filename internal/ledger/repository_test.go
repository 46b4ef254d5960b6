package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecore/gotrade/internal/domain"
)

func testOrder(id string) *domain.Order {
	price := decimal.RequireFromString("50000")
	return &domain.Order{
		ID:                id,
		IdempotencyKey:    "idem-" + id,
		UserID:            "u1",
		Exchange:          "gateio",
		Symbol:            "BTC_USDT",
		Side:              domain.SideBuy,
		Type:              domain.OrderTypeLimit,
		Quantity:          decimal.RequireFromString("0.01"),
		Price:             &price,
		TimeInForce:       domain.TimeInForceGTC,
		Status:            domain.OrderStatusSubmitted,
		FilledQuantity:    decimal.Zero,
		RemainingQuantity: decimal.RequireFromString("0.01"),
		AverageFillPrice:  decimal.Zero,
		FeeAccrued:        decimal.Zero,
		FrozenAsset:       "USDT",
		FrozenAmount:      decimal.RequireFromString("500"),
		CreatedAt:         time.Now().Truncate(time.Millisecond),
		UpdatedAt:         time.Now().Truncate(time.Millisecond),
	}
}

func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	sqlite, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("打开 sqlite 仓库失败: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"sqlite": sqlite,
	}
}

func TestRepositoryOrderRoundTrip(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			o := testOrder("ord-1")
			if err := repo.SaveOrder(o); err != nil {
				t.Fatalf("保存订单失败: %v", err)
			}

			got, err := repo.GetOrder("ord-1")
			if err != nil {
				t.Fatalf("查询订单失败: %v", err)
			}
			if got.Symbol != o.Symbol || got.Status != o.Status {
				t.Errorf("订单字段错误: %+v", got)
			}
			if got.Price == nil || !got.Price.Equal(*o.Price) {
				t.Errorf("限价字段错误: %v", got.Price)
			}
			if !got.FrozenAmount.Equal(o.FrozenAmount) {
				t.Errorf("冻结量错误: %s", got.FrozenAmount)
			}

			byKey, err := repo.GetOrderByIdempotencyKey("u1", "idem-ord-1")
			if err != nil || byKey.ID != "ord-1" {
				t.Errorf("幂等键查询失败: %v %v", byKey, err)
			}
			// 幂等键按用户隔离：别的用户查不到这把键
			if _, err := repo.GetOrderByIdempotencyKey("u2", "idem-ord-1"); err == nil {
				t.Error("跨用户的幂等键查询不应命中")
			}

			// 更新后整行覆盖
			o.Status = domain.OrderStatusFilled
			o.FilledQuantity = o.Quantity
			o.RemainingQuantity = decimal.Zero
			if err := repo.SaveOrder(o); err != nil {
				t.Fatalf("更新订单失败: %v", err)
			}
			got, _ = repo.GetOrder("ord-1")
			if got.Status != domain.OrderStatusFilled {
				t.Errorf("状态更新未生效: %s", got.Status)
			}
		})
	}
}

func TestRepositoryListOpenOrders(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			open := testOrder("open-1")
			filled := testOrder("filled-1")
			filled.IdempotencyKey = "idem-filled-1"
			filled.Status = domain.OrderStatusFilled
			repo.SaveOrder(open)
			repo.SaveOrder(filled)

			list, err := repo.ListOpenOrders()
			if err != nil {
				t.Fatalf("查询未完结订单失败: %v", err)
			}
			if len(list) != 1 || list[0].ID != "open-1" {
				t.Errorf("未完结订单列表错误: %+v", list)
			}
		})
	}
}

func TestRepositoryExecutionIdempotent(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			x := domain.Execution{
				ID: "exec-1", OrderID: "ord-1", Symbol: "BTC_USDT",
				Side: domain.SideBuy,
				Price: decimal.RequireFromString("49900"), Quantity: decimal.RequireFromString("0.01"),
				Fee: decimal.RequireFromString("0.499"), FeeAsset: "USDT",
				Timestamp: time.Now(),
			}
			if err := repo.SaveExecution(x); err != nil {
				t.Fatalf("保存成交失败: %v", err)
			}
			// 重复保存同一成交不报错（幂等）
			if err := repo.SaveExecution(x); err != nil {
				t.Fatalf("重复保存成交应幂等: %v", err)
			}
			has, err := repo.HasExecution("exec-1")
			if err != nil || !has {
				t.Errorf("成交应已记录: has=%v err=%v", has, err)
			}
			has, _ = repo.HasExecution("exec-unknown")
			if has {
				t.Error("未知成交 id 不应命中")
			}
		})
	}
}

func TestRepositoryBalancePositionRoundTrip(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			b := domain.Balance{UserID: "u1", Asset: "USDT",
				Available: decimal.RequireFromString("700"), Frozen: decimal.RequireFromString("300")}
			if err := repo.SaveBalance(b); err != nil {
				t.Fatalf("保存余额失败: %v", err)
			}
			// 覆盖
			b.Available = decimal.RequireFromString("650")
			repo.SaveBalance(b)

			balances, err := repo.AllBalances()
			if err != nil || len(balances) != 1 {
				t.Fatalf("余额列表错误: %v %v", balances, err)
			}
			if !balances[0].Available.Equal(decimal.RequireFromString("650")) {
				t.Errorf("余额覆盖未生效: %s", balances[0].Available)
			}

			p := domain.Position{UserID: "u1", Symbol: "BTC_USDT",
				Quantity: decimal.RequireFromString("0.01"), AvgCost: decimal.RequireFromString("49900"),
				RealizedPnL: decimal.Zero, UpdatedAt: time.Now()}
			if err := repo.SavePosition(p); err != nil {
				t.Fatalf("保存持仓失败: %v", err)
			}
			positions, err := repo.AllPositions()
			if err != nil || len(positions) != 1 {
				t.Fatalf("持仓列表错误: %v %v", positions, err)
			}
			if !positions[0].AvgCost.Equal(decimal.RequireFromString("49900")) {
				t.Errorf("持仓成本错误: %s", positions[0].AvgCost)
			}
		})
	}
}
