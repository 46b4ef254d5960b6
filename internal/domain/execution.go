package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Execution 成交记录（fill）
// 不可变、只追加；订单的聚合字段由折叠 executions 推导，绝不反向修改。
// ID 来自交易所（trade id），是重连回放去重的幂等键。
type Execution struct {
	ID        string          // 交易所分配的成交 ID
	OrderID   string          // 所属内部订单 ID
	Symbol    string          // 交易对
	Side      Side            // 成交方向（继承订单方向）
	Price     decimal.Decimal // 成交价
	Quantity  decimal.Decimal // 成交数量
	Fee       decimal.Decimal // 手续费
	FeeAsset  string          // 手续费资产
	Timestamp time.Time       // 交易所时间戳
}
