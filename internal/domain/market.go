package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Symbol 交易对元信息
type Symbol struct {
	Name           string // 规范名（BTC_USDT）
	Base           string
	Quote          string
	PricePrecision int32
	SizePrecision  int32
	MinQuantity    decimal.Decimal
	MinQuoteAmount decimal.Decimal
}

// SymbolBase 从规范交易对名提取基础资产
func SymbolBase(symbol string) string {
	if i := strings.IndexByte(symbol, '_'); i > 0 {
		return symbol[:i]
	}
	return symbol
}

// SymbolQuote 从规范交易对名提取计价资产
func SymbolQuote(symbol string) string {
	if i := strings.IndexByte(symbol, '_'); i >= 0 && i+1 < len(symbol) {
		return symbol[i+1:]
	}
	return ""
}

// Ticker 行情快照
type Ticker struct {
	Symbol    string
	Last      decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	High24h   decimal.Decimal
	Low24h    decimal.Decimal
	Volume24h decimal.Decimal
	Timestamp time.Time
}

// PriceLevel 订单簿价格档位
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBook 订单簿快照
type OrderBook struct {
	Symbol    string
	Bids      []PriceLevel // 买盘，价格从高到低
	Asks      []PriceLevel // 卖盘，价格从低到高
	Timestamp time.Time
}

// Trade 公共成交（非本账户成交，见 Execution）
type Trade struct {
	ID        string
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp time.Time
}

// Candle K 线
type Candle struct {
	Symbol    string
	Interval  string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}
