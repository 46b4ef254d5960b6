package gateio

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tradecore/gotrade/internal/domain"
)

func TestConvertTicker(t *testing.T) {
	raw := `{"currency_pair":"BTC_USDT","last":"50123.4","lowest_ask":"50124","highest_bid":"50122.9","high_24h":"51000","low_24h":"49000","base_volume":"1234.5"}`
	var w wireTicker
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		t.Fatalf("解析样本失败: %v", err)
	}
	ticker, err := convertTicker(w)
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	if ticker.Symbol != "BTC_USDT" {
		t.Errorf("交易对错误: %s", ticker.Symbol)
	}
	if !ticker.Last.Equal(decimal.RequireFromString("50123.4")) {
		t.Errorf("最新价错误: %s", ticker.Last)
	}
	if !ticker.Bid.Equal(decimal.RequireFromString("50122.9")) || !ticker.Ask.Equal(decimal.RequireFromString("50124")) {
		t.Errorf("买一/卖一错误: bid=%s ask=%s", ticker.Bid, ticker.Ask)
	}
}

func TestConvertTickerBadNumber(t *testing.T) {
	_, err := convertTicker(wireTicker{CurrencyPair: "BTC_USDT", Last: "not-a-number"})
	if err == nil {
		t.Fatal("非法数字应当返回错误而不是静默为零")
	}
}

func TestConvertOrderBook(t *testing.T) {
	raw := `{"current":1700000000123,"asks":[["50124","0.5"],["50125","1.2"]],"bids":[["50122","0.8"]]}`
	var w wireOrderBook
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		t.Fatalf("解析样本失败: %v", err)
	}
	book, err := convertOrderBook("BTC_USDT", w)
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	if len(book.Asks) != 2 || len(book.Bids) != 1 {
		t.Fatalf("档位数量错误: asks=%d bids=%d", len(book.Asks), len(book.Bids))
	}
	if !book.Asks[0].Price.Equal(decimal.RequireFromString("50124")) {
		t.Errorf("卖一价错误: %s", book.Asks[0].Price)
	}
	if book.Timestamp.UnixMilli() != 1700000000123 {
		t.Errorf("时间戳错误: %d", book.Timestamp.UnixMilli())
	}
}

func TestConvertCandle(t *testing.T) {
	w := wireCandle{"1700000000", "61234.5", "50100", "50200", "49900", "50000"}
	c, err := convertCandle("BTC_USDT", "1m", w)
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	if !c.Open.Equal(decimal.RequireFromString("50000")) || !c.Close.Equal(decimal.RequireFromString("50100")) {
		t.Errorf("开收价错误: open=%s close=%s", c.Open, c.Close)
	}
	if c.Timestamp.Unix() != 1700000000 {
		t.Errorf("时间戳错误: %d", c.Timestamp.Unix())
	}
	if _, err := convertCandle("BTC_USDT", "1m", wireCandle{"1700000000"}); err == nil {
		t.Error("过短的 K 线数组应当报错")
	}
}

func TestConvertBalance(t *testing.T) {
	b, err := convertBalance(wireAccount{Currency: "USDT", Available: "500", Locked: "500"})
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	if b.Asset != "USDT" {
		t.Errorf("资产错误: %s", b.Asset)
	}
	if !b.Total().Equal(decimal.RequireFromString("1000")) {
		t.Errorf("总额应为 available+frozen: %s", b.Total())
	}
}

func TestConvertOrderStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		wire wireOrder
		want domain.OrderStatus
	}{
		{"open 未成交", wireOrder{Status: "open", Amount: "1", Left: "1"}, domain.OrderStatusSubmitted},
		{"open 部分成交", wireOrder{Status: "open", Amount: "1", Left: "0.4"}, domain.OrderStatusPartiallyFilled},
		{"closed 完全成交", wireOrder{Status: "closed", FinishAs: "filled", Amount: "1", Left: "0"}, domain.OrderStatusFilled},
		{"closed ioc 撤销", wireOrder{Status: "closed", FinishAs: "ioc", Amount: "1", Left: "0.5"}, domain.OrderStatusCancelled},
		{"closed 过期", wireOrder{Status: "closed", FinishAs: "expired", Amount: "1", Left: "1"}, domain.OrderStatusExpired},
		{"cancelled", wireOrder{Status: "cancelled", Amount: "1", Left: "1"}, domain.OrderStatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := convertOrder(tt.wire)
			if err != nil {
				t.Fatalf("转换失败: %v", err)
			}
			if order.Status != tt.want {
				t.Errorf("状态映射错误: got=%s want=%s", order.Status, tt.want)
			}
		})
	}
}

func TestConvertOrderFields(t *testing.T) {
	raw := `{"id":"12345","text":"t-abc123","currency_pair":"BTC_USDT","side":"buy","type":"limit","amount":"0.01","price":"50000","left":"0.004","avg_deal_price":"49900","fee":"0.0000059","fee_currency":"BTC","status":"open","create_time_ms":"1700000000123","update_time_ms":"1700000001456"}`
	var w wireOrder
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		t.Fatalf("解析样本失败: %v", err)
	}
	order, err := convertOrder(w)
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	if order.ID != "abc123" {
		t.Errorf("客户端订单 ID 应去掉 t- 前缀: %s", order.ID)
	}
	if order.ExchangeOrderID != "12345" {
		t.Errorf("交易所订单 ID 错误: %s", order.ExchangeOrderID)
	}
	if !order.FilledQuantity.Equal(decimal.RequireFromString("0.006")) {
		t.Errorf("已成交数量应为 amount-left: %s", order.FilledQuantity)
	}
	if !order.FilledQuantity.Add(order.RemainingQuantity).Equal(order.Quantity) {
		t.Error("filled+remaining 必须等于 quantity")
	}
	if order.Price == nil || !order.Price.Equal(decimal.RequireFromString("50000")) {
		t.Errorf("限价错误: %v", order.Price)
	}
	if order.Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("状态应为部分成交: %s", order.Status)
	}
	if order.UpdatedAt.UnixMilli() != 1700000001456 {
		t.Errorf("更新时间错误: %d", order.UpdatedAt.UnixMilli())
	}
}

func TestConvertMyTrade(t *testing.T) {
	raw := `{"id":"987","order_id":"12345","currency_pair":"BTC_USDT","create_time_ms":"1700000000123.456","side":"buy","amount":"0.01","price":"49900","fee":"0.0000059","fee_currency":"BTC","text":"t-abc123"}`
	var w wireMyTrade
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		t.Fatalf("解析样本失败: %v", err)
	}
	exec, err := convertMyTrade(w)
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	if exec.ID != "987" {
		t.Errorf("成交 ID 错误: %s", exec.ID)
	}
	if exec.OrderID != "abc123" {
		t.Errorf("应回填客户端订单 ID: %s", exec.OrderID)
	}
	if !exec.Price.Equal(decimal.RequireFromString("49900")) || !exec.Quantity.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("价格/数量错误: %s %s", exec.Price, exec.Quantity)
	}
	if exec.Timestamp.UnixMilli() != 1700000000123 {
		t.Errorf("毫秒时间戳（含小数）解析错误: %d", exec.Timestamp.UnixMilli())
	}
}

func TestConvertSymbol(t *testing.T) {
	s, err := convertSymbol(wireCurrencyPair{ID: "BTC_USDT", Base: "BTC", Quote: "USDT", Precision: 2, AmountPrecision: 6, MinBaseAmount: "0.0001", MinQuoteAmount: "1"})
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	if s.Name != "BTC_USDT" || s.Base != "BTC" || s.Quote != "USDT" {
		t.Errorf("交易对元信息错误: %+v", s)
	}
	if !s.MinQuantity.Equal(decimal.RequireFromString("0.0001")) {
		t.Errorf("最小下单量错误: %s", s.MinQuantity)
	}
}
