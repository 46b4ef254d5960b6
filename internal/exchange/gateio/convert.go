package gateio

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/tradecore/gotrade/internal/domain"
)

// 纯翻译函数：每种报文一个无副作用的转换，可独立用固定样本做单元测试。
// 翻译层不重试、不碰账本。

// clientOrderIDPrefix 交易所要求自定义订单 ID 以 t- 开头
const clientOrderIDPrefix = "t-"

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %s %q", field, s)
	}
	return d, nil
}

// parseTimeMs 解析毫秒时间戳（交易所以字符串形式下发，可能带小数）
func parseTimeMs(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func convertSymbol(w wireCurrencyPair) (domain.Symbol, error) {
	minQty, err := parseDecimal("min_base_amount", w.MinBaseAmount)
	if err != nil {
		return domain.Symbol{}, err
	}
	minQuote, err := parseDecimal("min_quote_amount", w.MinQuoteAmount)
	if err != nil {
		return domain.Symbol{}, err
	}
	return domain.Symbol{
		Name:           w.ID,
		Base:           w.Base,
		Quote:          w.Quote,
		PricePrecision: w.Precision,
		SizePrecision:  w.AmountPrecision,
		MinQuantity:    minQty,
		MinQuoteAmount: minQuote,
	}, nil
}

func convertTicker(w wireTicker) (domain.Ticker, error) {
	t := domain.Ticker{Symbol: w.CurrencyPair, Timestamp: time.Now()}
	var err error
	if t.Last, err = parseDecimal("last", w.Last); err != nil {
		return t, err
	}
	if t.Bid, err = parseDecimal("highest_bid", w.HighestBid); err != nil {
		return t, err
	}
	if t.Ask, err = parseDecimal("lowest_ask", w.LowestAsk); err != nil {
		return t, err
	}
	if t.High24h, err = parseDecimal("high_24h", w.High24h); err != nil {
		return t, err
	}
	if t.Low24h, err = parseDecimal("low_24h", w.Low24h); err != nil {
		return t, err
	}
	if t.Volume24h, err = parseDecimal("base_volume", w.BaseVolume); err != nil {
		return t, err
	}
	return t, nil
}

func convertLevels(raw [][2]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := parseDecimal("price", pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := parseDecimal("amount", pair[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

func convertOrderBook(symbol string, w wireOrderBook) (domain.OrderBook, error) {
	bids, err := convertLevels(w.Bids)
	if err != nil {
		return domain.OrderBook{}, err
	}
	asks, err := convertLevels(w.Asks)
	if err != nil {
		return domain.OrderBook{}, err
	}
	return domain.OrderBook{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.UnixMilli(w.Current),
	}, nil
}

func convertTrade(w wireTrade) (domain.Trade, error) {
	price, err := parseDecimal("price", w.Price)
	if err != nil {
		return domain.Trade{}, err
	}
	qty, err := parseDecimal("amount", w.Amount)
	if err != nil {
		return domain.Trade{}, err
	}
	return domain.Trade{
		ID:        w.ID,
		Symbol:    w.CurrencyPair,
		Side:      domain.Side(w.Side),
		Price:     price,
		Quantity:  qty,
		Timestamp: parseTimeMs(w.CreateTimeMs),
	}, nil
}

// convertCandle K 线数组下标：0=秒级时间戳 1=成交额 2=收 3=高 4=低 5=开
func convertCandle(symbol, interval string, w wireCandle) (domain.Candle, error) {
	if len(w) < 6 {
		return domain.Candle{}, errors.Errorf("candle array too short: %d", len(w))
	}
	sec, err := strconv.ParseInt(w[0], 10, 64)
	if err != nil {
		return domain.Candle{}, errors.Wrapf(err, "parse candle time %q", w[0])
	}
	c := domain.Candle{Symbol: symbol, Interval: interval, Timestamp: time.Unix(sec, 0)}
	if c.Volume, err = parseDecimal("volume", w[1]); err != nil {
		return c, err
	}
	if c.Close, err = parseDecimal("close", w[2]); err != nil {
		return c, err
	}
	if c.High, err = parseDecimal("high", w[3]); err != nil {
		return c, err
	}
	if c.Low, err = parseDecimal("low", w[4]); err != nil {
		return c, err
	}
	if c.Open, err = parseDecimal("open", w[5]); err != nil {
		return c, err
	}
	return c, nil
}

func convertBalance(w wireAccount) (domain.Balance, error) {
	available, err := parseDecimal("available", w.Available)
	if err != nil {
		return domain.Balance{}, err
	}
	locked, err := parseDecimal("locked", w.Locked)
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.Balance{
		Asset:     w.Currency,
		Available: available,
		Frozen:    locked,
	}, nil
}

// convertOrderStatus 订单状态映射。
// closed 终态按 finish_as 细分：cancelled/expired 优先于 filled。
func convertOrderStatus(w wireOrder, filled decimal.Decimal) domain.OrderStatus {
	switch w.Status {
	case "open":
		if filled.IsPositive() {
			return domain.OrderStatusPartiallyFilled
		}
		return domain.OrderStatusSubmitted
	case "cancelled":
		return domain.OrderStatusCancelled
	case "closed":
		switch w.FinishAs {
		case "cancelled", "ioc":
			return domain.OrderStatusCancelled
		case "expired":
			return domain.OrderStatusExpired
		default:
			return domain.OrderStatusFilled
		}
	}
	return domain.OrderStatusSubmitted
}

func convertOrder(w wireOrder) (*domain.Order, error) {
	qty, err := parseDecimal("amount", w.Amount)
	if err != nil {
		return nil, err
	}
	left, err := parseDecimal("left", w.Left)
	if err != nil {
		return nil, err
	}
	avg, err := parseDecimal("avg_deal_price", w.AvgDealPrice)
	if err != nil {
		return nil, err
	}
	fee, err := parseDecimal("fee", w.Fee)
	if err != nil {
		return nil, err
	}

	filled := qty.Sub(left)
	order := &domain.Order{
		ExchangeOrderID:   w.ID,
		ID:                strings.TrimPrefix(w.Text, clientOrderIDPrefix),
		Symbol:            w.CurrencyPair,
		Side:              domain.Side(w.Side),
		Type:              domain.OrderType(w.Type),
		Quantity:          qty,
		FilledQuantity:    filled,
		RemainingQuantity: left,
		AverageFillPrice:  avg,
		FeeAccrued:        fee,
		FeeAsset:          w.FeeCurrency,
		CreatedAt:         parseTimeMs(w.CreateTimeMs),
		UpdatedAt:         parseTimeMs(w.UpdateTimeMs),
	}
	if w.Price != "" {
		price, err := parseDecimal("price", w.Price)
		if err != nil {
			return nil, err
		}
		order.Price = &price
	}
	order.Status = convertOrderStatus(w, filled)
	return order, nil
}

// convertMyTrade 本账户成交 → Execution（重连回放的幂等单元）
func convertMyTrade(w wireMyTrade) (domain.Execution, error) {
	price, err := parseDecimal("price", w.Price)
	if err != nil {
		return domain.Execution{}, err
	}
	qty, err := parseDecimal("amount", w.Amount)
	if err != nil {
		return domain.Execution{}, err
	}
	fee, err := parseDecimal("fee", w.Fee)
	if err != nil {
		return domain.Execution{}, err
	}
	return domain.Execution{
		ID:        w.ID,
		OrderID:   strings.TrimPrefix(w.Text, clientOrderIDPrefix),
		Symbol:    w.CurrencyPair,
		Side:      domain.Side(w.Side),
		Price:     price,
		Quantity:  qty,
		Fee:       fee,
		FeeAsset:  w.FeeCurrency,
		Timestamp: parseTimeMs(w.CreateTimeMs),
	}, nil
}

// convertWsUserTrade WS 成交回报 → Execution
func convertWsUserTrade(w wsUserTrade) (domain.Execution, error) {
	price, err := parseDecimal("price", w.Price)
	if err != nil {
		return domain.Execution{}, err
	}
	qty, err := parseDecimal("amount", w.Amount)
	if err != nil {
		return domain.Execution{}, err
	}
	fee, err := parseDecimal("fee", w.Fee)
	if err != nil {
		return domain.Execution{}, err
	}
	return domain.Execution{
		ID:        w.ID.String(),
		OrderID:   strings.TrimPrefix(w.Text, clientOrderIDPrefix),
		Symbol:    w.CurrencyPair,
		Side:      domain.Side(w.Side),
		Price:     price,
		Quantity:  qty,
		Fee:       fee,
		FeeAsset:  w.FeeCurrency,
		Timestamp: parseTimeMs(w.CreateTimeMs.String()),
	}, nil
}
