package gateio

import "encoding/json"

// 交易所私有报文结构。字段名与交易所 JSON 一一对应，
// 只在 convert.go 中翻译为规范领域类型。

type wireCurrencyPair struct {
	ID              string `json:"id"`
	Base            string `json:"base"`
	Quote           string `json:"quote"`
	Precision       int32  `json:"precision"`        // 价格精度
	AmountPrecision int32  `json:"amount_precision"` // 数量精度
	MinBaseAmount   string `json:"min_base_amount"`
	MinQuoteAmount  string `json:"min_quote_amount"`
}

type wireTicker struct {
	CurrencyPair string `json:"currency_pair"`
	Last         string `json:"last"`
	LowestAsk    string `json:"lowest_ask"`
	HighestBid   string `json:"highest_bid"`
	High24h      string `json:"high_24h"`
	Low24h       string `json:"low_24h"`
	BaseVolume   string `json:"base_volume"`
}

type wireOrderBook struct {
	Current int64       `json:"current"` // 毫秒时间戳
	Asks    [][2]string `json:"asks"`
	Bids    [][2]string `json:"bids"`
}

type wireTrade struct {
	ID           string `json:"id"`
	CreateTimeMs string `json:"create_time_ms"`
	CurrencyPair string `json:"currency_pair"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
}

// wireCandle K 线是数组形式 [time, volume, close, high, low, open, ...]
type wireCandle []string

type wireAccount struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

type wireOrder struct {
	ID           string `json:"id"`
	Text         string `json:"text"` // 客户端订单 ID（t- 前缀）
	CurrencyPair string `json:"currency_pair"`
	Side         string `json:"side"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
	Left         string `json:"left"` // 剩余未成交数量
	AvgDealPrice string `json:"avg_deal_price"`
	Fee          string `json:"fee"`
	FeeCurrency  string `json:"fee_currency"`
	Status       string `json:"status"`    // open | closed | cancelled
	FinishAs     string `json:"finish_as"` // filled | cancelled | expired | ioc
	CreateTimeMs string `json:"create_time_ms"`
	UpdateTimeMs string `json:"update_time_ms"`
}

type wireMyTrade struct {
	ID           string `json:"id"`
	OrderID      string `json:"order_id"`
	CurrencyPair string `json:"currency_pair"`
	CreateTimeMs string `json:"create_time_ms"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
	Fee          string `json:"fee"`
	FeeCurrency  string `json:"fee_currency"`
	Text         string `json:"text"`
}

// wsFrame WebSocket 帧：{time, channel, event, payload/result, auth?, error?}
type wsFrame struct {
	Time    int64           `json:"time"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wsSubscribeFrame 订阅请求帧
type wsSubscribeFrame struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Payload []string `json:"payload,omitempty"`
	Auth    *wsAuth  `json:"auth,omitempty"`
}

// wsAuth 私有频道认证块
type wsAuth struct {
	Method string `json:"method"` // 固定为 api_key
	Key    string `json:"KEY"`
	Sign   string `json:"SIGN"`
}

// WS 私有频道下发的订单/成交结构。字段类型与 REST 略有差异
// （数字字段可能为 number 而非 string），单独建模。

type wsOrder struct {
	ID           json.Number `json:"id"`
	Text         string      `json:"text"`
	CurrencyPair string      `json:"currency_pair"`
	Event        string      `json:"event"` // put | update | finish
	Side         string      `json:"side"`
	Type         string      `json:"type"`
	Amount       string      `json:"amount"`
	Price        string      `json:"price"`
	Left         string      `json:"left"`
	FinishAs     string      `json:"finish_as"`
	UpdateTimeMs json.Number `json:"update_time_ms"`
}

type wsUserTrade struct {
	ID           json.Number `json:"id"`
	OrderID      json.Number `json:"order_id"`
	CurrencyPair string      `json:"currency_pair"`
	CreateTimeMs json.Number `json:"create_time_ms"`
	Side         string      `json:"side"`
	Amount       string      `json:"amount"`
	Price        string      `json:"price"`
	Fee          string      `json:"fee"`
	FeeCurrency  string      `json:"fee_currency"`
	Text         string      `json:"text"`
}
