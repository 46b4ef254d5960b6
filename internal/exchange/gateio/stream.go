package gateio

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ConnState 流连接状态机：Disconnected → Connecting → Subscribing → Streaming
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateSubscribing
	StateStreaming
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// FrameHandler 按频道注册的回调。单一读循环内顺序调用，
// 同一频道的消息保证按到达顺序送达。
type FrameHandler func(event string, result json.RawMessage)

// StreamConfig 流客户端配置
type StreamConfig struct {
	ReconnectDelay    time.Duration // 首次重连延迟
	MaxReconnectDelay time.Duration // 退避上限
	PingInterval      time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
}

// DefaultStreamConfig 返回默认流配置
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      15 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

const defaultWsURL = "wss://api.gateio.ws/ws/v4/"

// 私有频道重连后必须带新签名重新订阅（时间戳参与签名，旧帧不能重放）
var privateChannels = map[string]bool{
	channelOrders:   true,
	channelTrades:   true,
	channelBalances: true,
}

const (
	channelTicker    = "spot.tickers"
	channelPubTrades = "spot.trades"
	channelOrders    = "spot.orders"
	channelTrades    = "spot.usertrades"
	channelBalances  = "spot.balances"
)

// StreamClient 管理单条 WebSocket 连接：订阅、心跳、断线重连与重订阅。
// 所有回调在读循环 goroutine 内执行，耗时处理应由回调方自行转移。
type StreamClient struct {
	url    string
	signer *Signer
	cfg    StreamConfig
	log    *logrus.Entry

	conn   *websocket.Conn
	connMu sync.Mutex

	// channel -> 订阅 payload（重连后按此表重订阅）
	subs  map[string][]string
	subMu sync.RWMutex

	handlers  map[string]FrameHandler
	handlerMu sync.RWMutex

	state   ConnState
	stateMu sync.RWMutex

	// onStreaming 在每次（重）连接完成重订阅后调用，协调器挂对账钩子
	onStreaming func()

	running   bool
	runningMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}

	reconnectAttempts int
	reconnectMu       sync.Mutex
}

// NewStreamClient 创建流客户端。signer 可为空凭证（仅公共频道）。
func NewStreamClient(wsURL string, signer *Signer, cfg StreamConfig) *StreamClient {
	if wsURL == "" {
		wsURL = defaultWsURL
	}
	return &StreamClient{
		url:      wsURL,
		signer:   signer,
		cfg:      cfg,
		log:      logrus.WithField("component", "gateio.stream"),
		subs:     make(map[string][]string),
		handlers: make(map[string]FrameHandler),
		doneCh:   make(chan struct{}),
	}
}

// State 返回当前连接状态
func (c *StreamClient) State() ConnState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *StreamClient) setState(s ConnState) {
	c.stateMu.Lock()
	old := c.state
	c.state = s
	c.stateMu.Unlock()
	if old != s {
		c.log.Debugf("连接状态 %s -> %s", old, s)
	}
}

// Handle 注册频道回调。未注册频道的消息丢弃并告警，不会中断连接。
func (c *StreamClient) Handle(channel string, h FrameHandler) {
	c.handlerMu.Lock()
	c.handlers[channel] = h
	c.handlerMu.Unlock()
}

// OnStreaming 注册进入 Streaming 状态后的钩子（重连对账入口）
func (c *StreamClient) OnStreaming(fn func()) {
	c.onStreaming = fn
}

// Start 建立连接并启动读/心跳循环
func (c *StreamClient) Start(ctx context.Context) error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return errors.New("流客户端已在运行")
	}
	c.running = true
	c.runningMu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		c.runningMu.Lock()
		c.running = false
		c.runningMu.Unlock()
		return errors.Wrap(err, "初始连接失败")
	}

	go c.readLoop()
	go c.pingLoop()

	c.log.Infof("已连接 %s", c.url)
	return nil
}

// Stop 优雅关闭连接并等待循环退出
func (c *StreamClient) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	c.cancel()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		c.log.Warn("关闭超时")
	}
	c.setState(StateDisconnected)
	c.log.Info("已停止")
}

func (c *StreamClient) isRunning() bool {
	c.runningMu.RLock()
	defer c.runningMu.RUnlock()
	return c.running
}

// Subscribe 订阅频道并记录 payload，重连后自动重放订阅
func (c *StreamClient) Subscribe(channel string, payload []string) error {
	c.subMu.Lock()
	c.subs[channel] = payload
	c.subMu.Unlock()

	return c.sendSubscribe(channel, payload)
}

// sendSubscribe 发送订阅帧。私有频道每次现算签名。
func (c *StreamClient) sendSubscribe(channel string, payload []string) error {
	now := time.Now().Unix()
	frame := wsSubscribeFrame{
		Time:    now,
		Channel: channel,
		Event:   "subscribe",
		Payload: payload,
	}
	if privateChannels[channel] {
		if c.signer == nil || !c.signer.HasCredentials() {
			return errors.Errorf("订阅私有频道 %s 需要凭证", channel)
		}
		frame.Auth = &wsAuth{
			Method: "api_key",
			Key:    c.signer.Key(),
			Sign:   c.signer.WsSign(channel, "subscribe", now),
		}
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("未连接")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(frame)
}

// connect 建立连接并重置退避计数
func (c *StreamClient) connect() error {
	c.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.connMu.Unlock()

	c.reconnectMu.Lock()
	c.reconnectAttempts = 0
	c.reconnectMu.Unlock()
	return nil
}

// resubscribe 按订阅表重放全部订阅（私有频道带新签名）
func (c *StreamClient) resubscribe() error {
	c.subMu.RLock()
	channels := make(map[string][]string, len(c.subs))
	for ch, payload := range c.subs {
		channels[ch] = payload
	}
	c.subMu.RUnlock()

	c.setState(StateSubscribing)
	for ch, payload := range channels {
		if err := c.sendSubscribe(ch, payload); err != nil {
			return errors.Wrapf(err, "重订阅 %s 失败", ch)
		}
	}
	c.setState(StateStreaming)
	if c.onStreaming != nil {
		c.onStreaming()
	}
	return nil
}

// readLoop 单一读循环：所有频道的分发在此 goroutine 内顺序执行
func (c *StreamClient) readLoop() {
	defer close(c.doneCh)

	// 初始连接也走重订阅路径，统一进入 Streaming
	if err := c.resubscribe(); err != nil {
		c.log.Warnf("初始订阅失败: %v", err)
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		if !c.isRunning() {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()
			c.setState(StateDisconnected)

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || !c.isRunning() {
				return
			}
			c.log.Warnf("读取错误: %v, 重连中", err)
			if !c.reconnect() {
				return
			}
			continue
		}

		c.dispatch(message)
	}
}

// pingLoop 应用层心跳
func (c *StreamClient) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.isRunning() {
				return
			}
			c.connMu.Lock()
			conn := c.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				frame := wsSubscribeFrame{Time: time.Now().Unix(), Channel: "spot.ping"}
				if err := conn.WriteJSON(frame); err != nil {
					c.log.Warnf("心跳发送失败: %v", err)
				}
			}
			c.connMu.Unlock()
		}
	}
}

// reconnect 带抖动的指数退避重连。返回 false 表示客户端已停止。
func (c *StreamClient) reconnect() bool {
	c.reconnectMu.Lock()
	c.reconnectAttempts++
	attempts := c.reconnectAttempts
	c.reconnectMu.Unlock()

	delay := c.cfg.ReconnectDelay * time.Duration(1<<uint(min(attempts-1, 16)))
	if delay > c.cfg.MaxReconnectDelay || delay <= 0 {
		delay = c.cfg.MaxReconnectDelay
	}
	// 抖动 ±25%，避免多实例同时重连形成雪崩
	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	delay += jitter

	c.log.Infof("%v 后重连（第 %d 次）", delay, attempts)
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(delay):
	}

	if err := c.connect(); err != nil {
		c.log.Warnf("重连失败: %v", err)
		return c.isRunning()
	}
	if err := c.resubscribe(); err != nil {
		c.log.Warnf("重订阅失败: %v", err)
	}
	return true
}

// dispatch 解析帧并派发给频道回调
func (c *StreamClient) dispatch(message []byte) {
	var frame wsFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.log.Warnf("帧解析失败: %v", err)
		return
	}
	if frame.Error != nil {
		c.log.Errorf("频道 %s 错误: code=%d message=%s", frame.Channel, frame.Error.Code, frame.Error.Message)
		return
	}
	switch frame.Event {
	case "subscribe", "unsubscribe":
		c.log.Debugf("频道 %s %s 确认", frame.Channel, frame.Event)
		return
	case "update", "all":
	default:
		if frame.Channel == "spot.pong" || frame.Channel == "spot.ping" {
			return
		}
	}

	c.handlerMu.RLock()
	h, ok := c.handlers[frame.Channel]
	c.handlerMu.RUnlock()
	if !ok {
		// 未注册频道不致命：丢弃并告警
		c.log.Warnf("收到未注册频道 %s 的消息，已丢弃", frame.Channel)
		return
	}
	h(frame.Event, frame.Result)
}
