package gateio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsTestServer 记录收到的订阅帧，并可向客户端推送帧
type wsTestServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	subs  []wsSubscribeFrame
}

func newWsTestServer(t *testing.T) *wsTestServer {
	s := &wsTestServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("升级失败: %v", err)
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			var frame wsSubscribeFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Event == "subscribe" {
				s.mu.Lock()
				s.subs = append(s.subs, frame)
				s.mu.Unlock()
				ack := wsFrame{Time: frame.Time, Channel: frame.Channel, Event: "subscribe"}
				conn.WriteJSON(ack)
			}
		}
	}))
	return s
}

func (s *wsTestServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsTestServer) push(frame wsFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) > 0 {
		s.conns[len(s.conns)-1].WriteJSON(frame)
	}
}

func (s *wsTestServer) dropConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

func (s *wsTestServer) subscribeCount(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.subs {
		if f.Channel == channel {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("等待条件超时")
}

func testStreamConfig() StreamConfig {
	cfg := DefaultStreamConfig()
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.MaxReconnectDelay = 100 * time.Millisecond
	cfg.PingInterval = time.Hour // 测试里不触发心跳
	return cfg
}

func TestStreamSubscribeAndDispatch(t *testing.T) {
	srv := newWsTestServer(t)
	defer srv.Close()

	client := NewStreamClient(srv.wsURL(), NewSigner("", ""), testStreamConfig())

	var mu sync.Mutex
	var got []string
	client.Handle(channelTicker, func(event string, result json.RawMessage) {
		mu.Lock()
		got = append(got, string(result))
		mu.Unlock()
	})

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer client.Stop()

	if err := client.Subscribe(channelTicker, []string{"BTC_USDT"}); err != nil {
		t.Fatalf("订阅失败: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return srv.subscribeCount(channelTicker) >= 1 })

	srv.push(wsFrame{Time: time.Now().Unix(), Channel: channelTicker, Event: "update",
		Result: json.RawMessage(`{"currency_pair":"BTC_USDT","last":"50000"}`)})
	srv.push(wsFrame{Time: time.Now().Unix(), Channel: channelTicker, Event: "update",
		Result: json.RawMessage(`{"currency_pair":"BTC_USDT","last":"50001"}`)})

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	// 同一频道消息必须按到达顺序送达
	if !strings.Contains(got[0], "50000") || !strings.Contains(got[1], "50001") {
		t.Errorf("消息顺序错误: %v", got)
	}
}

func TestStreamDropsUnregisteredChannel(t *testing.T) {
	srv := newWsTestServer(t)
	defer srv.Close()

	client := NewStreamClient(srv.wsURL(), NewSigner("", ""), testStreamConfig())
	handled := make(chan struct{}, 1)
	client.Handle(channelTicker, func(event string, result json.RawMessage) {
		handled <- struct{}{}
	})

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer client.Stop()

	// 未注册频道：丢弃，不中断连接
	srv.push(wsFrame{Time: time.Now().Unix(), Channel: "spot.candlesticks", Event: "update",
		Result: json.RawMessage(`{}`)})
	srv.push(wsFrame{Time: time.Now().Unix(), Channel: channelTicker, Event: "update",
		Result: json.RawMessage(`{"last":"1"}`)})

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("后续已注册频道的消息未送达，连接可能被未注册频道中断")
	}
}

func TestStreamReconnectResubscribes(t *testing.T) {
	srv := newWsTestServer(t)
	defer srv.Close()

	client := NewStreamClient(srv.wsURL(), NewSigner("test-key", "test-secret"), testStreamConfig())
	client.Handle(channelOrders, func(event string, result json.RawMessage) {})

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer client.Stop()

	if err := client.Subscribe(channelOrders, []string{"BTC_USDT"}); err != nil {
		t.Fatalf("订阅失败: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return srv.subscribeCount(channelOrders) == 1 })

	// 踢掉连接，客户端应重连并重放订阅
	srv.dropConns()
	waitFor(t, 5*time.Second, func() bool { return srv.subscribeCount(channelOrders) >= 2 })

	// 私有频道重订阅必须带新鲜签名
	srv.mu.Lock()
	defer srv.mu.Unlock()
	last := srv.subs[len(srv.subs)-1]
	if last.Auth == nil || last.Auth.Key != "test-key" || last.Auth.Sign == "" {
		t.Errorf("重订阅帧缺少认证块: %+v", last.Auth)
	}
}

func TestStreamPrivateChannelRequiresCredentials(t *testing.T) {
	srv := newWsTestServer(t)
	defer srv.Close()

	client := NewStreamClient(srv.wsURL(), NewSigner("", ""), testStreamConfig())
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer client.Stop()

	if err := client.Subscribe(channelOrders, []string{"BTC_USDT"}); err == nil {
		t.Fatal("无凭证订阅私有频道应当失败")
	}
}
