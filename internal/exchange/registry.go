package exchange

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Constructor 适配器构造函数，由各交易所包注册进 Registry
type Constructor func(cfg AdapterConfig) (Adapter, error)

// AdapterConfig 适配器通用配置。零值字段由各适配器取自身默认值。
type AdapterConfig struct {
	Key     string
	Secret  string
	BaseURL string // 覆盖默认 REST 地址（测试用）
	WsURL   string // 覆盖默认 WebSocket 地址（测试用）

	// REST 限流
	RateLimitCapacity     int
	RateLimitRefillPerSec int
	RateLimitMaxQueue     int

	// 流重连与心跳
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
}

// Registry 显式的交易所注册表
// 进程启动时构造并按引用传递（依赖注入），取代 import 期的全局单例。
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register 注册交易所构造函数，重名视为编程错误
func (r *Registry) Register(name string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.constructors[name]; ok {
		return fmt.Errorf("exchange %q already registered", name)
	}
	r.constructors[name] = ctor
	return nil
}

// New 按名称构造适配器实例
func (r *Registry) New(name string, cfg AdapterConfig) (Adapter, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown exchange %q (registered: %v)", name, r.Names())
	}
	return ctor(cfg)
}

// Names 返回已注册交易所名（排序后）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
