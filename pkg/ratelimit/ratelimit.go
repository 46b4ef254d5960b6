package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ErrQueueFull 等待队列已满，调用方应以 RateLimitError 形式向上传播
var ErrQueueFull = fmt.Errorf("rate limiter wait queue full")

// RateLimiter 速率限制器接口
type RateLimiter interface {
	// Wait 挂起直到获得令牌；队列深度超限时立即返回 ErrQueueFull
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
}

// TokenBucket 令牌桶速率限制器
// 超出容量的调用方会挂起（而非失败），但挂起队列有界：
// 超过 maxQueueDepth 时直接返回 ErrQueueFull。
type TokenBucket struct {
	capacity      int           // 桶容量
	tokens        int           // 当前令牌数
	refillRate    int           // 每秒补充的令牌数
	lastRefill    time.Time     // 上次补充时间
	maxQueueDepth int           // 最大等待者数量
	waiting       int           // 当前等待者数量
	mu            sync.Mutex
}

// NewTokenBucket 创建新的令牌桶
func NewTokenBucket(capacity, refillRate, maxQueueDepth int) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	if maxQueueDepth <= 0 {
		maxQueueDepth = 32
	}
	return &TokenBucket{
		capacity:      capacity,
		tokens:        capacity,
		refillRate:    refillRate,
		maxQueueDepth: maxQueueDepth,
		lastRefill:    time.Now(),
	}
}

// refill 补充令牌（调用方需持有锁）
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int(elapsed.Seconds()) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}
}

// Allow 检查是否允许请求（非阻塞）
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 挂起直到获得令牌
func (tb *TokenBucket) Wait(ctx context.Context) error {
	tb.mu.Lock()
	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		tb.mu.Unlock()
		return nil
	}
	if tb.waiting >= tb.maxQueueDepth {
		tb.mu.Unlock()
		return ErrQueueFull
	}
	tb.waiting++
	tb.mu.Unlock()

	defer func() {
		tb.mu.Lock()
		tb.waiting--
		tb.mu.Unlock()
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if tb.Allow() {
				return nil
			}
		}
	}
}

// GetRemaining 当前剩余令牌数
func (tb *TokenBucket) GetRemaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}
