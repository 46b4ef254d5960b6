// Package execution 驱动订单生命周期：校验、冻结、提交、跟踪、结算。
package execution

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// ErrDuplicateInFlight 同一幂等键的提交仍在进行中（或在 TTL 窗口内）
var ErrDuplicateInFlight = fmt.Errorf("duplicate in-flight submission")

// InFlightDeduper 提交窗口内的确定性去重。
// 下单误判的代价高，所以用分片 map 做精确匹配而不是概率结构；
// 过期项在访问时惰性清理。
type InFlightDeduper struct {
	ttl    time.Duration
	shards []inFlightShard
}

type inFlightShard struct {
	mu sync.Mutex
	m  map[string]time.Time // key -> expiresAt
}

// NewInFlightDeduper 创建去重器。ttl 应覆盖一次提交从校验到
// 收到交易所响应的典型时长。
func NewInFlightDeduper(ttl time.Duration, shardCount int) *InFlightDeduper {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if shardCount <= 0 {
		shardCount = 32
	}
	shards := make([]inFlightShard, shardCount)
	for i := range shards {
		shards[i].m = make(map[string]time.Time)
	}
	return &InFlightDeduper{ttl: ttl, shards: shards}
}

// TryAcquire 占用幂等键；窗口内重复返回 ErrDuplicateInFlight
func (d *InFlightDeduper) TryAcquire(key string) error {
	if d == nil || key == "" {
		return nil
	}
	now := time.Now()
	sh := d.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for k, exp := range sh.m {
		if !exp.After(now) {
			delete(sh.m, k)
		}
	}
	if exp, ok := sh.m[key]; ok && exp.After(now) {
		return ErrDuplicateInFlight
	}
	sh.m[key] = now.Add(d.ttl)
	return nil
}

// Release 提前释放幂等键（提交已有确定结果时）
func (d *InFlightDeduper) Release(key string) {
	if d == nil || key == "" {
		return
	}
	sh := d.shard(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

func (d *InFlightDeduper) shard(key string) *inFlightShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &d.shards[int(h.Sum32())%len(d.shards)]
}
