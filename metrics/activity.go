package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IActivityCounter 活动计数端口（由协作方实现）。
//
// 返回 [start, end) 内归属某操作者的动作总数。
// 这个数如何产生不在引擎职责内——引擎只要求一个真实的计数来源，
// 不做任何启发式估算。
type IActivityCounter interface {
	CountActions(ctx context.Context, operatorID string, start, end time.Time) (int64, error)
}

// RedisActivityCounter 基于 Redis 日计数键的活动计数实现。
//
// 协作方系统在每次操作者动作后对当日键执行 INCR，
// 聚合时按天累加区间内的键值。键格式：
//
//	<prefix>:<operatorID>:<yyyy-mm-dd>
type RedisActivityCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisActivityCounter 创建 Redis 活动计数器，prefix 为空时取 "chehui:activity"
func NewRedisActivityCounter(client *redis.Client, prefix string) *RedisActivityCounter {
	if prefix == "" {
		prefix = "chehui:activity"
	}
	return &RedisActivityCounter{client: client, prefix: prefix}
}

// Key 返回某操作者某天的计数键（协作方写入时使用）
func (c *RedisActivityCounter) Key(operatorID string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, operatorID, day.Format("2006-01-02"))
}

// Incr 当日计数加一（供协作方在动作发生时调用）
func (c *RedisActivityCounter) Incr(ctx context.Context, operatorID string, at time.Time) error {
	return c.client.Incr(ctx, c.Key(operatorID, at)).Err()
}

// CountActions 实现 IActivityCounter 接口
func (c *RedisActivityCounter) CountActions(ctx context.Context, operatorID string, start, end time.Time) (int64, error) {
	keys := make([]string, 0, 8)
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		keys = append(keys, c.Key(operatorID, day))
	}
	if len(keys) == 0 {
		return 0, nil
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("mget activity counters: %w", err)
	}

	var total int64
	for _, v := range values {
		if v == nil {
			continue
		}
		var n int64
		if _, err := fmt.Sscan(fmt.Sprint(v), &n); err != nil {
			continue
		}
		total += n
	}
	return total, nil
}

// MemoryActivityCounter 内存活动计数实现（用于测试）
type MemoryActivityCounter struct {
	counts map[string]int64 // operatorID|yyyy-mm-dd → count
	mutex  sync.RWMutex
}

// NewMemoryActivityCounter 创建内存活动计数器
func NewMemoryActivityCounter() *MemoryActivityCounter {
	return &MemoryActivityCounter{counts: make(map[string]int64)}
}

// Record 记录一次动作
func (c *MemoryActivityCounter) Record(operatorID string, at time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.counts[operatorID+"|"+at.Format("2006-01-02")]++
}

// Set 直接设置某操作者某天的计数（测试用）
func (c *MemoryActivityCounter) Set(operatorID string, day time.Time, n int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.counts[operatorID+"|"+day.Format("2006-01-02")] = n
}

// CountActions 实现 IActivityCounter 接口
func (c *MemoryActivityCounter) CountActions(ctx context.Context, operatorID string, start, end time.Time) (int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var total int64
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		total += c.counts[operatorID+"|"+day.Format("2006-01-02")]
	}
	return total, nil
}
