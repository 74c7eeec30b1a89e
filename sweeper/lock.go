package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ISweepLock 清扫互斥锁。
// 多实例部署时保证同一时刻只有一个实例执行清扫。
type ISweepLock interface {
	// TryAcquire 非阻塞尝试加锁；已被其他实例持有时返回 false
	TryAcquire(ctx context.Context) (bool, error)

	// Release 释放锁（只释放自己持有的锁）
	Release(ctx context.Context) error
}

// RedisSweepLock 基于 Redis SET NX + TTL 的清扫锁。
// 锁值为实例私有令牌，释放时校验令牌，避免误删他人持有的锁。
type RedisSweepLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewRedisSweepLock 创建 Redis 清扫锁。
// key 为空时取 "chehui:sweeper:lock"，ttl <= 0 时取 1 分钟。
func NewRedisSweepLock(client *redis.Client, key string, ttl time.Duration) *RedisSweepLock {
	if key == "" {
		key = "chehui:sweeper:lock"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisSweepLock{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

// TryAcquire 实现 ISweepLock 接口
func (l *RedisSweepLock) TryAcquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// releaseScript 校验令牌后删除锁（原子执行）
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release 实现 ISweepLock 接口
func (l *RedisSweepLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
