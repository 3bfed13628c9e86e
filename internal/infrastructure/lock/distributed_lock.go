package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

// DistributedLock Redis 分布式锁
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本先验证 value 再删除，保证原子性。
//
// 进程内的串行化由 actor 邮箱保证，这把锁解决的是多实例部署时
// 两个进程同时扫同一个结算窗口的问题。
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	// Lua 脚本：检查 value 是否匹配，匹配则删除
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewDispatchLock 创建结算派发锁（按 链+积分名+业务日期 维度）
// 同一个结算窗口同一时刻只允许一个派发周期在跑，不同窗口互不影响。
func NewDispatchLock(client *redis.Client, chainID, pointName, bizDate, holder string) *DistributedLock {
	key := fmt.Sprintf("point:dispatch:lock:%s:%s:%s", chainID, pointName, bizDate)
	return NewDistributedLock(client, key, holder, 60*time.Second)
}

// NewFaucetLock 创建水龙头领取锁（按地址维度）
func NewFaucetLock(client *redis.Client, address, holder string) *DistributedLock {
	key := fmt.Sprintf("faucet:lock:addr:%s", address)
	return NewDistributedLock(client, key, holder, 30*time.Second)
}
