package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 【说明】交易状态流转本身靠数据库唯一约束和条件更新保证正确性，
// 不依赖任何进程内互斥。这里的锁只用于两个"重活"场景：
//   1. 对账跑批 —— 多实例部署时同一商户同一窗口只跑一份
//   2. 人工确认开票 —— 防止运营同学连点两次并发触发开票
// 即使锁失效（Redis 故障、锁过期），底层操作也都是幂等的，
// 最坏结果是白跑一遍，不会开出两张发票。
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本校验 value 后删除，防止误删他人持有的锁
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 持有者标识，释放时校验
	expiration time.Duration
}

// NewDistributedLock 创建分布式锁，value 用 uuid 标识持有者
func NewDistributedLock(client *redis.Client, key string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      uuid.NewString(),
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
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
// Lua 脚本保证"校验+删除"的原子性
func (l *DistributedLock) Unlock(ctx context.Context) error {
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

// NewReconcileLock 对账锁（商户+窗口起点维度）
// 同一商户同一窗口的两次调度只有一个实例真正执行
func NewReconcileLock(client *redis.Client, tenantID int64, windowStart time.Time) *DistributedLock {
	key := fmt.Sprintf("reconcile:lock:tenant:%d:%s", tenantID, windowStart.Format("20060102150405"))
	return NewDistributedLock(client, key, 10*time.Minute)
}

// NewConfirmLock 人工确认开票锁（交易维度）
func NewConfirmLock(client *redis.Client, externalID string) *DistributedLock {
	key := fmt.Sprintf("billing:confirm:lock:%s", externalID)
	return NewDistributedLock(client, key, 30*time.Second)
}
