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
// 分布式锁实现
// ============================================================================
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（持有者崩溃时锁自动释放）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本原子地完成 "检查 value + 删除"
//
// 分布式锁只用来减少多实例下同一单据的 CAS 冲突，
// 资金正确性仍然由数据库里的版本号条件更新保证。
//
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 分布式锁
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

func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
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

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// ============================================================================
// Locker：按业务单据加锁
// ============================================================================

// Locker 业务单据锁的工厂，统一 key 前缀、过期时间和重试策略
type Locker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewLocker(client *redis.Client, ttl, retryInterval time.Duration, maxRetries int) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retryInterval <= 0 {
		retryInterval = 50 * time.Millisecond
	}
	if maxRetries <= 0 {
		maxRetries = 60
	}
	return &Locker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
	}
}

// 各类单据的锁 key
func OrderLockKey(orderNo string) string { return fmt.Sprintf("order:lock:%s", orderNo) }
func TradeLockKey(tradeNo string) string { return fmt.Sprintf("p2p:lock:trade:%s", tradeNo) }
func OfferLockKey(offerNo string) string { return fmt.Sprintf("p2p:lock:offer:%s", offerNo) }
func InvestmentLockKey(invNo string) string { return fmt.Sprintf("mining:lock:investment:%s", invNo) }
func TransactionLockKey(txnNo string) string { return fmt.Sprintf("wallet:lock:txn:%s", txnNo) }

// WithLock 持有 key 对应的锁执行 fn，执行完毕后释放
func (l *Locker) WithLock(ctx context.Context, key string, fn func() error) error {
	if l == nil || l.client == nil {
		return fn()
	}

	dl := NewDistributedLock(l.client, key, uuid.NewString(), l.ttl)
	if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		return fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer func() {
		// 调用方的 ctx 可能已经取消，释放锁用独立的 ctx
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = dl.Unlock(unlockCtx)
	}()

	return fn()
}
