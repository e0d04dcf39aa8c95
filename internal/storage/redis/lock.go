package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"go.uber.org/zap"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/lock"
)

const lockKeyPrefix = "mailroom:lock:"

// Locker 基于 redsync 的分布式锁，多实例部署时替代进程内锁
type Locker struct {
	rs         *redsync.Redsync
	expiry     time.Duration
	tries      int
	retryDelay time.Duration
	log        *zap.Logger
}

var _ lock.Locker = (*Locker)(nil)

// NewLocker 创建分布式锁
func NewLocker(client *Client, cfg config.LockConfig) *Locker {
	l := &Locker{
		rs:         redsync.New(goredis.NewPool(client.rdb)),
		expiry:     cfg.Expiry,
		tries:      cfg.Tries,
		retryDelay: cfg.RetryDelay,
		log:        client.log,
	}
	if l.expiry <= 0 {
		l.expiry = 10 * time.Second
	}
	if l.tries <= 0 {
		l.tries = 32
	}
	if l.retryDelay <= 0 {
		l.retryDelay = 100 * time.Millisecond
	}
	return l
}

// WithLock 持有分布式锁期间执行 fn，fn 返回后释放锁
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	mutex := l.rs.NewMutex(
		lockKeyPrefix+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(l.retryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	defer func() {
		// 调用方 ctx 可能已取消，释放时使用独立的超时
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			l.log.Warn("failed to release lock",
				zap.String("key", key),
				zap.Bool("unlock_ok", ok),
				zap.Error(err),
			)
		}
	}()

	return fn(ctx)
}
