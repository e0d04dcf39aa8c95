// Package lock 提供按键串行化的互斥执行能力。
//
// 开通流程以账户 ID 为键串行执行，编号分配以全局命名空间为键串行执行。
// 需要同时持有两把锁时先取账户（或用户）锁，再取命名空间锁。
// 单实例部署使用 KeyedMutex，多实例部署使用 Redis 实现（见 storage/redis）。
package lock

import "context"

// NamespaceKey 邮箱编号命名空间的全局锁键
const NamespaceKey = "labels"

// AccountKey 返回账户级锁键
func AccountKey(accountID string) string {
	return "account:" + accountID
}

// UserKey 返回用户级锁键，用于账户尚未创建时的首次开通
func UserKey(userID string) string {
	return "user:" + userID
}

// Locker 在持有 key 对应的锁期间执行 fn
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}
