package storage

import (
	"context"
	"errors"
	"time"

	"mailroom/backend/internal/domain"
)

var (
	// ErrAccountNotFound 账户未找到错误
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists 用户已存在订阅账户
	ErrAccountExists = errors.New("account already exists")
	// ErrMailboxNotFound 邮箱未找到错误
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrItemNotFound 物品未找到错误
	ErrItemNotFound = errors.New("mail item not found")
	// ErrPlanNotFound 套餐未找到错误
	ErrPlanNotFound = errors.New("plan not found")
	// ErrLabelTaken 邮箱编号已被占用
	ErrLabelTaken = errors.New("mailbox label already taken")
)

// PlanRepository 定义套餐数据存取操作。
type PlanRepository interface {
	SavePlan(ctx context.Context, plan *domain.Plan) error
	GetPlan(ctx context.Context, id string) (*domain.Plan, error)
	ListPlans(ctx context.Context) ([]domain.Plan, error)
}

// AccountRepository 定义账户数据存取操作。
type AccountRepository interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetAccountByUserID(ctx context.Context, userID string) (*domain.Account, error)
	UpdateAccount(ctx context.Context, account *domain.Account) error
	ListAccountsExpiringBefore(ctx context.Context, before time.Time) ([]domain.Account, error)

	// CreateAccount 在同一事务中写入新账户及其初始邮箱
	CreateAccount(ctx context.Context, account *domain.Account, mailboxes []domain.Mailbox) error
	// AddMailboxes 在同一事务中更新账户配额并写入新增邮箱
	AddMailboxes(ctx context.Context, account *domain.Account, mailboxes []domain.Mailbox) error
}

// MailboxRepository 定义邮箱数据存取操作。
type MailboxRepository interface {
	GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error)
	ListMailboxesByAccount(ctx context.Context, accountID string) ([]domain.Mailbox, error)
	ListMailboxesByIDs(ctx context.Context, ids []string) ([]domain.Mailbox, error)
	ListUsedLabels(ctx context.Context) ([]string, error) // 系统中全部已用编号
}

// MailItemRepository 定义邮件物品数据存取操作。
type MailItemRepository interface {
	SaveMailItem(ctx context.Context, item *domain.MailItem) error
	GetMailItems(ctx context.Context, ids []string) ([]domain.MailItem, error)
	ListItemsByMailboxes(ctx context.Context, mailboxIDs []string) ([]domain.MailItem, error)
	// RelocateItems 原子地修改一批物品的邮箱归属，任一物品不存在则全部不生效
	RelocateItems(ctx context.Context, moves []domain.ItemMove) error
}

// ProcessedEventRepository 定义支付事件去重操作。
type ProcessedEventRepository interface {
	// ClaimEvent 首次登记事件时返回 true，事件已存在时返回 false
	ClaimEvent(ctx context.Context, event *domain.ProcessedEvent) (bool, error)
	// ReleaseEvent 撤销登记，使事件可被重新处理
	ReleaseEvent(ctx context.Context, eventID string) error
}

// Store 定义完整的存储接口。
type Store interface {
	PlanRepository
	AccountRepository
	MailboxRepository
	MailItemRepository
	ProcessedEventRepository

	// 工具方法
	Close() error
	Health() error
}
