package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

// Store 基于 GORM 的 SQL 存储实现（支持 PostgreSQL 与 MySQL）
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// New 根据数据库配置创建存储实例
func New(cfg *config.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	switch cfg.Type {
	case "postgres":
		return NewStoreWithDialector(postgres.Open(cfg.DSN), cfg)
	case "mysql":
		return NewStoreWithDialector(mysql.Open(cfg.DSN), cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: mysql, postgres)", cfg.Type)
	}
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, cfg *config.DatabaseConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true, // 唯一索引冲突转换为 gorm.ErrDuplicatedKey
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &Store{db: db}

	// 自动迁移数据库表
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.Plan{},
		&domain.Account{},
		&domain.Mailbox{},
		&domain.MailItem{},
		&domain.ProcessedEvent{},
	)
}

// ========== Plan Repository ==========

// SavePlan 保存套餐
func (s *Store) SavePlan(ctx context.Context, plan *domain.Plan) error {
	return s.db.WithContext(ctx).Save(plan).Error
}

// GetPlan 根据 ID 获取套餐
func (s *Store) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	var plan domain.Plan
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// ListPlans 返回全部套餐
func (s *Store) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	var plans []domain.Plan
	err := s.db.WithContext(ctx).Order("id").Find(&plans).Error
	return plans, err
}

// ========== Account Repository ==========

// GetAccount 根据 ID 获取账户
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.firstAccount(ctx, "id = ?", id)
}

// GetAccountByUserID 根据用户 ID 获取账户
func (s *Store) GetAccountByUserID(ctx context.Context, userID string) (*domain.Account, error) {
	return s.firstAccount(ctx, "user_id = ?", userID)
}

func (s *Store) firstAccount(ctx context.Context, query string, arg string) (*domain.Account, error) {
	var account domain.Account
	err := s.db.WithContext(ctx).Where(query, arg).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// UpdateAccount 更新账户信息
func (s *Store) UpdateAccount(ctx context.Context, account *domain.Account) error {
	result := s.db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ?", account.ID).
		Select("plan_id", "subscription_status", "subscription_ends_at", "remaining_mailbox_access", "location_key", "referral", "updated_at").
		Updates(account)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrAccountNotFound
	}
	return nil
}

// ListAccountsExpiringBefore 返回订阅有效但截止时间早于 before 的账户
func (s *Store) ListAccountsExpiringBefore(ctx context.Context, before time.Time) ([]domain.Account, error) {
	var accounts []domain.Account
	err := s.db.WithContext(ctx).
		Where("subscription_status = ? AND subscription_ends_at IS NOT NULL AND subscription_ends_at < ?", domain.SubscriptionActive, before).
		Find(&accounts).Error
	return accounts, err
}

// CreateAccount 在同一事务中写入新账户及其初始邮箱
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account, mailboxes []domain.Mailbox) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Account{}).Where("user_id = ?", account.UserID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return storage.ErrAccountExists
		}

		if err := tx.Create(account).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return storage.ErrAccountExists
			}
			return err
		}
		return insertMailboxes(tx, mailboxes)
	})
}

// AddMailboxes 在同一事务中更新账户配额并写入新增邮箱
func (s *Store) AddMailboxes(ctx context.Context, account *domain.Account, mailboxes []domain.Mailbox) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Account{}).
			Where("id = ?", account.ID).
			Updates(map[string]interface{}{
				"remaining_mailbox_access": account.RemainingMailboxAccess,
				"updated_at":               time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrAccountNotFound
		}
		return insertMailboxes(tx, mailboxes)
	})
}

func insertMailboxes(tx *gorm.DB, mailboxes []domain.Mailbox) error {
	if len(mailboxes) == 0 {
		return nil
	}
	if err := tx.Create(&mailboxes).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return storage.ErrLabelTaken
		}
		return err
	}
	return nil
}

// ========== Mailbox Repository ==========

// GetMailbox 根据 ID 获取邮箱
func (s *Store) GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	return &mailbox, nil
}

// ListMailboxesByAccount 返回账户下的全部邮箱
func (s *Store) ListMailboxesByAccount(ctx context.Context, accountID string) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("label").Find(&mailboxes).Error
	return mailboxes, err
}

// ListMailboxesByIDs 批量获取邮箱
func (s *Store) ListMailboxesByIDs(ctx context.Context, ids []string) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	if len(ids) == 0 {
		return mailboxes, nil
	}
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&mailboxes).Error
	return mailboxes, err
}

// ListUsedLabels 返回系统中全部已用编号
func (s *Store) ListUsedLabels(ctx context.Context) ([]string, error) {
	var labels []string
	err := s.db.WithContext(ctx).Model(&domain.Mailbox{}).Order("label").Pluck("label", &labels).Error
	return labels, err
}

// ========== Mail Item Repository ==========

// SaveMailItem 保存物品
func (s *Store) SaveMailItem(ctx context.Context, item *domain.MailItem) error {
	return s.db.WithContext(ctx).Save(item).Error
}

// GetMailItems 批量获取物品
func (s *Store) GetMailItems(ctx context.Context, ids []string) ([]domain.MailItem, error) {
	var items []domain.MailItem
	if len(ids) == 0 {
		return items, nil
	}
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error
	return items, err
}

// ListItemsByMailboxes 返回指定邮箱中的全部物品
func (s *Store) ListItemsByMailboxes(ctx context.Context, mailboxIDs []string) ([]domain.MailItem, error) {
	var items []domain.MailItem
	if len(mailboxIDs) == 0 {
		return items, nil
	}
	err := s.db.WithContext(ctx).Where("mailbox_id IN ?", mailboxIDs).Order("created_at, id").Find(&items).Error
	return items, err
}

// RelocateItems 在事务中修改一批物品的邮箱归属
func (s *Store) RelocateItems(ctx context.Context, moves []domain.ItemMove) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, m := range moves {
			result := tx.Model(&domain.MailItem{}).
				Where("id = ?", m.ItemID).
				Updates(map[string]interface{}{
					"mailbox_id": m.MailboxID,
					"updated_at": now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return storage.ErrItemNotFound
			}
		}
		return nil
	})
}

// ========== Processed Event Repository ==========

// ClaimEvent 登记事件，依赖主键冲突判断是否重复
func (s *Store) ClaimEvent(ctx context.Context, event *domain.ProcessedEvent) (bool, error) {
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = time.Now().UTC()
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ReleaseEvent 撤销事件登记
func (s *Store) ReleaseEvent(ctx context.Context, eventID string) error {
	return s.db.WithContext(ctx).Where("event_id = ?", eventID).Delete(&domain.ProcessedEvent{}).Error
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
