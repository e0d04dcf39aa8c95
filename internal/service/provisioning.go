package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/label"
	"mailroom/backend/internal/lock"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/storage"
)

// ProvisioningStore 开通流程依赖的存储操作
type ProvisioningStore interface {
	storage.PlanRepository
	storage.AccountRepository
	storage.MailboxRepository
}

// ProvisioningService 处理订阅创建、邮箱追加与套餐变更。
//
// 同一账户的操作按账户键串行执行，编号分配在全局命名空间锁内完成，
// 加锁顺序固定为 账户(或用户) → 命名空间。
type ProvisioningService struct {
	store   ProvisioningStore
	locker  lock.Locker
	metrics *monitoring.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewProvisioningService 创建开通服务
func NewProvisioningService(store ProvisioningStore, locker lock.Locker, metrics *monitoring.Metrics, logger *zap.Logger) *ProvisioningService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &ProvisioningService{
		store:   store,
		locker:  locker,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时间来源
func (s *ProvisioningService) SetClock(now func() time.Time) {
	s.now = now
}

// ProvisionResult 开通操作的结果
type ProvisionResult struct {
	Account   *domain.Account
	Mailboxes []domain.Mailbox // 本次新分配的邮箱
	Requested int
	Created   bool // 仅创建订阅时有意义：false 表示账户已存在，本次为空操作
}

// Exhausted 分配数量是否少于请求数量
func (r *ProvisionResult) Exhausted() bool {
	return len(r.Mailboxes) < r.Requested
}

// CreateSubscriptionInput 创建订阅账户的输入
type CreateSubscriptionInput struct {
	UserID       string
	PlanID       string
	MailboxCount int
	LocationKey  string
	Referral     string
}

// CreateSubscriptionAccount 为用户创建订阅账户及初始邮箱。用户已有账户时直接返回该账户。
func (s *ProvisioningService) CreateSubscriptionAccount(ctx context.Context, input CreateSubscriptionInput) (*ProvisionResult, error) {
	if input.UserID == "" || input.PlanID == "" || input.MailboxCount < 0 {
		return nil, fmt.Errorf("%w: userId, planId and a non-negative mailbox count are required", ErrInvalidInput)
	}

	var result *ProvisionResult
	err := s.locker.WithLock(ctx, lock.UserKey(input.UserID), func(ctx context.Context) error {
		existing, err := s.store.GetAccountByUserID(ctx, input.UserID)
		if err == nil {
			result = &ProvisionResult{Account: existing, Requested: input.MailboxCount}
			return nil
		}
		if !errors.Is(err, storage.ErrAccountNotFound) {
			return fmt.Errorf("lookup account: %w", err)
		}

		plan, err := s.plan(ctx, input.PlanID)
		if err != nil {
			return err
		}
		if input.MailboxCount > plan.MailboxAccessQuota {
			return fmt.Errorf("%w: plan %s allows %d mailboxes, requested %d",
				ErrQuotaExceeded, plan.ID, plan.MailboxAccessQuota, input.MailboxCount)
		}

		now := s.now()
		endsAt := now.Add(plan.Duration())
		account := &domain.Account{
			ID:                 uuid.NewString(),
			UserID:             input.UserID,
			PlanID:             plan.ID,
			SubscriptionStatus: domain.SubscriptionActive,
			SubscriptionEndsAt: &endsAt,
			LocationKey:        input.LocationKey,
			Referral:           input.Referral,
		}

		return s.locker.WithLock(ctx, lock.NamespaceKey, func(ctx context.Context) error {
			mailboxes, err := s.allocate(ctx, account.ID, plan, input.MailboxCount)
			if err != nil {
				return err
			}
			account.RemainingMailboxAccess = plan.MailboxAccessQuota - len(mailboxes)

			if err := s.store.CreateAccount(ctx, account, mailboxes); err != nil {
				if errors.Is(err, storage.ErrAccountExists) {
					// 其他实例已先行创建
					existing, getErr := s.store.GetAccountByUserID(ctx, input.UserID)
					if getErr != nil {
						return fmt.Errorf("lookup account: %w", getErr)
					}
					result = &ProvisionResult{Account: existing, Requested: input.MailboxCount}
					return nil
				}
				return fmt.Errorf("create account: %w", err)
			}

			result = &ProvisionResult{
				Account:   account,
				Mailboxes: mailboxes,
				Requested: input.MailboxCount,
				Created:   true,
			}
			return nil
		})
	})
	if err != nil {
		s.metrics.RecordProvisioning(string(domain.ActionCreateSubscription), outcomeOf(err))
		return nil, err
	}

	if !result.Created {
		s.logger.Info("subscription account already exists, skipping",
			zap.String("user_id", input.UserID),
			zap.String("account_id", result.Account.ID),
		)
		s.metrics.RecordProvisioning(string(domain.ActionCreateSubscription), "noop")
		return result, nil
	}

	s.recordAllocation(result, domain.ActionCreateSubscription)
	s.logger.Info("subscription account created",
		zap.String("user_id", input.UserID),
		zap.String("account_id", result.Account.ID),
		zap.String("plan_id", result.Account.PlanID),
		zap.Strings("labels", labelsOf(result.Mailboxes)),
	)
	return result, nil
}

// AddMailboxesInput 追加邮箱的输入
type AddMailboxesInput struct {
	AccountID string
	PlanID    string // 留空时使用账户当前套餐
	Count     int
}

// AddMailboxesToAccount 为已有账户追加邮箱，请求数量超过剩余配额时不做任何分配
func (s *ProvisioningService) AddMailboxesToAccount(ctx context.Context, input AddMailboxesInput) (*ProvisionResult, error) {
	if input.AccountID == "" || input.Count <= 0 {
		return nil, fmt.Errorf("%w: accountId and a positive count are required", ErrInvalidInput)
	}

	var result *ProvisionResult
	err := s.locker.WithLock(ctx, lock.AccountKey(input.AccountID), func(ctx context.Context) error {
		account, err := s.store.GetAccount(ctx, input.AccountID)
		if err != nil {
			return err
		}
		if input.Count > account.RemainingMailboxAccess {
			return fmt.Errorf("%w: account %s has %d remaining, requested %d",
				ErrQuotaExceeded, account.ID, account.RemainingMailboxAccess, input.Count)
		}

		planID := input.PlanID
		if planID == "" {
			planID = account.PlanID
		}
		plan, err := s.plan(ctx, planID)
		if err != nil {
			return err
		}

		return s.locker.WithLock(ctx, lock.NamespaceKey, func(ctx context.Context) error {
			mailboxes, err := s.allocate(ctx, account.ID, plan, input.Count)
			if err != nil {
				return err
			}
			account.RemainingMailboxAccess -= len(mailboxes)

			if err := s.store.AddMailboxes(ctx, account, mailboxes); err != nil {
				return fmt.Errorf("add mailboxes: %w", err)
			}
			result = &ProvisionResult{Account: account, Mailboxes: mailboxes, Requested: input.Count}
			return nil
		})
	})
	if err != nil {
		s.metrics.RecordProvisioning(string(domain.ActionAddMailboxes), outcomeOf(err))
		return nil, err
	}

	s.recordAllocation(result, domain.ActionAddMailboxes)
	s.logger.Info("mailboxes added",
		zap.String("account_id", input.AccountID),
		zap.Int("requested", input.Count),
		zap.Strings("labels", labelsOf(result.Mailboxes)),
		zap.Int("remaining_quota", result.Account.RemainingMailboxAccess),
	)
	return result, nil
}

// ChangePlanInput 变更套餐的输入
type ChangePlanInput struct {
	AccountID string
	PlanID    string
}

// ChangePlan 变更账户套餐并顺延订阅。
// 新截止时间从 max(当前时间, 原截止时间) 起算；剩余配额按新套餐减去已持有邮箱重新计算，邮箱本身不变。
func (s *ProvisioningService) ChangePlan(ctx context.Context, input ChangePlanInput) (*ProvisionResult, error) {
	if input.AccountID == "" || input.PlanID == "" {
		return nil, fmt.Errorf("%w: accountId and planId are required", ErrInvalidInput)
	}

	var account *domain.Account
	err := s.locker.WithLock(ctx, lock.AccountKey(input.AccountID), func(ctx context.Context) error {
		var err error
		account, err = s.store.GetAccount(ctx, input.AccountID)
		if err != nil {
			return err
		}
		plan, err := s.plan(ctx, input.PlanID)
		if err != nil {
			return err
		}
		held, err := s.store.ListMailboxesByAccount(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("list mailboxes: %w", err)
		}

		start := s.now()
		if account.SubscriptionEndsAt != nil && account.SubscriptionEndsAt.After(start) {
			start = *account.SubscriptionEndsAt
		}
		endsAt := start.Add(plan.Duration())

		account.PlanID = plan.ID
		account.SubscriptionStatus = domain.SubscriptionActive
		account.SubscriptionEndsAt = &endsAt
		account.RemainingMailboxAccess = plan.MailboxAccessQuota - len(held)
		if account.RemainingMailboxAccess < 0 {
			account.RemainingMailboxAccess = 0
		}
		account.UpdatedAt = s.now()

		if err := s.store.UpdateAccount(ctx, account); err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordProvisioning(string(domain.ActionChangePlan), outcomeOf(err))
		return nil, err
	}

	s.metrics.RecordProvisioning(string(domain.ActionChangePlan), "success")
	s.logger.Info("plan changed",
		zap.String("account_id", account.ID),
		zap.String("plan_id", account.PlanID),
		zap.Timep("subscription_ends_at", account.SubscriptionEndsAt),
	)
	return &ProvisionResult{Account: account}, nil
}

// ExpireSubscriptions 将截止时间早于 now 的有效订阅标记为过期，返回处理数量
func (s *ProvisioningService) ExpireSubscriptions(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.store.ListAccountsExpiringBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expiring accounts: %w", err)
	}

	expired := 0
	for _, c := range candidates {
		err := s.locker.WithLock(ctx, lock.AccountKey(c.ID), func(ctx context.Context) error {
			account, err := s.store.GetAccount(ctx, c.ID)
			if err != nil {
				return err
			}
			// 加锁期间可能已续期
			if account.IsActive(now) || account.SubscriptionStatus != domain.SubscriptionActive {
				return nil
			}
			account.SubscriptionStatus = domain.SubscriptionExpired
			account.UpdatedAt = s.now()
			if err := s.store.UpdateAccount(ctx, account); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			s.logger.Error("failed to expire subscription", zap.String("account_id", c.ID), zap.Error(err))
		}
	}

	if expired > 0 {
		s.metrics.RecordSubscriptionsExpired(expired)
		s.logger.Info("subscriptions expired", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *ProvisioningService) plan(ctx context.Context, id string) (*domain.Plan, error) {
	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrPlanNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
		}
		return nil, fmt.Errorf("lookup plan: %w", err)
	}
	return plan, nil
}

// allocate 必须在命名空间锁内调用
func (s *ProvisioningService) allocate(ctx context.Context, accountID string, plan *domain.Plan, n int) ([]domain.Mailbox, error) {
	used, err := s.store.ListUsedLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list used labels: %w", err)
	}

	labels := label.Allocate(label.UsedSet(used), n)
	if len(labels) < n {
		s.logger.Warn("allocation exhausted",
			zap.String("account_id", accountID),
			zap.Int("requested", n),
			zap.Int("allocated", len(labels)),
		)
	}

	mailboxes := make([]domain.Mailbox, 0, len(labels))
	for _, l := range labels {
		mailboxes = append(mailboxes, domain.Mailbox{
			ID:                    uuid.NewString(),
			AccountID:             accountID,
			Label:                 l,
			Status:                domain.MailboxStatusActive,
			MailRemainingSpace:    plan.MaxMailItems,
			PackageRemainingSpace: plan.MaxPackageItems,
		})
	}
	return mailboxes, nil
}

func (s *ProvisioningService) recordAllocation(result *ProvisionResult, action domain.ProvisioningAction) {
	s.metrics.RecordAllocation(result.Requested, len(result.Mailboxes))
	outcome := "success"
	if result.Exhausted() {
		outcome = "partial"
	}
	s.metrics.RecordProvisioning(string(action), outcome)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrPlanNotFound):
		return "plan_not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, storage.ErrAccountNotFound):
		return "account_not_found"
	default:
		return "error"
	}
}

func labelsOf(mailboxes []domain.Mailbox) []string {
	out := make([]string, len(mailboxes))
	for i, m := range mailboxes {
		out[i] = m.Label
	}
	return out
}
