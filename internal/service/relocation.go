package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"mailroom/backend/internal/capacity"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/lock"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/storage"
)

// RelocationStore 看板读写依赖的存储操作
type RelocationStore interface {
	storage.PlanRepository
	storage.AccountRepository
	storage.MailboxRepository
	storage.MailItemRepository
}

// RelocationService 提供看板快照与物品批量迁移
type RelocationService struct {
	store   RelocationStore
	locker  lock.Locker
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewRelocationService 创建看板服务
func NewRelocationService(store RelocationStore, locker lock.Locker, metrics *monitoring.Metrics, logger *zap.Logger) *RelocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &RelocationService{
		store:   store,
		locker:  locker,
		metrics: metrics,
		logger:  logger,
	}
}

// Snapshot 返回账户的看板快照，邮箱按编号排序
func (s *RelocationService) Snapshot(ctx context.Context, accountID string) (*domain.BoardSnapshot, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	limits, err := s.limits(ctx, account)
	if err != nil {
		return nil, err
	}
	mailboxes, items, err := s.placement(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	byMailbox := make(map[string][]domain.MailItem, len(mailboxes))
	for _, it := range items {
		byMailbox[it.MailboxID] = append(byMailbox[it.MailboxID], it)
	}

	snapshot := &domain.BoardSnapshot{
		AccountID: account.ID,
		Columns:   make([]domain.BoardColumn, 0, len(mailboxes)),
	}
	for _, mb := range mailboxes {
		columnItems := byMailbox[mb.ID]
		if columnItems == nil {
			columnItems = []domain.MailItem{}
		}
		snapshot.Columns = append(snapshot.Columns, domain.BoardColumn{
			Mailbox: mb,
			Limits:  limits,
			Items:   columnItems,
		})
	}
	return snapshot, nil
}

// RelocateItems 原子地执行一批迁移：整批在容量账本上校验通过后一次性落库，任何一步失败都不做修改。
// 邮箱的剩余空间计数不随迁移变化。
func (s *RelocationService) RelocateItems(ctx context.Context, moves []domain.ItemMove) error {
	if len(moves) == 0 {
		return fmt.Errorf("%w: at least one move is required", ErrInvalidInput)
	}

	accountID, err := s.resolveAccount(ctx, moves)
	if err != nil {
		s.metrics.RecordRelocation(relocationOutcome(err), len(moves))
		return err
	}

	err = s.locker.WithLock(ctx, lock.AccountKey(accountID), func(ctx context.Context) error {
		account, err := s.store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		limits, err := s.limits(ctx, account)
		if err != nil {
			return err
		}
		mailboxes, items, err := s.placement(ctx, account.ID)
		if err != nil {
			return err
		}

		columns := make([]capacity.Column, len(mailboxes))
		for i, mb := range mailboxes {
			columns[i] = capacity.Column{MailboxID: mb.ID, Limits: limits}
		}
		ledger := capacity.NewLedger(columns, items)
		if err := ledger.Apply(moves); err != nil {
			return err
		}

		return s.store.RelocateItems(ctx, moves)
	})

	outcome := relocationOutcome(err)
	s.metrics.RecordRelocation(outcome, len(moves))
	if err != nil {
		s.logger.Info("relocation rejected",
			zap.String("account_id", accountID),
			zap.Int("moves", len(moves)),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("items relocated", zap.String("account_id", accountID), zap.Int("moves", len(moves)))
	return nil
}

// resolveAccount 确认所有物品与目标邮箱存在且属于同一账户
func (s *RelocationService) resolveAccount(ctx context.Context, moves []domain.ItemMove) (string, error) {
	itemIDs := make([]string, 0, len(moves))
	mailboxIDs := make(map[string]struct{}, len(moves))
	for _, m := range moves {
		if m.ItemID == "" || m.MailboxID == "" {
			return "", fmt.Errorf("%w: itemId and mailboxId are required", ErrInvalidInput)
		}
		itemIDs = append(itemIDs, m.ItemID)
		mailboxIDs[m.MailboxID] = struct{}{}
	}

	items, err := s.store.GetMailItems(ctx, itemIDs)
	if err != nil {
		return "", fmt.Errorf("load items: %w", err)
	}
	found := make(map[string]struct{}, len(items))
	for _, it := range items {
		found[it.ID] = struct{}{}
		mailboxIDs[it.MailboxID] = struct{}{}
	}
	for _, id := range itemIDs {
		if _, ok := found[id]; !ok {
			return "", fmt.Errorf("%w: %s", storage.ErrItemNotFound, id)
		}
	}

	ids := make([]string, 0, len(mailboxIDs))
	for id := range mailboxIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	mailboxes, err := s.store.ListMailboxesByIDs(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("load mailboxes: %w", err)
	}
	owner := make(map[string]string, len(mailboxes))
	for _, mb := range mailboxes {
		owner[mb.ID] = mb.AccountID
	}

	accountID := ""
	for _, id := range ids {
		acc, ok := owner[id]
		if !ok {
			return "", fmt.Errorf("%w: %s", storage.ErrMailboxNotFound, id)
		}
		if accountID == "" {
			accountID = acc
		} else if acc != accountID {
			return "", ErrCrossAccountMove
		}
	}
	return accountID, nil
}

func (s *RelocationService) limits(ctx context.Context, account *domain.Account) (domain.PlanLimits, error) {
	plan, err := s.store.GetPlan(ctx, account.PlanID)
	if err != nil {
		if errors.Is(err, storage.ErrPlanNotFound) {
			return domain.PlanLimits{}, fmt.Errorf("%w: %s", ErrPlanNotFound, account.PlanID)
		}
		return domain.PlanLimits{}, fmt.Errorf("lookup plan: %w", err)
	}
	return plan.Limits(), nil
}

func (s *RelocationService) placement(ctx context.Context, accountID string) ([]domain.Mailbox, []domain.MailItem, error) {
	mailboxes, err := s.store.ListMailboxesByAccount(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("list mailboxes: %w", err)
	}
	sort.Slice(mailboxes, func(i, j int) bool { return mailboxes[i].Label < mailboxes[j].Label })

	ids := make([]string, len(mailboxes))
	for i, mb := range mailboxes {
		ids[i] = mb.ID
	}
	items, err := s.store.ListItemsByMailboxes(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("list items: %w", err)
	}
	return mailboxes, items, nil
}

func relocationOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, capacity.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, storage.ErrItemNotFound), errors.Is(err, storage.ErrMailboxNotFound),
		errors.Is(err, capacity.ErrUnknownItem), errors.Is(err, capacity.ErrUnknownMailbox):
		return "not_found"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrCrossAccountMove):
		return "invalid"
	default:
		return "error"
	}
}
