package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

// Store 使用内存保存账户、邮箱与物品数据，主要用于开发验证。
type Store struct {
	mu        sync.RWMutex
	plans     map[string]*domain.Plan
	accounts  map[string]*domain.Account
	byUserID  map[string]string              // userID -> accountID
	mailboxes map[string]*domain.Mailbox
	byLabel   map[string]string              // label -> mailboxID
	items     map[string]*domain.MailItem
	events    map[string]*domain.ProcessedEvent // eventID -> event
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		plans:     make(map[string]*domain.Plan),
		accounts:  make(map[string]*domain.Account),
		byUserID:  make(map[string]string),
		mailboxes: make(map[string]*domain.Mailbox),
		byLabel:   make(map[string]string),
		items:     make(map[string]*domain.MailItem),
		events:    make(map[string]*domain.ProcessedEvent),
	}
}

// ========== Plan Repository ==========

// SavePlan 保存套餐。
func (s *Store) SavePlan(_ context.Context, plan *domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *plan
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.plans[cp.ID] = &cp
	return nil
}

// GetPlan 根据 ID 获取套餐。
func (s *Store) GetPlan(_ context.Context, id string) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[id]
	if !ok {
		return nil, storage.ErrPlanNotFound
	}
	cp := *plan
	return &cp, nil
}

// ListPlans 返回全部套餐。
func (s *Store) ListPlans(_ context.Context) ([]domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ========== Account Repository ==========

// GetAccount 根据 ID 获取账户。
func (s *Store) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	cp := *account
	return &cp, nil
}

// GetAccountByUserID 根据用户 ID 获取账户。
func (s *Store) GetAccountByUserID(ctx context.Context, userID string) (*domain.Account, error) {
	s.mu.RLock()
	id, ok := s.byUserID[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return s.GetAccount(ctx, id)
}

// UpdateAccount 更新账户信息。
func (s *Store) UpdateAccount(_ context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; !ok {
		return storage.ErrAccountNotFound
	}
	cp := *account
	cp.UpdatedAt = time.Now().UTC()
	s.accounts[cp.ID] = &cp
	return nil
}

// ListAccountsExpiringBefore 返回订阅有效但截止时间早于 before 的账户。
func (s *Store) ListAccountsExpiringBefore(_ context.Context, before time.Time) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Account, 0)
	for _, a := range s.accounts {
		if a.SubscriptionStatus != domain.SubscriptionActive || a.SubscriptionEndsAt == nil {
			continue
		}
		if a.SubscriptionEndsAt.Before(before) {
			result = append(result, *a)
		}
	}
	return result, nil
}

// CreateAccount 写入新账户及其初始邮箱。
func (s *Store) CreateAccount(_ context.Context, account *domain.Account, mailboxes []domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUserID[account.UserID]; exists {
		return storage.ErrAccountExists
	}
	if err := s.checkLabelsLocked(mailboxes); err != nil {
		return err
	}

	now := time.Now().UTC()
	cp := *account
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.accounts[cp.ID] = &cp
	s.byUserID[cp.UserID] = cp.ID
	s.insertMailboxesLocked(mailboxes, now)
	return nil
}

// AddMailboxes 更新账户并写入新增邮箱。
func (s *Store) AddMailboxes(_ context.Context, account *domain.Account, mailboxes []domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; !ok {
		return storage.ErrAccountNotFound
	}
	if err := s.checkLabelsLocked(mailboxes); err != nil {
		return err
	}

	now := time.Now().UTC()
	cp := *account
	cp.UpdatedAt = now
	s.accounts[cp.ID] = &cp
	s.insertMailboxesLocked(mailboxes, now)
	return nil
}

// checkLabelsLocked 校验编号在系统内及本批次内均未被占用
func (s *Store) checkLabelsLocked(mailboxes []domain.Mailbox) error {
	batch := make(map[string]struct{}, len(mailboxes))
	for _, mb := range mailboxes {
		if _, taken := s.byLabel[mb.Label]; taken {
			return storage.ErrLabelTaken
		}
		if _, dup := batch[mb.Label]; dup {
			return storage.ErrLabelTaken
		}
		batch[mb.Label] = struct{}{}
	}
	return nil
}

func (s *Store) insertMailboxesLocked(mailboxes []domain.Mailbox, now time.Time) {
	for i := range mailboxes {
		mb := mailboxes[i]
		mb.CreatedAt = now
		mb.UpdatedAt = now
		s.mailboxes[mb.ID] = &mb
		s.byLabel[mb.Label] = mb.ID
	}
}

// ========== Mailbox Repository ==========

// GetMailbox 根据 ID 获取邮箱。
func (s *Store) GetMailbox(_ context.Context, id string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mb, ok := s.mailboxes[id]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	cp := *mb
	return &cp, nil
}

// ListMailboxesByAccount 返回账户下的全部邮箱（按编号排序）。
func (s *Store) ListMailboxesByAccount(_ context.Context, accountID string) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Mailbox, 0)
	for _, mb := range s.mailboxes {
		if mb.AccountID == accountID {
			result = append(result, *mb)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Label < result[j].Label })
	return result, nil
}

// ListMailboxesByIDs 批量获取邮箱，不存在的 ID 会被忽略。
func (s *Store) ListMailboxesByIDs(_ context.Context, ids []string) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Mailbox, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if mb, ok := s.mailboxes[id]; ok {
			result = append(result, *mb)
		}
	}
	return result, nil
}

// ListUsedLabels 返回系统中全部已用编号。
func (s *Store) ListUsedLabels(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	labels := make([]string, 0, len(s.byLabel))
	for l := range s.byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels, nil
}

// ========== Mail Item Repository ==========

// SaveMailItem 保存物品。
func (s *Store) SaveMailItem(_ context.Context, item *domain.MailItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailboxes[item.MailboxID]; !ok {
		return storage.ErrMailboxNotFound
	}
	cp := *item
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.items[cp.ID] = &cp
	return nil
}

// GetMailItems 批量获取物品，不存在的 ID 会被忽略。
func (s *Store) GetMailItems(_ context.Context, ids []string) ([]domain.MailItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.MailItem, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if item, ok := s.items[id]; ok {
			result = append(result, *item)
		}
	}
	return result, nil
}

// ListItemsByMailboxes 返回指定邮箱中的全部物品（按创建时间排序）。
func (s *Store) ListItemsByMailboxes(_ context.Context, mailboxIDs []string) ([]domain.MailItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]struct{}, len(mailboxIDs))
	for _, id := range mailboxIDs {
		want[id] = struct{}{}
	}

	result := make([]domain.MailItem, 0)
	for _, item := range s.items {
		if _, ok := want[item.MailboxID]; ok {
			result = append(result, *item)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// RelocateItems 原子地修改一批物品的邮箱归属。
func (s *Store) RelocateItems(_ context.Context, moves []domain.ItemMove) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 先整体校验，再统一写入
	for _, m := range moves {
		if _, ok := s.items[m.ItemID]; !ok {
			return storage.ErrItemNotFound
		}
		if _, ok := s.mailboxes[m.MailboxID]; !ok {
			return storage.ErrMailboxNotFound
		}
	}

	now := time.Now().UTC()
	for _, m := range moves {
		item := s.items[m.ItemID]
		item.MailboxID = m.MailboxID
		item.UpdatedAt = now
	}
	return nil
}

// ========== Processed Event Repository ==========

// ClaimEvent 登记事件，重复登记返回 false。
func (s *Store) ClaimEvent(_ context.Context, event *domain.ProcessedEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.EventID]; exists {
		return false, nil
	}
	cp := *event
	if cp.ProcessedAt.IsZero() {
		cp.ProcessedAt = time.Now().UTC()
	}
	s.events[cp.EventID] = &cp
	return true, nil
}

// ReleaseEvent 撤销事件登记。
func (s *Store) ReleaseEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, eventID)
	return nil
}

// Close 内存存储无需释放资源。
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终可用。
func (s *Store) Health() error {
	return nil
}
