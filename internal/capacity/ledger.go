// Package capacity 维护邮箱内按类型划分的物品数量，并在物品重新归属时执行套餐上限检查。
//
// 账本只改变物品的邮箱归属，不会调整邮箱的剩余接收空间计数：
// 剩余空间描述的是邮箱还能接收多少新邮件，看板上的移动只是整理已接收的物品。
package capacity

import (
	"errors"
	"sort"

	"mailroom/backend/internal/domain"
)

var (
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrUnknownMailbox   = errors.New("unknown mailbox")
	ErrUnknownItem      = errors.New("unknown item")
)

// Column 账本中的一个邮箱
type Column struct {
	MailboxID string
	Limits    domain.PlanLimits
}

type column struct {
	limits domain.PlanLimits
	counts map[domain.ItemType]int
}

// Ledger 邮箱 → 物品归属的内存投影
//
// 非并发安全，调用方负责加锁。
type Ledger struct {
	columns   map[string]*column
	placement map[string]string          // itemID -> mailboxID
	types     map[string]domain.ItemType // itemID -> type
}

// NewLedger 根据邮箱列与物品快照构建账本。
// 引用未知邮箱的物品会被忽略。
func NewLedger(columns []Column, items []domain.MailItem) *Ledger {
	l := &Ledger{
		columns:   make(map[string]*column, len(columns)),
		placement: make(map[string]string, len(items)),
		types:     make(map[string]domain.ItemType, len(items)),
	}
	for _, c := range columns {
		l.columns[c.MailboxID] = &column{
			limits: c.Limits,
			counts: make(map[domain.ItemType]int, 2),
		}
	}
	for _, item := range items {
		col, ok := l.columns[item.MailboxID]
		if !ok {
			continue
		}
		l.placement[item.ID] = item.MailboxID
		l.types[item.ID] = item.Type
		col.counts[item.Type]++
	}
	return l
}

// CanAccept 当邮箱中该类型物品数量严格小于套餐上限时返回 true
func (l *Ledger) CanAccept(mailboxID string, t domain.ItemType) bool {
	col, ok := l.columns[mailboxID]
	if !ok {
		return false
	}
	return Accepts(col.counts[t], col.limits.For(t))
}

// Accepts 判断已放置 placed 个物品、上限为 limit 时是否还能再放一个
func Accepts(placed, limit int) bool {
	return placed < limit
}

// Count 返回邮箱中指定类型的物品数量
func (l *Ledger) Count(mailboxID string, t domain.ItemType) int {
	col, ok := l.columns[mailboxID]
	if !ok {
		return 0
	}
	return col.counts[t]
}

// Placement 返回物品当前所在邮箱
func (l *Ledger) Placement(itemID string) (string, bool) {
	mb, ok := l.placement[itemID]
	return mb, ok
}

// Relocate 把物品移动到目标邮箱。
//
// 目标邮箱无法接收该类型时返回 ErrCapacityExceeded 且不做任何修改；
// 目标与当前邮箱相同时视为无操作。
func (l *Ledger) Relocate(itemID, toMailboxID string) error {
	from, ok := l.placement[itemID]
	if !ok {
		return ErrUnknownItem
	}
	to, ok := l.columns[toMailboxID]
	if !ok {
		return ErrUnknownMailbox
	}
	if from == toMailboxID {
		return nil
	}

	t := l.types[itemID]
	if !l.CanAccept(toMailboxID, t) {
		return ErrCapacityExceeded
	}

	l.columns[from].counts[t]--
	to.counts[t]++
	l.placement[itemID] = toMailboxID
	return nil
}

// Items 返回邮箱中的物品 ID（按 ID 排序）
func (l *Ledger) Items(mailboxID string) []string {
	var ids []string
	for id, mb := range l.placement {
		if mb == mailboxID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Clone 复制账本，用于在不影响原状态的前提下试算
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		columns:   make(map[string]*column, len(l.columns)),
		placement: make(map[string]string, len(l.placement)),
		types:     make(map[string]domain.ItemType, len(l.types)),
	}
	for id, col := range l.columns {
		counts := make(map[domain.ItemType]int, len(col.counts))
		for t, n := range col.counts {
			counts[t] = n
		}
		c.columns[id] = &column{limits: col.limits, counts: counts}
	}
	for id, mb := range l.placement {
		c.placement[id] = mb
	}
	for id, t := range l.types {
		c.types[id] = t
	}
	return c
}

// Apply 依次执行一批移动；任意一步失败则返回错误，账本保持原样
func (l *Ledger) Apply(moves []domain.ItemMove) error {
	trial := l.Clone()
	for _, m := range moves {
		if err := trial.Relocate(m.ItemID, m.MailboxID); err != nil {
			return &MoveError{Move: m, Err: err}
		}
	}
	*l = *trial
	return nil
}

// MoveError 批量移动中失败的那一步
type MoveError struct {
	Move domain.ItemMove
	Err  error
}

func (e *MoveError) Error() string {
	return "move item " + e.Move.ItemID + " to mailbox " + e.Move.MailboxID + ": " + e.Err.Error()
}

func (e *MoveError) Unwrap() error {
	return e.Err
}
