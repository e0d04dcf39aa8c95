// Package board 实现看板的本地乐观模型：物品移动先在本地排队并校验容量，保存时作为一批提交给服务端。
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mailroom/backend/internal/capacity"
	"mailroom/backend/internal/domain"
)

var (
	// ErrSaveInProgress 已有保存请求在进行中
	ErrSaveInProgress = errors.New("save already in progress")
	// ErrUnknownItem 物品不在看板上
	ErrUnknownItem = errors.New("item is not on the board")
	// ErrUnknownMailbox 邮箱不在看板上
	ErrUnknownMailbox = errors.New("mailbox is not on the board")
	// ErrInvalidOrder 排序列表与邮箱当前物品不一致
	ErrInvalidOrder = errors.New("order must list exactly the items in the mailbox")
	// ErrRefreshFailed 移动已保存，但刷新快照失败，本地快照已按提交内容更新
	ErrRefreshFailed = errors.New("moves saved but snapshot refresh failed")
)

// Remote 看板依赖的服务端操作
type Remote interface {
	Snapshot(ctx context.Context, accountID string) (*domain.BoardSnapshot, error)
	RelocateItems(ctx context.Context, moves []domain.ItemMove) error
}

// Board 一个账户的看板状态。
//
// 排队中的移动以操作日志保存，每条在入队时都已对「快照 + 之前的日志」做过容量校验，
// 因此按顺序回放整份日志总是有效的；保存时提交的就是这份日志。
type Board struct {
	mu        sync.Mutex
	accountID string
	remote    Remote

	snapshot *domain.BoardSnapshot
	items    map[string]domain.MailItem // itemID -> 快照中的物品
	origin   map[string]string          // itemID -> 快照中的邮箱
	log      []domain.ItemMove          // 未保存的移动，按入队顺序
	order    map[string][]string        // mailboxID -> 本地排序
	saving   bool
	inflight int // 正在提交的日志条数，即 log 的前 inflight 条
}

// New 从服务端加载快照并创建看板
func New(ctx context.Context, accountID string, remote Remote) (*Board, error) {
	snap, err := remote.Snapshot(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	b := &Board{accountID: accountID, remote: remote}
	b.setSnapshot(snap)
	return b, nil
}

// Move 把物品移到目标邮箱。目标邮箱在本地投影下放不下该类型时返回 capacity.ErrCapacityExceeded，看板不变。
// 移回快照中的原邮箱会撤销该物品的待保存移动。
func (b *Board) Move(itemID, toMailboxID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.items[itemID]; !ok {
		return ErrUnknownItem
	}
	proj := b.projection()
	from, _ := proj.Placement(itemID)
	if from == toMailboxID {
		return nil
	}
	if err := proj.Relocate(itemID, toMailboxID); err != nil {
		if errors.Is(err, capacity.ErrUnknownMailbox) {
			return ErrUnknownMailbox
		}
		return err
	}

	b.log = append(b.log, domain.ItemMove{ItemID: itemID, MailboxID: toMailboxID})
	b.removeFromOrder(from, itemID)
	return nil
}

// Reorder 调整邮箱内物品的显示顺序，仅在本地生效，不做容量检查也不会保存
func (b *Board) Reorder(mailboxID string, itemIDs []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	proj := b.projection()
	if _, ok := b.columnIndex(mailboxID); !ok {
		return ErrUnknownMailbox
	}
	current := proj.Items(mailboxID)
	if len(current) != len(itemIDs) {
		return ErrInvalidOrder
	}
	present := make(map[string]struct{}, len(current))
	for _, id := range current {
		present[id] = struct{}{}
	}
	for _, id := range itemIDs {
		if _, ok := present[id]; !ok {
			return ErrInvalidOrder
		}
		delete(present, id)
	}

	b.order[mailboxID] = append([]string(nil), itemIDs...)
	return nil
}

// Pending 返回待保存的净移动（已移回原邮箱的物品不在其中），按首次移动的顺序
func (b *Board) Pending() []domain.ItemMove {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending()
}

func (b *Board) pending() []domain.ItemMove {
	final := make(map[string]string, len(b.log))
	var seen []string
	for _, m := range b.log {
		if _, ok := final[m.ItemID]; !ok {
			seen = append(seen, m.ItemID)
		}
		final[m.ItemID] = m.MailboxID
	}
	out := make([]domain.ItemMove, 0, len(seen))
	for _, id := range seen {
		if final[id] != b.origin[id] {
			out = append(out, domain.ItemMove{ItemID: id, MailboxID: final[id]})
		}
	}
	return out
}

// HasPending 是否存在未保存的移动
func (b *Board) HasPending() bool {
	return len(b.Pending()) > 0
}

// Discard 丢弃未保存的移动。正在提交的那一批不受影响。
func (b *Board) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = b.log[:b.inflight]
}

// Columns 返回本地投影后的看板（快照叠加未保存的移动与本地排序）
func (b *Board) Columns() []domain.BoardColumn {
	b.mu.Lock()
	defer b.mu.Unlock()

	proj := b.projection()
	out := make([]domain.BoardColumn, 0, len(b.snapshot.Columns))
	for _, col := range b.snapshot.Columns {
		ids := b.ordered(col.Mailbox.ID, proj.Items(col.Mailbox.ID))
		items := make([]domain.MailItem, 0, len(ids))
		for _, id := range ids {
			it := b.items[id]
			it.MailboxID = col.Mailbox.ID
			items = append(items, it)
		}
		out = append(out, domain.BoardColumn{Mailbox: col.Mailbox, Limits: col.Limits, Items: items})
	}
	return out
}

// Save 把未保存的移动作为一批提交。
//
// 成功后清除已提交的部分（保存期间新排队的移动保留）并刷新快照；失败时看板保持原样以便重新保存。
// 保存期间仍可继续 Move，但并发调用 Save 返回 ErrSaveInProgress。
func (b *Board) Save(ctx context.Context) error {
	b.mu.Lock()
	if b.saving {
		b.mu.Unlock()
		return ErrSaveInProgress
	}
	if len(b.pending()) == 0 {
		b.log = nil
		b.mu.Unlock()
		return nil
	}
	batch := append([]domain.ItemMove(nil), b.log...)
	b.saving = true
	b.inflight = len(batch)
	b.mu.Unlock()

	err := b.remote.RelocateItems(ctx, batch)
	var snap *domain.BoardSnapshot
	var refreshErr error
	if err == nil {
		snap, refreshErr = b.remote.Snapshot(ctx, b.accountID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.saving = false
	b.inflight = 0

	if err != nil {
		return fmt.Errorf("save board: %w", err)
	}

	b.log = append([]domain.ItemMove(nil), b.log[len(batch):]...)
	if refreshErr != nil {
		b.applyToSnapshot(batch)
		return fmt.Errorf("%w: %v", ErrRefreshFailed, refreshErr)
	}
	b.setSnapshot(snap)
	return nil
}

// Refresh 重新加载快照，未保存的移动保留
func (b *Board) Refresh(ctx context.Context) error {
	snap, err := b.remote.Snapshot(ctx, b.accountID)
	if err != nil {
		return fmt.Errorf("refresh board: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setSnapshot(snap)
	return nil
}

// projection 快照回放日志后的账本
func (b *Board) projection() *capacity.Ledger {
	ledger := b.snapshotLedger()
	for _, m := range b.log {
		// 只有正在提交的条目可能回放失败，见 pruneLog
		_ = ledger.Relocate(m.ItemID, m.MailboxID)
	}
	return ledger
}

func (b *Board) snapshotLedger() *capacity.Ledger {
	columns := make([]capacity.Column, len(b.snapshot.Columns))
	var items []domain.MailItem
	for i, col := range b.snapshot.Columns {
		columns[i] = capacity.Column{MailboxID: col.Mailbox.ID, Limits: col.Limits}
		items = append(items, col.Items...)
	}
	return capacity.NewLedger(columns, items)
}

// pruneLog 在新快照上重新回放日志，丢弃已无法回放的排队条目（物品或邮箱已不存在、目标已满）。
// 正在提交的前 inflight 条原样保留，由服务端裁决。
func (b *Board) pruneLog() {
	if len(b.log) == 0 {
		return
	}
	ledger := b.snapshotLedger()
	kept := make([]domain.ItemMove, 0, len(b.log))
	for i, m := range b.log {
		if err := ledger.Relocate(m.ItemID, m.MailboxID); err != nil && i >= b.inflight {
			continue
		}
		kept = append(kept, m)
	}
	b.log = kept
}

func (b *Board) setSnapshot(snap *domain.BoardSnapshot) {
	b.snapshot = snap
	b.items = make(map[string]domain.MailItem)
	b.origin = make(map[string]string)
	for _, col := range snap.Columns {
		for _, it := range col.Items {
			it.MailboxID = col.Mailbox.ID
			b.items[it.ID] = it
			b.origin[it.ID] = col.Mailbox.ID
		}
	}

	// 只保留仍然存在的排序
	order := make(map[string][]string, len(snap.Columns))
	for mb, ids := range b.order {
		if _, ok := b.columnIndex(mb); !ok {
			continue
		}
		kept := ids[:0:0]
		for _, id := range ids {
			if _, ok := b.items[id]; ok {
				kept = append(kept, id)
			}
		}
		order[mb] = kept
	}
	b.order = order

	b.pruneLog()
}

// applyToSnapshot 刷新失败时把已保存的移动写入本地快照
func (b *Board) applyToSnapshot(moves []domain.ItemMove) {
	final := make(map[string]string, len(moves))
	for _, m := range moves {
		final[m.ItemID] = m.MailboxID
	}

	cols := make([]domain.BoardColumn, len(b.snapshot.Columns))
	var moved []domain.MailItem
	for i, col := range b.snapshot.Columns {
		cols[i] = domain.BoardColumn{Mailbox: col.Mailbox, Limits: col.Limits}
		for _, it := range col.Items {
			if to, ok := final[it.ID]; ok && to != col.Mailbox.ID {
				it.MailboxID = to
				moved = append(moved, it)
				continue
			}
			cols[i].Items = append(cols[i].Items, it)
		}
	}
	for _, it := range moved {
		if idx, ok := b.columnIndexIn(cols, it.MailboxID); ok {
			cols[idx].Items = append(cols[idx].Items, it)
		}
	}

	b.setSnapshot(&domain.BoardSnapshot{AccountID: b.snapshot.AccountID, Columns: cols})
}

func (b *Board) columnIndex(mailboxID string) (int, bool) {
	return b.columnIndexIn(b.snapshot.Columns, mailboxID)
}

func (b *Board) columnIndexIn(cols []domain.BoardColumn, mailboxID string) (int, bool) {
	for i, col := range cols {
		if col.Mailbox.ID == mailboxID {
			return i, true
		}
	}
	return 0, false
}

// ordered 按本地排序排列物品，未排序的物品按原顺序追加在后
func (b *Board) ordered(mailboxID string, ids []string) []string {
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	out := make([]string, 0, len(ids))
	for _, id := range b.order[mailboxID] {
		if present[id] {
			out = append(out, id)
			present[id] = false
		}
	}
	for _, id := range b.snapshotOrder(mailboxID, ids) {
		if present[id] {
			out = append(out, id)
		}
	}
	return out
}

// snapshotOrder 让快照中已在该邮箱的物品保持快照顺序，移入的物品排在后面
func (b *Board) snapshotOrder(mailboxID string, ids []string) []string {
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	var out []string
	if idx, ok := b.columnIndex(mailboxID); ok {
		for _, it := range b.snapshot.Columns[idx].Items {
			if in[it.ID] {
				out = append(out, it.ID)
				delete(in, it.ID)
			}
		}
	}
	for _, id := range ids {
		if in[id] {
			out = append(out, id)
		}
	}
	return out
}

func (b *Board) removeFromOrder(mailboxID, itemID string) {
	ids := b.order[mailboxID]
	for i, id := range ids {
		if id == itemID {
			b.order[mailboxID] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}
