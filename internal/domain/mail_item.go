package domain

import "time"

// ItemType 邮件物品类型
type ItemType string

const (
	ItemTypeMail    ItemType = "mail"
	ItemTypePackage ItemType = "package"
)

// Valid 判断物品类型是否合法
func (t ItemType) Valid() bool {
	return t == ItemTypeMail || t == ItemTypePackage
}

// ItemStatus 物品状态（扫描、取件、销毁流程由外部维护）
type ItemStatus string

const (
	ItemStatusReceived  ItemStatus = "received"
	ItemStatusScanned   ItemStatus = "scanned"
	ItemStatusRetrieved ItemStatus = "retrieved"
	ItemStatusDisposed  ItemStatus = "disposed"
)

// MailItem 已入库的信件或包裹，同一时刻只属于一个邮箱
type MailItem struct {
	ID        string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxID string     `json:"mailboxId" gorm:"type:varchar(36);index;not null"`
	Type      ItemType   `json:"type" gorm:"type:varchar(20);not null"`
	Status    ItemStatus `json:"status" gorm:"type:varchar(20);default:'received'"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ItemMove 一次物品重新归属：把 ItemID 移动到 MailboxID
type ItemMove struct {
	ItemID    string `json:"itemId" binding:"required"`
	MailboxID string `json:"mailboxId" binding:"required"`
}
