package domain

import (
	"time"
)

// MailboxStatus 邮箱状态
type MailboxStatus string

const (
	MailboxStatusActive      MailboxStatus = "active"
	MailboxStatusInactive    MailboxStatus = "inactive"
	MailboxStatusFull        MailboxStatus = "full"
	MailboxStatusMaintenance MailboxStatus = "maintenance"
)

// Mailbox 表示收发室中的一个实体邮箱格位。
type Mailbox struct {
	ID                    string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AccountID             string        `json:"accountId" gorm:"type:varchar(36);index;not null"`
	Label                 string        `json:"label" gorm:"type:varchar(8);uniqueIndex;not null"` // 例如 "B7"，全局唯一
	Status                MailboxStatus `json:"status" gorm:"type:varchar(20);default:'active'"`
	MailRemainingSpace    int           `json:"mailRemainingSpace"`    // 还能接收的信件数量
	PackageRemainingSpace int           `json:"packageRemainingSpace"` // 还能接收的包裹数量
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}
