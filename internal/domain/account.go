package domain

import "time"

// SubscriptionStatus 订阅状态
type SubscriptionStatus string

const (
	SubscriptionNone    SubscriptionStatus = "none"
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// Account 表示一个订阅账户，首次支付成功时创建
type Account struct {
	ID                     string             `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID                 string             `json:"userId" gorm:"type:varchar(64);uniqueIndex;not null"`
	PlanID                 string             `json:"planId" gorm:"type:varchar(36);index"`
	SubscriptionStatus     SubscriptionStatus `json:"subscriptionStatus" gorm:"type:varchar(20);default:'none';index"`
	SubscriptionEndsAt     *time.Time         `json:"subscriptionEndsAt,omitempty"`
	RemainingMailboxAccess int                `json:"remainingMailboxAccess"` // 剩余可开通邮箱数量
	LocationKey            string             `json:"locationKey" gorm:"type:varchar(100)"`
	Referral               string             `json:"referral,omitempty" gorm:"type:varchar(100)"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// IsActive 判断订阅在指定时间点是否有效
func (a *Account) IsActive(now time.Time) bool {
	if a.SubscriptionStatus != SubscriptionActive {
		return false
	}
	return a.SubscriptionEndsAt == nil || a.SubscriptionEndsAt.After(now)
}
