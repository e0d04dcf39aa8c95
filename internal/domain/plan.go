package domain

import "time"

// Plan 订阅套餐，决定邮箱容量上限与可开通邮箱数量
type Plan struct {
	ID                 string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name               string    `json:"name" gorm:"type:varchar(100);not null"`
	PriceCents         int64     `json:"priceCents"`
	MaxMailItems       int       `json:"maxMailItems"`       // 单个邮箱可放置的信件上限
	MaxPackageItems    int       `json:"maxPackageItems"`    // 单个邮箱可放置的包裹上限
	MailboxAccessQuota int       `json:"mailboxAccessQuota"` // 套餐允许开通的邮箱数量
	DurationDays       int       `json:"durationDays"`       // 订阅时长（天）
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Duration 返回套餐订阅时长
func (p *Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// Limits 返回套餐的容量上限
func (p *Plan) Limits() PlanLimits {
	return PlanLimits{
		MaxMailItems:    p.MaxMailItems,
		MaxPackageItems: p.MaxPackageItems,
	}
}

// PlanLimits 单个邮箱按类型划分的容量上限
type PlanLimits struct {
	MaxMailItems    int `json:"maxMailItems"`
	MaxPackageItems int `json:"maxPackageItems"`
}

// For 返回指定物品类型的上限
func (l PlanLimits) For(t ItemType) int {
	switch t {
	case ItemTypePackage:
		return l.MaxPackageItems
	default:
		return l.MaxMailItems
	}
}

// DefaultPlans 返回系统内置套餐，启动时写入存储
func DefaultPlans() []Plan {
	return []Plan{
		{
			ID:                 "basic",
			Name:               "Basic",
			PriceCents:         49900,
			MaxMailItems:       10,
			MaxPackageItems:    2,
			MailboxAccessQuota: 1,
			DurationDays:       30,
		},
		{
			ID:                 "standard",
			Name:               "Standard",
			PriceCents:         99900,
			MaxMailItems:       25,
			MaxPackageItems:    5,
			MailboxAccessQuota: 3,
			DurationDays:       30,
		},
		{
			ID:                 "business",
			Name:               "Business",
			PriceCents:         249900,
			MaxMailItems:       60,
			MaxPackageItems:    15,
			MailboxAccessQuota: 10,
			DurationDays:       90,
		},
	}
}
