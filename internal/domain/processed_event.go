package domain

import "time"

// ProvisioningAction 支付事件最终触发的开通动作
type ProvisioningAction string

const (
	ActionAddMailboxes       ProvisioningAction = "mailbox_addition"
	ActionCreateSubscription ProvisioningAction = "subscription_creation"
	ActionChangePlan         ProvisioningAction = "plan_change"
	ActionNone               ProvisioningAction = "none"
)

// ProcessedEvent 已处理的支付网关事件，用于事件级去重
type ProcessedEvent struct {
	EventID     string             `json:"eventId" gorm:"primaryKey;type:varchar(100)"`
	EventType   string             `json:"eventType" gorm:"type:varchar(100)"`
	Action      ProvisioningAction `json:"action" gorm:"type:varchar(40)"`
	ProcessedAt time.Time          `json:"processedAt"`
}
