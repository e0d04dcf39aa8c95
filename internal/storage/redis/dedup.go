package redis

import (
	"context"
	"fmt"
	"time"

	"mailroom/backend/internal/domain"
)

const dedupKeyPrefix = "mailroom:event:"

// EventDeduplicator 使用 SETNX 记录已处理的支付事件，键在 TTL 后过期
type EventDeduplicator struct {
	client *Client
	ttl    time.Duration
}

// NewEventDeduplicator 创建 Redis 事件去重器
func NewEventDeduplicator(client *Client, ttl time.Duration) *EventDeduplicator {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &EventDeduplicator{client: client, ttl: ttl}
}

// ClaimEvent 首次登记事件时返回 true
func (d *EventDeduplicator) ClaimEvent(ctx context.Context, event *domain.ProcessedEvent) (bool, error) {
	if event.EventID == "" {
		return false, fmt.Errorf("event id is required")
	}
	value := string(event.Action)
	if value == "" {
		value = event.EventType
	}
	ok, err := d.client.rdb.SetNX(ctx, dedupKeyPrefix+event.EventID, value, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", event.EventID, err)
	}
	return ok, nil
}

// ReleaseEvent 删除事件登记
func (d *EventDeduplicator) ReleaseEvent(ctx context.Context, eventID string) error {
	return d.client.rdb.Del(ctx, dedupKeyPrefix+eventID).Err()
}
