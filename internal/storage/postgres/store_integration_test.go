package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

// newIntegrationStore 需要设置 MAILROOM_TEST_DATABASE_DSN（PostgreSQL）才会运行
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("MAILROOM_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("MAILROOM_TEST_DATABASE_DSN not set, skipping integration test")
	}

	store, err := New(&config.DatabaseConfig{
		Type:            "postgres",
		DSN:             dsn,
		MaxOpenConns:    5,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_ProvisioningRoundTrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	accountID := uuid.NewString()
	account := &domain.Account{
		ID:                     accountID,
		UserID:                 "it-" + accountID,
		PlanID:                 "basic",
		SubscriptionStatus:     domain.SubscriptionActive,
		RemainingMailboxAccess: 1,
	}
	// 使用随机编号避免与其他测试数据冲突
	label := "Z" + accountID[:6]
	mailboxes := []domain.Mailbox{{ID: uuid.NewString(), AccountID: accountID, Label: label}}

	require.NoError(t, store.CreateAccount(ctx, account, mailboxes))
	assert.ErrorIs(t, store.CreateAccount(ctx, &domain.Account{ID: uuid.NewString(), UserID: account.UserID}, nil), storage.ErrAccountExists)

	got, err := store.GetAccountByUserID(ctx, account.UserID)
	require.NoError(t, err)
	assert.Equal(t, accountID, got.ID)

	err = store.AddMailboxes(ctx, account, []domain.Mailbox{{ID: uuid.NewString(), AccountID: accountID, Label: label}})
	assert.ErrorIs(t, err, storage.ErrLabelTaken)
}

func TestStore_ClaimEvent(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	eventID := "evt_" + uuid.NewString()
	ok, err := store.ClaimEvent(ctx, &domain.ProcessedEvent{EventID: eventID})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ClaimEvent(ctx, &domain.ProcessedEvent{EventID: eventID})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.ReleaseEvent(ctx, eventID))
}
