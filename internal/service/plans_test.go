package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage/memory"
)

func TestEnsureDefaultPlans(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	custom := domain.Plan{ID: "basic", Name: "Custom Basic", MaxMailItems: 99, MailboxAccessQuota: 1}
	require.NoError(t, store.SavePlan(ctx, &custom))

	created, err := EnsureDefaultPlans(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, len(domain.DefaultPlans())-1, created)

	basic, err := store.GetPlan(ctx, "basic")
	require.NoError(t, err)
	assert.Equal(t, 99, basic.MaxMailItems, "已有套餐不被覆盖")

	created, err = EnsureDefaultPlans(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, created)
}
