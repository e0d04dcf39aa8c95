package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/lock"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/storage/memory"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, plans ...domain.Plan) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	if len(plans) == 0 {
		plans = domain.DefaultPlans()
	}
	for i := range plans {
		require.NoError(t, store.SavePlan(context.Background(), &plans[i]))
	}
	return store
}

func newTestProvisioning(t *testing.T, store *memory.Store) *ProvisioningService {
	t.Helper()
	svc := NewProvisioningService(store, lock.NewKeyedMutex(), monitoring.NewMetrics(), nil)
	svc.SetClock(func() time.Time { return fixedNow })
	return svc
}
