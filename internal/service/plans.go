package service

import (
	"context"
	"errors"
	"fmt"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

// EnsureDefaultPlans 写入缺失的内置套餐，已存在的套餐保持不变。返回新写入的数量
func EnsureDefaultPlans(ctx context.Context, repo storage.PlanRepository) (int, error) {
	created := 0
	plans := domain.DefaultPlans()
	for i := range plans {
		_, err := repo.GetPlan(ctx, plans[i].ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrPlanNotFound) {
			return created, fmt.Errorf("lookup plan %s: %w", plans[i].ID, err)
		}
		if err := repo.SavePlan(ctx, &plans[i]); err != nil {
			return created, fmt.Errorf("seed plan %s: %w", plans[i].ID, err)
		}
		created++
	}
	return created, nil
}
