package service

import "errors"

var (
	// ErrQuotaExceeded 请求的邮箱数量超过账户剩余配额
	ErrQuotaExceeded = errors.New("mailbox quota exceeded")
	// ErrPlanNotFound 套餐不存在
	ErrPlanNotFound = errors.New("plan not found")
	// ErrInvalidInput 输入参数不合法
	ErrInvalidInput = errors.New("invalid input")
	// ErrCrossAccountMove 一批迁移涉及多个账户的邮箱
	ErrCrossAccountMove = errors.New("moves span multiple accounts")
	// ErrDedupUnavailable 事件去重存储不可用，非幂等的开通动作不能执行
	ErrDedupUnavailable = errors.New("event dedup unavailable")
	// ErrEventUnidentified 事件缺少 ID，无法去重
	ErrEventUnidentified = errors.New("event has no id")
)
