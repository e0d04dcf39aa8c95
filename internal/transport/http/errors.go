package httptransport

import (
	"errors"
	"net/http"

	"mailroom/backend/internal/board"
	"mailroom/backend/internal/capacity"
	"mailroom/backend/internal/gateway"
	"mailroom/backend/internal/service"
	"mailroom/backend/internal/storage"
)

type errorMapping struct {
	err    error
	status int
	msg    string
}

// 错误映射表（业务错误 -> 状态码与中文消息），按顺序匹配
var errorMappings = []errorMapping{
	// 容量
	{capacity.ErrCapacityExceeded, http.StatusConflict, "目标邮箱容量不足"},
	{capacity.ErrUnknownItem, http.StatusNotFound, "物品不存在"},
	{capacity.ErrUnknownMailbox, http.StatusNotFound, "邮箱不存在"},

	// 存储
	{storage.ErrAccountNotFound, http.StatusNotFound, "账户不存在"},
	{storage.ErrMailboxNotFound, http.StatusNotFound, "邮箱不存在"},
	{storage.ErrItemNotFound, http.StatusNotFound, "物品不存在"},
	{storage.ErrPlanNotFound, http.StatusNotFound, "套餐不存在"},
	{storage.ErrLabelTaken, http.StatusConflict, "邮箱编号已被占用"},
	{storage.ErrAccountExists, http.StatusConflict, "账户已存在"},

	// 业务
	{service.ErrPlanNotFound, http.StatusNotFound, "套餐不存在"},
	{service.ErrQuotaExceeded, http.StatusConflict, "可开通邮箱数量不足"},
	{service.ErrInvalidInput, http.StatusBadRequest, MsgInvalidRequest},
	{service.ErrCrossAccountMove, http.StatusBadRequest, "不能在不同账户的邮箱之间移动物品"},

	// 网关
	{gateway.ErrMalformedPayload, http.StatusBadRequest, MsgInvalidJSON},
	{gateway.ErrSignatureInvalid, http.StatusUnauthorized, "签名校验失败"},
	{gateway.ErrMetadataInvalid, http.StatusBadRequest, "支付元数据无效"},

	// 看板
	{board.ErrSaveInProgress, http.StatusConflict, "正在保存，请稍后"},
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if m, ok := lookup(err); ok {
		return m.msg
	}
	return err.Error()
}

// StatusOf 返回业务错误对应的 HTTP 状态码，未知错误为 500
func StatusOf(err error) int {
	if m, ok := lookup(err); ok {
		return m.status
	}
	return http.StatusInternalServerError
}

func lookup(err error) (errorMapping, bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m, true
		}
	}
	return errorMapping{}, false
}

// 通用错误消息
const (
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidJSON      = "JSON格式错误"
	MsgRequestBodyEmpty = "请求体不能为空"
	MsgMovesRequired    = "至少需要一条移动"

	MsgBoardGetFailed = "获取看板失败"
	MsgRelocateFailed = "移动物品失败"

	MsgInternalError = "服务器内部错误，请稍后重试"
)
