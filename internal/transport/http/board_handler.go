package httptransport

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/service"
)

// BoardHandler 看板快照与批量移动接口
type BoardHandler struct {
	relocation *service.RelocationService
}

// NewBoardHandler 创建看板处理器
func NewBoardHandler(relocation *service.RelocationService) *BoardHandler {
	return &BoardHandler{relocation: relocation}
}

type relocateRequest struct {
	Moves []domain.ItemMove `json:"moves" binding:"required,min=1,dive"`
}

func (h *BoardHandler) snapshot(c *gin.Context) {
	snap, err := h.relocation.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, snap)
}

func (h *BoardHandler) relocate(c *gin.Context) {
	var req relocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			BadRequest(c, MsgRequestBodyEmpty)
		case req.Moves != nil && len(req.Moves) == 0:
			BadRequest(c, MsgMovesRequired)
		default:
			BadRequest(c, MsgInvalidRequest)
		}
		return
	}

	if err := h.relocation.RelocateItems(c.Request.Context(), req.Moves); err != nil {
		RespondError(c, err)
		return
	}
	SuccessWithMsg(c, "移动成功", gin.H{"moved": len(req.Moves)})
}
