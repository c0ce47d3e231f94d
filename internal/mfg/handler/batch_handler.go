package handler

import (
	"errors"

	"github.com/bitfantasy/halo-mes/internal/mfg/planner"
	"github.com/bitfantasy/halo-mes/internal/mfg/service"
	"github.com/gin-gonic/gin"
)

// BatchHandler 批次排产接口
type BatchHandler struct {
	svc *service.BatchService
}

func NewBatchHandler(svc *service.BatchService) *BatchHandler {
	return &BatchHandler{svc: svc}
}

// CalculatePlan POST /batch/calculate-plan
// 计算结果不落库，由操作员决定是否据此创建制造订单
func (h *BatchHandler) CalculatePlan(c *gin.Context) {
	var req planner.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	plan, err := h.svc.CalculatePlan(req)
	if err != nil {
		if errors.Is(err, planner.ErrInvalidSemiproduct) {
			BadRequest(c, err.Error())
			return
		}
		InternalError(c, err.Error())
		return
	}
	Success(c, plan)
}

// ExportPlan POST /batch/export-plan
func (h *BatchHandler) ExportPlan(c *gin.Context) {
	var req planner.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	url, err := h.svc.ExportPlan(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, planner.ErrInvalidSemiproduct) {
			BadRequest(c, err.Error())
			return
		}
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"download_url": url})
}
