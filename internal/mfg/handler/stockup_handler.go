package handler

import (
	"github.com/bitfantasy/halo-mes/internal/mfg/repository"
	"github.com/bitfantasy/halo-mes/internal/mfg/service"
	"github.com/gin-gonic/gin"
)

// StockUpHandler 库存上账接口
type StockUpHandler struct {
	svc *service.StockUpService
}

func NewStockUpHandler(svc *service.StockUpService) *StockUpHandler {
	return &StockUpHandler{svc: svc}
}

// List GET /stock-ups
func (h *StockUpHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	params := repository.StockUpListParams{
		State:    c.Query("state"),
		Page:     page,
		PageSize: pageSize,
	}
	ops, total, err := h.svc.List(c.Request.Context(), params)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, NewListResponse(ops, page, pageSize, total))
}

// Get GET /stock-ups/:docNo
func (h *StockUpHandler) Get(c *gin.Context) {
	op, err := h.svc.Get(c.Request.Context(), c.Param("docNo"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, op)
}

// Retry POST /stock-ups/:docNo/retry
// 只允许失败单重试；复用原单号，不会重复上账
func (h *StockUpHandler) Retry(c *gin.Context) {
	op, err := h.svc.Retry(c.Request.Context(), c.Param("docNo"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, op)
}

// FindBySource GET /stock-ups/by-source
func (h *StockUpHandler) FindBySource(c *gin.Context) {
	sourceType := c.Query("source_type")
	sourceID := c.Query("source_id")
	if sourceType == "" || sourceID == "" {
		BadRequest(c, "source_type and source_id are required")
		return
	}
	ops, err := h.svc.FindBySource(c.Request.Context(), sourceType, sourceID)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, ops)
}
