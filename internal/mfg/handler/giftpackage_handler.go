package handler

import (
	"github.com/bitfantasy/halo-mes/internal/mfg/service"
	"github.com/gin-gonic/gin"
)

// GiftPackageHandler 礼包组装/拆解接口
type GiftPackageHandler struct {
	svc *service.GiftPackageService
}

func NewGiftPackageHandler(svc *service.GiftPackageService) *GiftPackageHandler {
	return &GiftPackageHandler{svc: svc}
}

// Create POST /gift-packages
func (h *GiftPackageHandler) Create(c *gin.Context) {
	var req service.CreateGiftPackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	log, err := h.svc.Create(c.Request.Context(), req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, log)
}

// Get GET /gift-packages/:id
func (h *GiftPackageHandler) Get(c *gin.Context) {
	log, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, log)
}

// List GET /gift-packages
func (h *GiftPackageHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	logs, total, err := h.svc.List(c.Request.Context(), c.Query("package_code"), page, pageSize)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, NewListResponse(logs, page, pageSize, total))
}
