package handler

import (
	"github.com/bitfantasy/halo-mes/internal/mfg/repository"
	"github.com/bitfantasy/halo-mes/internal/mfg/service"
	"github.com/gin-gonic/gin"
)

// OrderHandler 制造订单接口
type OrderHandler struct {
	svc *service.OrderService
}

func NewOrderHandler(svc *service.OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// Create POST /orders
func (h *OrderHandler) Create(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	order, err := h.svc.Create(c.Request.Context(), req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, order)
}

// Get GET /orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	order, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, order)
}

// List GET /orders
func (h *OrderHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	params := repository.OrderListParams{
		State:           c.Query("state"),
		ManufactureType: c.Query("manufacture_type"),
		Keyword:         c.Query("keyword"),
		Page:            page,
		PageSize:        pageSize,
	}
	orders, total, err := h.svc.List(c.Request.Context(), params)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, NewListResponse(orders, page, pageSize, total))
}

// Update PUT /orders/:id
func (h *OrderHandler) Update(c *gin.Context) {
	var req service.UpdateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	order, err := h.svc.Update(c.Request.Context(), c.Param("id"), req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, order)
}

// TransitionRequest 状态流转入参
type TransitionRequest struct {
	TargetState   string `json:"target_state" binding:"required"`
	ExpectedState string `json:"expected_state" binding:"required"`
	Justification string `json:"justification"`
}

// Transition PUT /orders/:id/status
func (h *OrderHandler) Transition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	actor := GetUserID(c)
	order, err := h.svc.RequestTransition(c.Request.Context(), c.Param("id"),
		req.TargetState, actor, req.ExpectedState)
	if err != nil {
		ServiceError(c, err)
		return
	}
	if req.Justification != "" {
		// 流转理由作为备注保留
		h.svc.AddNote(c.Request.Context(), order.ID, req.Justification, actor)
	}
	Success(c, order)
}

// NoteRequest 备注入参
type NoteRequest struct {
	Content string `json:"content" binding:"required"`
}

// AddNote POST /orders/:id/notes
func (h *OrderHandler) AddNote(c *gin.Context) {
	var req NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	note, err := h.svc.AddNote(c.Request.Context(), c.Param("id"), req.Content, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, note)
}

// ListNotes GET /orders/:id/notes
func (h *OrderHandler) ListNotes(c *gin.Context) {
	notes, err := h.svc.ListNotes(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, notes)
}

// AuditLog GET /orders/:id/audit-log
func (h *OrderHandler) AuditLog(c *gin.Context) {
	entries, err := h.svc.AuditLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, entries)
}

// DiscardResidueRequest 余料报废入参
type DiscardResidueRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// DiscardResidue POST /orders/:id/discard-residue
func (h *OrderHandler) DiscardResidue(c *gin.Context) {
	var req DiscardResidueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	op, err := h.svc.DiscardResidue(c.Request.Context(), c.Param("id"), req.Amount, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, op)
}
