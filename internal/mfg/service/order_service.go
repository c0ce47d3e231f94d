package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bitfantasy/halo-mes/internal/mfg/entity"
	"github.com/bitfantasy/halo-mes/internal/mfg/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// OrderService 制造订单服务
// 状态流转走固定允许表 + 乐观并发检查；每次成功流转和字段编辑都追加审计记录。
type OrderService struct {
	repo      *repository.OrderRepository
	auditRepo *repository.AuditLogRepository
	stockUp   *StockUpService
	logger    *zap.Logger

	// 计划量与实际量偏差超过该比例时置 ManualActionRequired
	manualActionTolerance float64
}

func NewOrderService(repo *repository.OrderRepository, auditRepo *repository.AuditLogRepository, stockUp *StockUpService, tolerance float64, logger *zap.Logger) *OrderService {
	if tolerance <= 0 {
		tolerance = 0.10
	}
	return &OrderService{
		repo:                  repo,
		auditRepo:             auditRepo,
		stockUp:               stockUp,
		logger:                logger,
		manualActionTolerance: tolerance,
	}
}

// SemiProductLineRequest 半成品行入参
type SemiProductLineRequest struct {
	ProductCode      string  `json:"product_code" binding:"required"`
	ProductName      string  `json:"product_name"`
	PlannedQty       float64 `json:"planned_qty" binding:"required,gt=0"`
	BatchMultiplier  float64 `json:"batch_multiplier"`
	LotNumber        string  `json:"lot_number"`
	ExpirationMonths int     `json:"expiration_months"`
}

// ProductLineRequest 成品行入参
type ProductLineRequest struct {
	ProductCode     string  `json:"product_code" binding:"required"`
	ProductName     string  `json:"product_name"`
	SemiProductCode string  `json:"semi_product_code"`
	PlannedQty      float64 `json:"planned_qty" binding:"required,gt=0"`
	LotNumber       string  `json:"lot_number"`
}

// CreateOrderRequest 创建订单入参
type CreateOrderRequest struct {
	ManufactureType        string                  `json:"manufacture_type" binding:"required"`
	ResponsibleUser        string                  `json:"responsible_user"`
	SemiProductPlannedDate string                  `json:"semi_product_planned_date"` // YYYY-MM-DD
	ProductPlannedDate     string                  `json:"product_planned_date"`
	SemiProduct            *SemiProductLineRequest `json:"semi_product"`
	Products               []ProductLineRequest    `json:"products" binding:"required,min=1"`
}

// Create 创建制造订单
// 所有行的实际数量默认等于计划数量，后续只能由操作员显式覆盖
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest, actor string) (*entity.ManufactureOrder, error) {
	if req.ManufactureType != entity.ManufactureTypeSinglePhase &&
		req.ManufactureType != entity.ManufactureTypeMultiPhase {
		return nil, fmt.Errorf("%w: unknown manufacture type %s", ErrValidation, req.ManufactureType)
	}
	if req.ManufactureType == entity.ManufactureTypeMultiPhase && req.SemiProduct == nil {
		return nil, fmt.Errorf("%w: multi-phase order requires a semi-product line", ErrValidation)
	}

	order := &entity.ManufactureOrder{
		ID: uuid.New().String(),
		// 日期便于人工检索，UUID片段保证同日并发创建不撞号
		OrderNumber:     fmt.Sprintf("MO-%s-%s", time.Now().Format("20060102"), strings.ToUpper(uuid.New().String()[:8])),
		ManufactureType: req.ManufactureType,
		ResponsibleUser: req.ResponsibleUser,
		State:           entity.StateDraft,
		CreatedBy:       actor,
	}
	if req.SemiProductPlannedDate != "" {
		t, err := parsePlanDate(req.SemiProductPlannedDate)
		if err != nil {
			return nil, err
		}
		order.SemiProductPlannedDate = t
	}
	if req.ProductPlannedDate != "" {
		t, err := parsePlanDate(req.ProductPlannedDate)
		if err != nil {
			return nil, err
		}
		order.ProductPlannedDate = t
	}

	if req.SemiProduct != nil {
		multiplier := req.SemiProduct.BatchMultiplier
		if multiplier <= 0 {
			multiplier = 1.0
		}
		order.SemiProduct = &entity.ManufactureOrderSemiProduct{
			ID:               uuid.New().String(),
			OrderID:          order.ID,
			ProductCode:      req.SemiProduct.ProductCode,
			ProductName:      req.SemiProduct.ProductName,
			PlannedQty:       req.SemiProduct.PlannedQty,
			ActualQty:        req.SemiProduct.PlannedQty,
			BatchMultiplier:  multiplier,
			LotNumber:        req.SemiProduct.LotNumber,
			ExpirationMonths: req.SemiProduct.ExpirationMonths,
		}
	}
	for _, p := range req.Products {
		order.Products = append(order.Products, entity.ManufactureOrderProduct{
			ID:              uuid.New().String(),
			OrderID:         order.ID,
			ProductCode:     p.ProductCode,
			ProductName:     p.ProductName,
			SemiProductCode: p.SemiProductCode,
			PlannedQty:      p.PlannedQty,
			ActualQty:       p.PlannedQty,
			LotNumber:       p.LotNumber,
		})
	}

	if err := s.repo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create manufacture order: %w", err)
	}

	s.appendAudit(ctx, order.ID, entity.AuditActionCreate, "", entity.StateDraft, actor, nil)
	return order, nil
}

// Get 查询订单
func (s *OrderService) Get(ctx context.Context, id string) (*entity.ManufactureOrder, error) {
	return s.repo.FindByID(ctx, id)
}

// List 分页查询订单
func (s *OrderService) List(ctx context.Context, params repository.OrderListParams) ([]entity.ManufactureOrder, int64, error) {
	return s.repo.List(ctx, params)
}

// ProductLineUpdate 成品行编辑入参，指针字段表示"操作员未触碰"
type ProductLineUpdate struct {
	ID             string   `json:"id" binding:"required"`
	ActualQty      *float64 `json:"actual_qty"`
	LotNumber      *string  `json:"lot_number"`
	ExpirationDate *string  `json:"expiration_date"` // YYYY-MM-DD
}

// SemiProductLineUpdate 半成品行编辑入参
type SemiProductLineUpdate struct {
	ActualQty      *float64 `json:"actual_qty"`
	LotNumber      *string  `json:"lot_number"`
	ExpirationDate *string  `json:"expiration_date"`
}

// UpdateOrderRequest 编辑订单入参
// 全部为指针：nil 表示不修改，保证未触碰的行保持实际=计划的默认值
type UpdateOrderRequest struct {
	ResponsibleUser        *string                `json:"responsible_user"`
	SemiProductPlannedDate *string                `json:"semi_product_planned_date"`
	ProductPlannedDate     *string                `json:"product_planned_date"`
	SemiProduct            *SemiProductLineUpdate `json:"semi_product"`
	Products               []ProductLineUpdate    `json:"products"`
}

// Update 编辑计划字段和行数据，终态订单拒绝编辑
// 每个被修改的字段记入审计明细
func (s *OrderService) Update(ctx context.Context, id string, req UpdateOrderRequest, actor string) (*entity.ManufactureOrder, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity.IsTerminalState(order.State) {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderTerminal, order.OrderNumber, order.State)
	}

	changes := map[string]interface{}{}
	headerUpdates := map[string]interface{}{}

	if req.ResponsibleUser != nil && *req.ResponsibleUser != order.ResponsibleUser {
		changes["responsible_user"] = map[string]string{"old": order.ResponsibleUser, "new": *req.ResponsibleUser}
		headerUpdates["responsible_user"] = *req.ResponsibleUser
	}
	if req.SemiProductPlannedDate != nil {
		t, perr := parsePlanDate(*req.SemiProductPlannedDate)
		if perr != nil {
			return nil, perr
		}
		changes["semi_product_planned_date"] = map[string]string{"new": *req.SemiProductPlannedDate}
		headerUpdates["semi_product_planned_date"] = *t
	}
	if req.ProductPlannedDate != nil {
		t, perr := parsePlanDate(*req.ProductPlannedDate)
		if perr != nil {
			return nil, perr
		}
		changes["product_planned_date"] = map[string]string{"new": *req.ProductPlannedDate}
		headerUpdates["product_planned_date"] = *t
	}

	if len(headerUpdates) > 0 {
		if err := s.repo.UpdateFields(ctx, order.ID, headerUpdates); err != nil {
			return nil, fmt.Errorf("update order fields: %w", err)
		}
	}

	if req.SemiProduct != nil && order.SemiProduct != nil {
		line := order.SemiProduct
		if req.SemiProduct.ActualQty != nil && *req.SemiProduct.ActualQty != line.ActualQty {
			changes["semi_product.actual_qty"] = map[string]float64{"old": line.ActualQty, "new": *req.SemiProduct.ActualQty}
			line.ActualQty = *req.SemiProduct.ActualQty
		}
		if req.SemiProduct.LotNumber != nil {
			line.LotNumber = *req.SemiProduct.LotNumber
		}
		if req.SemiProduct.ExpirationDate != nil {
			t, perr := parsePlanDate(*req.SemiProduct.ExpirationDate)
			if perr != nil {
				return nil, perr
			}
			line.ExpirationDate = t
		}
		if err := s.repo.UpdateSemiProduct(ctx, line); err != nil {
			return nil, fmt.Errorf("update semi-product line: %w", err)
		}
	}

	for _, upd := range req.Products {
		for i := range order.Products {
			line := &order.Products[i]
			if line.ID != upd.ID {
				continue
			}
			if upd.ActualQty != nil && *upd.ActualQty != line.ActualQty {
				changes["product."+line.ProductCode+".actual_qty"] = map[string]float64{"old": line.ActualQty, "new": *upd.ActualQty}
				line.ActualQty = *upd.ActualQty
			}
			if upd.LotNumber != nil {
				line.LotNumber = *upd.LotNumber
			}
			if upd.ExpirationDate != nil {
				t, perr := parsePlanDate(*upd.ExpirationDate)
				if perr != nil {
					return nil, perr
				}
				line.ExpirationDate = t
			}
			if err := s.repo.UpdateProduct(ctx, line); err != nil {
				return nil, fmt.Errorf("update product line: %w", err)
			}
		}
	}

	if len(changes) > 0 {
		s.appendAudit(ctx, order.ID, entity.AuditActionFieldEdit, "", "", actor, changes)
	}

	return s.repo.FindByID(ctx, id)
}

// RequestTransition 请求状态流转
// expectedCurrent 是乐观并发守卫：与库内状态不符说明另一个操作员已经流转，
// 请求被拒绝且不产生任何写入，调用方需要重新拉取。
func (s *OrderService) RequestTransition(ctx context.Context, orderID, targetState, actor, expectedCurrent string) (*entity.ManufactureOrder, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.State != expectedCurrent {
		return nil, fmt.Errorf("%w: expected %s, order is %s", ErrConcurrencyConflict, expectedCurrent, order.State)
	}
	if !entity.CanTransition(order.ManufactureType, expectedCurrent, targetState) {
		return nil, fmt.Errorf("%w: %s → %s is not allowed for %s orders",
			ErrIllegalTransition, expectedCurrent, targetState, order.ManufactureType)
	}

	manualAction := s.needsManualAction(order, targetState)

	// 原子写入：库内状态必须仍等于 expectedCurrent，审计随状态同事务落库
	audit := newAuditEntry(orderID, entity.AuditActionStateChange, expectedCurrent, targetState, actor, nil)
	err = s.repo.TransitionState(ctx, orderID, expectedCurrent, targetState, actor, manualAction, audit)
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, fmt.Errorf("%w: order was transitioned by another actor", ErrConcurrencyConflict)
		}
		return nil, fmt.Errorf("transition order state: %w", err)
	}

	s.runTransitionSideEffects(ctx, order, targetState, actor)

	s.logger.Info("Manufacture order transitioned",
		zap.String("order_number", order.OrderNumber),
		zap.String("from", expectedCurrent),
		zap.String("to", targetState),
		zap.String("actor", actor))

	return s.repo.FindByID(ctx, orderID)
}

// needsManualAction 判断本次流转是否要求人工介入
// 规则：进入完工状态时计划/实际偏差超过容差；完成时外部回执缺失
func (s *OrderService) needsManualAction(order *entity.ManufactureOrder, targetState string) *bool {
	flag := false
	switch targetState {
	case entity.StateSemiProductManufactured:
		if order.SemiProduct != nil && exceedsTolerance(order.SemiProduct.PlannedQty, order.SemiProduct.ActualQty, s.manualActionTolerance) {
			flag = true
		}
	case entity.StateProductManufactured:
		for _, p := range order.Products {
			if exceedsTolerance(p.PlannedQty, p.ActualQty, s.manualActionTolerance) {
				flag = true
				break
			}
		}
	case entity.StateCompleted:
		if order.ErpProductDocNo == "" {
			flag = true
		}
		if order.ManufactureType == entity.ManufactureTypeMultiPhase && order.ErpSemiProductDocNo == "" {
			flag = true
		}
	default:
		return nil
	}
	return &flag
}

// parsePlanDate 解析 YYYY-MM-DD 日期，格式非法同步拒绝
func parsePlanDate(value string) (*time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", ErrValidation, value)
	}
	return &t, nil
}

// exceedsTolerance 计划/实际偏差是否超过容差比例
func exceedsTolerance(planned, actual, tolerance float64) bool {
	if planned <= 0 {
		return actual != planned
	}
	return math.Abs(actual-planned)/planned > tolerance
}

// runTransitionSideEffects 流转副作用
// 完工状态触发库存上账；半成品完工时按有效期策略推算到期日
func (s *OrderService) runTransitionSideEffects(ctx context.Context, order *entity.ManufactureOrder, targetState, actor string) {
	switch targetState {
	case entity.StateSemiProductManufactured:
		line := order.SemiProduct
		if line == nil {
			return
		}
		if line.ExpirationDate == nil && line.ExpirationMonths > 0 {
			exp := time.Now().AddDate(0, line.ExpirationMonths, 0)
			line.ExpirationDate = &exp
			if err := s.repo.UpdateSemiProduct(ctx, line); err != nil {
				s.logger.Warn("Failed to derive semi-product expiration", zap.Error(err))
			}
		}
		op, err := s.stockUp.Enqueue(ctx, line.ProductCode, line.ActualQty,
			entity.StockUpSourceOrderSemiProduct, order.ID, actor)
		if err != nil {
			s.logger.Error("Failed to enqueue semi-product stock-up",
				zap.String("order_number", order.OrderNumber), zap.Error(err))
			return
		}
		s.stockUp.Dispatch(op.DocNumber)

	case entity.StateProductManufactured:
		// 每条成品行一张上账单，数量取实际数量
		for _, p := range order.Products {
			op, err := s.stockUp.Enqueue(ctx, p.ProductCode, p.ActualQty,
				entity.StockUpSourceOrderProduct, order.ID, actor)
			if err != nil {
				s.logger.Error("Failed to enqueue product stock-up",
					zap.String("order_number", order.OrderNumber),
					zap.String("product_code", p.ProductCode),
					zap.Error(err))
				continue
			}
			s.stockUp.Dispatch(op.DocNumber)
		}
	}
}

// DiscardResidue 余料报废：对完工订单发起一笔负数量上账
func (s *OrderService) DiscardResidue(ctx context.Context, orderID string, amount float64, actor string) (*entity.StockUpOperation, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.State != entity.StateProductManufactured && order.State != entity.StateCompleted {
		return nil, fmt.Errorf("%w: residue discard requires a manufactured order, got %s", ErrInvalidState, order.State)
	}
	if order.SemiProduct == nil {
		return nil, fmt.Errorf("%w: order %s has no semi-product to discard", ErrValidation, order.OrderNumber)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: discard amount must be positive", ErrValidation)
	}

	op, err := s.stockUp.Enqueue(ctx, order.SemiProduct.ProductCode, -amount,
		entity.StockUpSourceOrderResidue, order.ID, actor)
	if err != nil {
		return nil, err
	}
	s.stockUp.Dispatch(op.DocNumber)

	s.appendAudit(ctx, orderID, entity.AuditActionFieldEdit, "", "", actor,
		map[string]interface{}{"residue_discard": map[string]interface{}{"amount": amount, "doc_number": op.DocNumber}})
	return op, nil
}

// AddNote 追加备注；备注不可修改，更正只能再加一条
func (s *OrderService) AddNote(ctx context.Context, orderID, content, actor string) (*entity.ManufactureOrderNote, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: note content is required", ErrValidation)
	}
	if _, err := s.repo.FindByID(ctx, orderID); err != nil {
		return nil, err
	}
	note := &entity.ManufactureOrderNote{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Content:   content,
		CreatedBy: actor,
	}
	if err := s.repo.CreateNote(ctx, note); err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	s.appendAudit(ctx, orderID, entity.AuditActionNoteAdded, "", "", actor, nil)
	return note, nil
}

// ListNotes 备注列表
func (s *OrderService) ListNotes(ctx context.Context, orderID string) ([]entity.ManufactureOrderNote, error) {
	return s.repo.ListNotes(ctx, orderID)
}

// AuditLog 订单审计日志
func (s *OrderService) AuditLog(ctx context.Context, orderID string) ([]entity.AuditLogEntry, error) {
	return s.auditRepo.FindByOrder(ctx, orderID)
}

// newAuditEntry 构造一条审计记录
func newAuditEntry(orderID, action, oldValue, newValue, actor string, details map[string]interface{}) *entity.AuditLogEntry {
	log := &entity.AuditLogEntry{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Action:    action,
		OldValue:  oldValue,
		NewValue:  newValue,
		ChangedBy: actor,
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			log.Details = datatypes.JSON(raw)
		}
	}
	return log
}

// appendAudit 追加审计记录，失败只记日志不阻断主流程
// 状态流转的审计不走这里，而是随状态写入同事务落库
func (s *OrderService) appendAudit(ctx context.Context, orderID, action, oldValue, newValue, actor string, details map[string]interface{}) {
	log := newAuditEntry(orderID, action, oldValue, newValue, actor, details)
	if err := s.auditRepo.Append(ctx, log); err != nil {
		s.logger.Error("Failed to append audit log",
			zap.String("order_id", orderID), zap.String("action", action), zap.Error(err))
	}
}
