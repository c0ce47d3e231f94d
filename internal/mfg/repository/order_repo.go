package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/halo-mes/internal/mfg/entity"
	"gorm.io/gorm"
)

// OrderRepository 制造订单仓库
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create 创建订单（连同半成品行/成品行）
func (r *OrderRepository) Create(ctx context.Context, order *entity.ManufactureOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// FindByID 按ID查询，预载所有行和备注
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*entity.ManufactureOrder, error) {
	var order entity.ManufactureOrder
	err := r.db.WithContext(ctx).
		Preload("SemiProduct").
		Preload("Products").
		Preload("Notes", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &order, err
}

// FindByOrderNumber 按订单号查询
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, number string) (*entity.ManufactureOrder, error) {
	var order entity.ManufactureOrder
	err := r.db.WithContext(ctx).
		Preload("SemiProduct").
		Preload("Products").
		Where("order_number = ?", number).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &order, err
}

// OrderListParams 订单列表过滤参数
type OrderListParams struct {
	State           string
	ManufactureType string
	Keyword         string
	Page            int
	PageSize        int
}

// List 分页查询订单
func (r *OrderRepository) List(ctx context.Context, params OrderListParams) ([]entity.ManufactureOrder, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.ManufactureOrder{})
	if params.State != "" {
		query = query.Where("state = ?", params.State)
	}
	if params.ManufactureType != "" {
		query = query.Where("manufacture_type = ?", params.ManufactureType)
	}
	if params.Keyword != "" {
		kw := "%" + params.Keyword + "%"
		query = query.Where("order_number ILIKE ? OR responsible_user ILIKE ?", kw, kw)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 20
	}

	var orders []entity.ManufactureOrder
	err := query.
		Preload("Products").
		Order("created_at DESC").
		Offset((params.Page - 1) * params.PageSize).
		Limit(params.PageSize).
		Find(&orders).Error
	return orders, total, err
}

// TransitionState 原子状态流转：只有库内状态仍等于 expectedState 时才写入
// 状态写入和审计记录在同一事务内，成功流转必然恰好落一条审计
// 返回 ErrStaleState 表示另一个操作员已经抢先流转
func (r *OrderRepository) TransitionState(ctx context.Context, orderID, expectedState, targetState, actor string, manualAction *bool, audit *entity.AuditLogEntry) error {
	now := time.Now()
	updates := map[string]interface{}{
		"state":            targetState,
		"state_changed_by": actor,
		"state_changed_at": now,
		"updated_at":       now,
	}
	if manualAction != nil {
		updates["manual_action_required"] = *manualAction
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Model(&entity.ManufactureOrder{}).
			Where("id = ? AND state = ?", orderID, expectedState).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStaleState
		}
		if audit != nil {
			return tx.Create(audit).Error
		}
		return nil
	})
}

// UpdateFields 更新订单头字段
func (r *OrderRepository) UpdateFields(ctx context.Context, orderID string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&entity.ManufactureOrder{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

// UpdateSemiProduct 更新半成品行
func (r *OrderRepository) UpdateSemiProduct(ctx context.Context, line *entity.ManufactureOrderSemiProduct) error {
	return r.db.WithContext(ctx).Save(line).Error
}

// UpdateProduct 更新成品行
func (r *OrderRepository) UpdateProduct(ctx context.Context, line *entity.ManufactureOrderProduct) error {
	return r.db.WithContext(ctx).Save(line).Error
}

// CreateNote 追加订单备注（备注只增不改）
func (r *OrderRepository) CreateNote(ctx context.Context, note *entity.ManufactureOrderNote) error {
	return r.db.WithContext(ctx).Create(note).Error
}

// ListNotes 按时间顺序返回订单备注
func (r *OrderRepository) ListNotes(ctx context.Context, orderID string) ([]entity.ManufactureOrderNote, error) {
	var notes []entity.ManufactureOrderNote
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&notes).Error
	return notes, err
}

// DB 返回底层db用于事务
func (r *OrderRepository) DB() *gorm.DB {
	return r.db
}
