package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/halo-mes/internal/mfg/entity"
	"gorm.io/gorm"
)

// StockUpRepository 库存上账仓库
type StockUpRepository struct {
	db *gorm.DB
}

func NewStockUpRepository(db *gorm.DB) *StockUpRepository {
	return &StockUpRepository{db: db}
}

// Create 创建上账单
func (r *StockUpRepository) Create(ctx context.Context, op *entity.StockUpOperation) error {
	return r.db.WithContext(ctx).Create(op).Error
}

// FindByDocNumber 按单号查询，带提交历史
func (r *StockUpRepository) FindByDocNumber(ctx context.Context, docNumber string) (*entity.StockUpOperation, error) {
	var op entity.StockUpOperation
	err := r.db.WithContext(ctx).
		Preload("Attempts", func(db *gorm.DB) *gorm.DB { return db.Order("started_at ASC") }).
		Where("doc_number = ?", docNumber).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &op, err
}

// FindBySource 查询某个生产事件产生的全部上账单
func (r *StockUpRepository) FindBySource(ctx context.Context, sourceType, sourceID string) ([]entity.StockUpOperation, error) {
	var ops []entity.StockUpOperation
	err := r.db.WithContext(ctx).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		Order("created_at ASC").
		Find(&ops).Error
	return ops, err
}

// StockUpListParams 上账单列表过滤参数
type StockUpListParams struct {
	State    string
	Page     int
	PageSize int
}

// List 分页查询上账单
func (r *StockUpRepository) List(ctx context.Context, params StockUpListParams) ([]entity.StockUpOperation, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.StockUpOperation{})
	if params.State != "" {
		query = query.Where("state = ?", params.State)
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

	var ops []entity.StockUpOperation
	err := query.
		Order("created_at DESC").
		Offset((params.Page - 1) * params.PageSize).
		Limit(params.PageSize).
		Find(&ops).Error
	return ops, total, err
}

// TransitionState 原子状态流转：库内状态必须在 allowedFrom 内才写入
// 提交与重试竞争时只有一方能赢，输的一方拿到 ErrStaleState
func (r *StockUpRepository) TransitionState(ctx context.Context, docNumber string, allowedFrom []string, target string, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"state":      target,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).
		Model(&entity.StockUpOperation{}).
		Where("doc_number = ? AND state IN ?", docNumber, allowedFrom).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

// CreateAttempt 记录一次提交（历史只增不改）
func (r *StockUpRepository) CreateAttempt(ctx context.Context, attempt *entity.StockUpAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

// FinishAttempt 回填一次提交的结束时间和结果
func (r *StockUpRepository) FinishAttempt(ctx context.Context, attemptID string, success bool, errMsg string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&entity.StockUpAttempt{}).
		Where("id = ?", attemptID).
		Updates(map[string]interface{}{
			"finished_at":   now,
			"success":       success,
			"error_message": errMsg,
		}).Error
}
