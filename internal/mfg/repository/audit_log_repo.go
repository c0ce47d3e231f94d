package repository

import (
	"context"

	"github.com/bitfantasy/halo-mes/internal/mfg/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLogRepository 审计日志仓库
// 只提供写入和查询，没有更新/删除：历史不可篡改
type AuditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Append 追加一条审计记录
func (r *AuditLogRepository) Append(ctx context.Context, log *entity.AuditLogEntry) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// FindByOrder 按订单查询审计记录，时间正序
func (r *AuditLogRepository) FindByOrder(ctx context.Context, orderID string) ([]entity.AuditLogEntry, error) {
	var entries []entity.AuditLogEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

// CountByOrder 订单审计记录数
func (r *AuditLogRepository) CountByOrder(ctx context.Context, orderID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&entity.AuditLogEntry{}).
		Where("order_id = ?", orderID).
		Count(&total).Error
	return total, err
}
