package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/halo-mes/internal/mfg/entity"
	"gorm.io/gorm"
)

// GiftPackageRepository 礼包记录仓库
type GiftPackageRepository struct {
	db *gorm.DB
}

func NewGiftPackageRepository(db *gorm.DB) *GiftPackageRepository {
	return &GiftPackageRepository{db: db}
}

// Create 创建礼包操作记录（连同组件行）
func (r *GiftPackageRepository) Create(ctx context.Context, log *entity.GiftPackageLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// FindByID 按ID查询
func (r *GiftPackageRepository) FindByID(ctx context.Context, id string) (*entity.GiftPackageLog, error) {
	var log entity.GiftPackageLog
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &log, err
}

// List 按礼包编码查询历史记录
func (r *GiftPackageRepository) List(ctx context.Context, packageCode string, page, pageSize int) ([]entity.GiftPackageLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.GiftPackageLog{})
	if packageCode != "" {
		query = query.Where("package_code = ?", packageCode)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	var logs []entity.GiftPackageLog
	err := query.
		Preload("Items").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&logs).Error
	return logs, total, err
}
