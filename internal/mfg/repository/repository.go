package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStaleState 乐观并发冲突：期望状态与库内状态不一致
	ErrStaleState = errors.New("stale state: record was modified by another actor")
)

// Repositories 制造模块仓库集合
type Repositories struct {
	Order       *OrderRepository
	AuditLog    *AuditLogRepository
	StockUp     *StockUpRepository
	GiftPackage *GiftPackageRepository
}

// NewRepositories 创建制造模块仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Order:       NewOrderRepository(db),
		AuditLog:    NewAuditLogRepository(db),
		StockUp:     NewStockUpRepository(db),
		GiftPackage: NewGiftPackageRepository(db),
	}
}
