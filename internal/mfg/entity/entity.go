package entity

import "gorm.io/gorm"

// AutoMigrate 自动迁移所有制造模块表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// 制造订单
		&ManufactureOrder{},
		&ManufactureOrderSemiProduct{},
		&ManufactureOrderProduct{},
		&ManufactureOrderNote{},
		&AuditLogEntry{},

		// 库存上账
		&StockUpOperation{},
		&StockUpAttempt{},

		// 礼包
		&GiftPackageLog{},
		&GiftPackageItem{},
	)
}
