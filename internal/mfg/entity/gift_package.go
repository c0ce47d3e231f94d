package entity

import "time"

// 礼包操作类型
const (
	GiftPackageOpAssembly    = "ASSEMBLY"    // 组装：消耗组件，产出礼包
	GiftPackageOpDisassembly = "DISASSEMBLY" // 拆解：消耗礼包，退回组件
)

// GiftPackageLog 礼包组装/拆解记录
// 完成后通过库存上账流程同步到外部系统，来源类型为 gift_package
type GiftPackageLog struct {
	ID            string  `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	OperationType string  `json:"operation_type" gorm:"size:20;not null"`
	PackageCode   string  `json:"package_code" gorm:"size:64;not null;index"`
	PackageName   string  `json:"package_name" gorm:"size:128"`
	Quantity      float64 `json:"quantity" gorm:"type:decimal(12,4);not null"`

	CreatedBy string    `json:"created_by" gorm:"size:64;not null"`
	CreatedAt time.Time `json:"created_at"`

	Items []GiftPackageItem `json:"items,omitempty" gorm:"foreignKey:LogID;constraint:OnDelete:CASCADE"`
}

func (GiftPackageLog) TableName() string {
	return "mfg_gift_package_logs"
}

// GiftPackageItem 礼包组件行
type GiftPackageItem struct {
	ID          string  `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	LogID       string  `json:"log_id" gorm:"type:uuid;not null;index"`
	ProductCode string  `json:"product_code" gorm:"size:64;not null"`
	ProductName string  `json:"product_name" gorm:"size:128"`
	QtyPerUnit  float64 `json:"qty_per_unit" gorm:"type:decimal(12,4);not null"` // 每个礼包消耗数量
}

func (GiftPackageItem) TableName() string {
	return "mfg_gift_package_items"
}
