package entity

import "time"

// 库存上账状态
const (
	StockUpStateCreated   = "CREATED"
	StockUpStateSubmitted = "SUBMITTED"
	StockUpStateCompleted = "COMPLETED"
	StockUpStateFailed    = "FAILED"
)

// 库存上账来源类型
const (
	StockUpSourceOrderSemiProduct = "order_semi_product" // 半成品完工入库
	StockUpSourceOrderProduct     = "order_product"      // 成品完工入库
	StockUpSourceOrderResidue     = "order_residue"      // 余料报废出库
	StockUpSourceGiftPackage      = "gift_package"       // 礼包组装/拆解
)

// StockUpOperation 库存上账单
// 单号是幂等键：重试复用同一单号，外部系统据此去重
type StockUpOperation struct {
	ID          string  `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	DocNumber   string  `json:"doc_number" gorm:"size:50;not null;uniqueIndex"`
	ProductCode string  `json:"product_code" gorm:"size:64;not null"`
	Amount      float64 `json:"amount" gorm:"type:decimal(12,4);not null"` // 负数表示出库

	SourceType string `json:"source_type" gorm:"size:30;not null;index:idx_stockup_source"`
	SourceID   string `json:"source_id" gorm:"size:64;not null;index:idx_stockup_source"`

	State        string `json:"state" gorm:"size:20;not null;default:CREATED;index"`
	ErrorMessage string `json:"error_message" gorm:"type:text"`

	// 外部系统回执单号（提交确认后填写）
	ErpDocNumber string `json:"erp_doc_number" gorm:"size:50"`

	CreatedBy   string     `json:"created_by" gorm:"size:64"`
	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Attempts []StockUpAttempt `json:"attempts,omitempty" gorm:"foreignKey:OperationID"`
}

func (StockUpOperation) TableName() string {
	return "mfg_stock_up_operations"
}

// StockUpAttempt 单次提交记录，保留每轮重试的时间和错误，只写不改
type StockUpAttempt struct {
	ID           string     `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	OperationID  string     `json:"operation_id" gorm:"type:uuid;not null;index"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	Success      bool       `json:"success"`
	ErrorMessage string     `json:"error_message" gorm:"type:text"`
}

func (StockUpAttempt) TableName() string {
	return "mfg_stock_up_attempts"
}
