package entity

import (
	"time"

	"gorm.io/datatypes"
)

// 制造类型
const (
	ManufactureTypeSinglePhase = "SINGLE_PHASE" // 单阶段：直接产出成品
	ManufactureTypeMultiPhase  = "MULTI_PHASE"  // 双阶段：先产半成品，再分装成品
)

// 制造订单状态（字符串状态码，允许后续增加状态而无需迁移）
const (
	StateDraft                   = "DRAFT"
	StateSemiProductPlanned      = "SEMI_PRODUCT_PLANNED"
	StateSemiProductManufactured = "SEMI_PRODUCT_MANUFACTURED"
	StateProductPlanned          = "PRODUCT_PLANNED"
	StateProductManufactured     = "PRODUCT_MANUFACTURED"
	StateCompleted               = "COMPLETED"
	StateCancelled               = "CANCELLED"
)

// transitions 合法状态流转表，按制造类型区分
// 单阶段订单跳过半成品状态
var transitions = map[string]map[string][]string{
	ManufactureTypeMultiPhase: {
		StateDraft:                   {StateSemiProductPlanned, StateCancelled},
		StateSemiProductPlanned:      {StateSemiProductManufactured, StateCancelled},
		StateSemiProductManufactured: {StateProductPlanned, StateCancelled},
		StateProductPlanned:          {StateProductManufactured, StateCancelled},
		StateProductManufactured:     {StateCompleted},
	},
	ManufactureTypeSinglePhase: {
		StateDraft:               {StateProductPlanned, StateCancelled},
		StateProductPlanned:      {StateProductManufactured, StateCancelled},
		StateProductManufactured: {StateCompleted},
	},
}

// CanTransition 判断指定制造类型下 from → to 是否在允许表内
func CanTransition(manufactureType, from, to string) bool {
	targets, ok := transitions[manufactureType][from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminalState 终态判断（终态订单不再允许编辑计划字段）
func IsTerminalState(state string) bool {
	return state == StateCompleted || state == StateCancelled
}

// ValidStates 所有已知状态码
func ValidStates() []string {
	return []string{
		StateDraft,
		StateSemiProductPlanned,
		StateSemiProductManufactured,
		StateProductPlanned,
		StateProductManufactured,
		StateCompleted,
		StateCancelled,
	}
}

// ManufactureOrder 制造订单
type ManufactureOrder struct {
	ID              string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	OrderNumber     string `json:"order_number" gorm:"size:50;not null;uniqueIndex"`
	ManufactureType string `json:"manufacture_type" gorm:"size:20;not null"`
	ResponsibleUser string `json:"responsible_user" gorm:"size:64"`

	// 单阶段只用 ProductPlannedDate；双阶段的成品计划日期迁移后可为空
	SemiProductPlannedDate *time.Time `json:"semi_product_planned_date"`
	ProductPlannedDate     *time.Time `json:"product_planned_date"`

	State          string     `json:"state" gorm:"size:40;not null;default:DRAFT;index"`
	StateChangedBy string     `json:"state_changed_by" gorm:"size:64"`
	StateChangedAt *time.Time `json:"state_changed_at"`

	ManualActionRequired bool `json:"manual_action_required" gorm:"default:false"`

	// 外部系统回执（入库单号 + 回写时间）
	ErpSemiProductDocNo string     `json:"erp_semi_product_doc_no" gorm:"size:50"`
	ErpSemiProductDocAt *time.Time `json:"erp_semi_product_doc_at"`
	ErpProductDocNo     string     `json:"erp_product_doc_no" gorm:"size:50"`
	ErpProductDocAt     *time.Time `json:"erp_product_doc_at"`
	ErpDiscardDocNo     string     `json:"erp_discard_doc_no" gorm:"size:50"`
	ErpDiscardDocAt     *time.Time `json:"erp_discard_doc_at"`

	CreatedBy string    `json:"created_by" gorm:"size:64;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SemiProduct *ManufactureOrderSemiProduct `json:"semi_product,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Products    []ManufactureOrderProduct    `json:"products,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Notes       []ManufactureOrderNote       `json:"notes,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (ManufactureOrder) TableName() string {
	return "mfg_orders"
}

// ManufactureOrderSemiProduct 订单半成品行（每单最多一条）
type ManufactureOrderSemiProduct struct {
	ID          string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	OrderID     string `json:"order_id" gorm:"type:uuid;not null;uniqueIndex"`
	ProductCode string `json:"product_code" gorm:"size:64;not null"`
	ProductName string `json:"product_name" gorm:"size:128"`

	PlannedQty float64 `json:"planned_qty" gorm:"type:decimal(12,4);not null"`
	// 实际数量默认等于计划数量，只允许操作员显式覆盖
	ActualQty       float64 `json:"actual_qty" gorm:"type:decimal(12,4);not null"`
	BatchMultiplier float64 `json:"batch_multiplier" gorm:"type:decimal(8,4);default:1.0"`

	LotNumber        string     `json:"lot_number" gorm:"size:50"`
	ExpirationDate   *time.Time `json:"expiration_date"`
	ExpirationMonths int        `json:"expiration_months" gorm:"default:0"` // 按完工日期推算有效期

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ManufactureOrderSemiProduct) TableName() string {
	return "mfg_order_semi_products"
}

// ManufactureOrderProduct 订单成品行
type ManufactureOrderProduct struct {
	ID              string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	OrderID         string `json:"order_id" gorm:"type:uuid;not null;index"`
	ProductCode     string `json:"product_code" gorm:"size:64;not null"`
	ProductName     string `json:"product_name" gorm:"size:128"`
	SemiProductCode string `json:"semi_product_code" gorm:"size:64"` // 来源半成品编码

	PlannedQty float64 `json:"planned_qty" gorm:"type:decimal(12,4);not null"`
	ActualQty  float64 `json:"actual_qty" gorm:"type:decimal(12,4);not null"`

	LotNumber      string     `json:"lot_number" gorm:"size:50"`
	ExpirationDate *time.Time `json:"expiration_date"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ManufactureOrderProduct) TableName() string {
	return "mfg_order_products"
}

// ManufactureOrderNote 订单备注，只增不改不删
type ManufactureOrderNote struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	OrderID   string    `json:"order_id" gorm:"type:uuid;not null;index"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedBy string    `json:"created_by" gorm:"size:64;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (ManufactureOrderNote) TableName() string {
	return "mfg_order_notes"
}

// 审计动作分类
const (
	AuditActionCreate      = "create"
	AuditActionStateChange = "state_change"
	AuditActionFieldEdit   = "field_edit"
	AuditActionNoteAdded   = "note_added"
)

// AuditLogEntry 订单审计日志，逐条记录变更，只写不改
type AuditLogEntry struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	OrderID  string `json:"order_id" gorm:"type:uuid;not null;index:idx_audit_order"`
	Action   string `json:"action" gorm:"size:40;not null"`
	OldValue string `json:"old_value" gorm:"size:256"`
	NewValue string `json:"new_value" gorm:"size:256"`

	Details datatypes.JSON `json:"details,omitempty" gorm:"type:jsonb"` // 字段编辑的明细 {field: {old, new}}

	ChangedBy string    `json:"changed_by" gorm:"size:64;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_audit_order"`
}

func (AuditLogEntry) TableName() string {
	return "mfg_audit_logs"
}
