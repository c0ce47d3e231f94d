// Package planner 批次排产计算器
// 纯函数实现：相同输入得到相同输出，不访问数据库，不产生副作用。
// 计算结果仅作为建议，由调用方决定是否落地为制造订单。
package planner

import (
	"errors"
	"math"
)

// 控制模式：决定每个产品的原始需求如何推导
const (
	ModeMmqMultiplier      = "MMQ_MULTIPLIER"       // 产品MMQ × 操作员给定倍数
	ModeTotalWeight        = "TOTAL_WEIGHT"         // 固定总重量，按销量权重分摊
	ModeTargetDaysCoverage = "TARGET_DAYS_COVERAGE" // 目标覆盖天数 × 日消耗 − 现有库存
)

// UnboundedCoverage 日消耗为0时的覆盖天数哨兵值
const UnboundedCoverage float64 = -1

// ErrInvalidSemiproduct 半成品信息缺失或非法，整个计算无法进行
var ErrInvalidSemiproduct = errors.New("semiproduct info missing or invalid")

// SemiproductInfo 半成品信息
type SemiproductInfo struct {
	ProductCode    string  `json:"product_code"`
	ProductName    string  `json:"product_name"`
	AvailableStock float64 `json:"available_stock"` // 现有半成品库存（克）
	BatchSize      float64 `json:"batch_size"`      // 单锅产出（克）
	MinimalQty     float64 `json:"minimal_qty"`     // 半成品MMQ（克）
}

// ProductInput 参与排产的成品
type ProductInput struct {
	ProductCode   string  `json:"product_code"`
	ProductName   string  `json:"product_name"`
	CurrentStock  float64 `json:"current_stock"`
	DailySales    float64 `json:"daily_sales"`    // 日均消耗，兼作 TotalWeight 模式的分摊权重
	UnitWeight    float64 `json:"unit_weight"`    // 每件消耗半成品克数
	Mmq           float64 `json:"mmq"`            // 最小生产量，MmqMultiplier 模式必填
	SizeIncrement float64 `json:"size_increment"` // 包装递增量，0 表示无约束
}

// Request 一次排产计算的输入
type Request struct {
	Semiproduct        *SemiproductInfo `json:"semiproduct"`
	Products           []ProductInput   `json:"products"`
	Mode               string           `json:"mode"`
	MmqMultiplier      float64          `json:"mmq_multiplier"`
	TotalWeight        float64          `json:"total_weight"`
	TargetDaysCoverage float64          `json:"target_days_coverage"`
}

// PlanItem 单个产品的排产建议
type PlanItem struct {
	ProductCode    string  `json:"product_code"`
	ProductName    string  `json:"product_name"`
	CurrentStock   float64 `json:"current_stock"`
	DailySales     float64 `json:"daily_sales"`
	RecommendedQty float64 `json:"recommended_qty"`
	SemiproductQty float64 `json:"semiproduct_qty"` // 消耗半成品克数
	CoverageDays   float64 `json:"coverage_days"`   // 日消耗为0时为 UnboundedCoverage
	Utilization    float64 `json:"utilization"`     // 占总产能比例
}

// Summary 排产汇总
type Summary struct {
	Mode                     string   `json:"mode"`
	BatchSize                float64  `json:"batch_size"`
	BatchCount               int      `json:"batch_count"`
	TotalSemiproductRequired float64  `json:"total_semiproduct_required"`
	SemiproductToManufacture float64  `json:"semiproduct_to_manufacture"` // ≥ 半成品MMQ
	AvailableSemiproduct     float64  `json:"available_semiproduct"`
	Leftover                 float64  `json:"leftover"` // 产出减消耗的剩余
	ScaledToSingleBatch      bool     `json:"scaled_to_single_batch"`
	UnconfiguredProducts     []string `json:"unconfigured_products"`
}

// Plan 排产计算结果，仅存在于一次调用的生命周期内
type Plan struct {
	Items   []PlanItem `json:"items"`
	Summary Summary    `json:"summary"`
}

// CalculatePlan 执行批次排产计算
// 半成品信息非法是唯一的致命错误；单个产品配置缺失只作为警告，
// 该产品被排除但其余产品的计算照常进行。
func CalculatePlan(req Request) (*Plan, error) {
	if req.Semiproduct == nil || req.Semiproduct.BatchSize <= 0 {
		return nil, ErrInvalidSemiproduct
	}
	sp := req.Semiproduct

	unconfigured := []string{}
	configured := make([]ProductInput, 0, len(req.Products))
	for _, p := range req.Products {
		if !isConfigured(p, req.Mode) {
			unconfigured = append(unconfigured, p.ProductCode)
			continue
		}
		configured = append(configured, p)
	}

	// 原始需求推导（按控制模式）
	raw := make([]float64, len(configured))
	switch req.Mode {
	case ModeMmqMultiplier:
		for i, p := range configured {
			raw[i] = p.Mmq * req.MmqMultiplier
		}
	case ModeTotalWeight:
		var weightSum float64
		for _, p := range configured {
			weightSum += p.DailySales
		}
		for i, p := range configured {
			if weightSum <= 0 {
				// 无销量权重时平均分摊
				raw[i] = req.TotalWeight / float64(len(configured)) / p.UnitWeight
			} else {
				raw[i] = req.TotalWeight * (p.DailySales / weightSum) / p.UnitWeight
			}
		}
	case ModeTargetDaysCoverage:
		for i, p := range configured {
			qty := req.TargetDaysCoverage*p.DailySales - p.CurrentStock
			if qty < 0 {
				qty = 0
			}
			raw[i] = qty
		}
	default:
		return nil, errors.New("unknown control mode: " + req.Mode)
	}

	// 包装约束：向上取整到递增量
	for i, p := range configured {
		if p.SizeIncrement > 0 {
			raw[i] = roundUpToIncrement(raw[i], p.SizeIncrement)
		}
	}

	totalRequired := 0.0
	for i, p := range configured {
		totalRequired += raw[i] * p.UnitWeight
	}

	batchCount := 1
	if totalRequired > 0 {
		batchCount = int(math.Ceil(totalRequired / sp.BatchSize))
	}

	// 超出单锅产能且控制模式未显式允许多锅时，按比例压缩到恰好一锅
	scaled := false
	if batchCount > 1 && req.Mode != ModeMmqMultiplier {
		factor := sp.BatchSize / totalRequired
		for i, p := range configured {
			raw[i] *= factor
			if p.SizeIncrement > 0 {
				// 压缩后向下取整，保证不超出单锅产出
				raw[i] = roundDownToIncrement(raw[i], p.SizeIncrement)
			}
		}
		totalRequired = 0
		for i, p := range configured {
			totalRequired += raw[i] * p.UnitWeight
		}
		batchCount = 1
		scaled = true
	}

	// 半成品投产量：整锅产出，且不低于半成品自身MMQ
	toManufacture := float64(batchCount) * sp.BatchSize
	if totalRequired > 0 && toManufacture < sp.MinimalQty {
		toManufacture = sp.MinimalQty
	}

	items := make([]PlanItem, len(configured))
	capacity := toManufacture
	for i, p := range configured {
		spQty := raw[i] * p.UnitWeight
		coverage := UnboundedCoverage
		if p.DailySales > 0 {
			coverage = raw[i] / p.DailySales
		}
		utilization := 0.0
		if capacity > 0 {
			utilization = spQty / capacity
		}
		items[i] = PlanItem{
			ProductCode:    p.ProductCode,
			ProductName:    p.ProductName,
			CurrentStock:   p.CurrentStock,
			DailySales:     p.DailySales,
			RecommendedQty: raw[i],
			SemiproductQty: spQty,
			CoverageDays:   coverage,
			Utilization:    utilization,
		}
	}

	return &Plan{
		Items: items,
		Summary: Summary{
			Mode:                     req.Mode,
			BatchSize:                sp.BatchSize,
			BatchCount:               batchCount,
			TotalSemiproductRequired: totalRequired,
			SemiproductToManufacture: toManufacture,
			AvailableSemiproduct:     sp.AvailableStock,
			Leftover:                 toManufacture - totalRequired,
			ScaledToSingleBatch:      scaled,
			UnconfiguredProducts:     unconfigured,
		},
	}, nil
}

// isConfigured 判断产品配置是否满足当前模式的计算要求
func isConfigured(p ProductInput, mode string) bool {
	if p.UnitWeight <= 0 {
		return false
	}
	if mode == ModeMmqMultiplier && p.Mmq <= 0 {
		return false
	}
	return true
}

func roundUpToIncrement(qty, inc float64) float64 {
	return math.Ceil(qty/inc) * inc
}

func roundDownToIncrement(qty, inc float64) float64 {
	return math.Floor(qty/inc) * inc
}
