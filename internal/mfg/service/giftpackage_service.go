package service

import (
	"context"
	"fmt"

	"github.com/bitfantasy/halo-mes/internal/mfg/entity"
	"github.com/bitfantasy/halo-mes/internal/mfg/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GiftPackageService 礼包组装/拆解服务
// 与制造订单共用同一套库存上账流程，来源类型为 gift_package
type GiftPackageService struct {
	repo    *repository.GiftPackageRepository
	stockUp *StockUpService
	logger  *zap.Logger
}

func NewGiftPackageService(repo *repository.GiftPackageRepository, stockUp *StockUpService, logger *zap.Logger) *GiftPackageService {
	return &GiftPackageService{repo: repo, stockUp: stockUp, logger: logger}
}

// GiftPackageItemRequest 组件行入参
type GiftPackageItemRequest struct {
	ProductCode string  `json:"product_code" binding:"required"`
	ProductName string  `json:"product_name"`
	QtyPerUnit  float64 `json:"qty_per_unit" binding:"required,gt=0"`
}

// CreateGiftPackageRequest 礼包操作入参
type CreateGiftPackageRequest struct {
	OperationType string                   `json:"operation_type" binding:"required"`
	PackageCode   string                   `json:"package_code" binding:"required"`
	PackageName   string                   `json:"package_name"`
	Quantity      float64                  `json:"quantity" binding:"required,gt=0"`
	Items         []GiftPackageItemRequest `json:"items"`
}

// Create 记录礼包操作并触发上账
// 组装：礼包入库(+)，组件出库(−)；拆解方向相反
func (s *GiftPackageService) Create(ctx context.Context, req CreateGiftPackageRequest, actor string) (*entity.GiftPackageLog, error) {
	if req.OperationType != entity.GiftPackageOpAssembly && req.OperationType != entity.GiftPackageOpDisassembly {
		return nil, fmt.Errorf("%w: unknown gift package operation %s", ErrValidation, req.OperationType)
	}
	// 上账按 (来源, 产品编码) 去重，组件编码撞礼包编码或互相重复会吞掉上账单
	seen := map[string]bool{}
	for _, item := range req.Items {
		if item.ProductCode == req.PackageCode {
			return nil, fmt.Errorf("%w: component %s must not use the package code", ErrValidation, item.ProductCode)
		}
		if seen[item.ProductCode] {
			return nil, fmt.Errorf("%w: duplicate component %s", ErrValidation, item.ProductCode)
		}
		seen[item.ProductCode] = true
	}

	log := &entity.GiftPackageLog{
		ID:            uuid.New().String(),
		OperationType: req.OperationType,
		PackageCode:   req.PackageCode,
		PackageName:   req.PackageName,
		Quantity:      req.Quantity,
		CreatedBy:     actor,
	}
	for _, item := range req.Items {
		log.Items = append(log.Items, entity.GiftPackageItem{
			ID:          uuid.New().String(),
			LogID:       log.ID,
			ProductCode: item.ProductCode,
			ProductName: item.ProductName,
			QtyPerUnit:  item.QtyPerUnit,
		})
	}

	if err := s.repo.Create(ctx, log); err != nil {
		return nil, fmt.Errorf("create gift package log: %w", err)
	}

	direction := 1.0
	if req.OperationType == entity.GiftPackageOpDisassembly {
		direction = -1.0
	}

	s.enqueueAndDispatch(ctx, log.PackageCode, direction*req.Quantity, log.ID, actor)
	for _, item := range log.Items {
		s.enqueueAndDispatch(ctx, item.ProductCode, -direction*item.QtyPerUnit*req.Quantity, log.ID, actor)
	}

	return log, nil
}

func (s *GiftPackageService) enqueueAndDispatch(ctx context.Context, productCode string, amount float64, logID, actor string) {
	op, err := s.stockUp.Enqueue(ctx, productCode, amount, entity.StockUpSourceGiftPackage, logID, actor)
	if err != nil {
		s.logger.Error("Failed to enqueue gift package stock-up",
			zap.String("product_code", productCode), zap.Error(err))
		return
	}
	s.stockUp.Dispatch(op.DocNumber)
}

// Get 查询礼包记录
func (s *GiftPackageService) Get(ctx context.Context, id string) (*entity.GiftPackageLog, error) {
	return s.repo.FindByID(ctx, id)
}

// List 礼包记录列表
func (s *GiftPackageService) List(ctx context.Context, packageCode string, page, pageSize int) ([]entity.GiftPackageLog, int64, error) {
	return s.repo.List(ctx, packageCode, page, pageSize)
}
