package service

import (
	"errors"

	"github.com/bitfantasy/halo-mes/internal/config"
	"github.com/bitfantasy/halo-mes/internal/erpclient"
	"github.com/bitfantasy/halo-mes/internal/mfg/repository"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 错误分类：handler 层据此映射HTTP状态码
var (
	// ErrValidation 输入校验失败，同步拒绝，无任何写入
	ErrValidation = errors.New("validation failed")
	// ErrIllegalTransition 目标状态不在允许表内
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrConcurrencyConflict 乐观并发冲突，调用方需重新拉取当前状态
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrOrderTerminal 终态订单不允许编辑
	ErrOrderTerminal = errors.New("order is in a terminal state")
	// ErrInvalidState 当前状态不允许该操作
	ErrInvalidState = errors.New("operation not allowed in current state")
)

// Services 制造模块服务集合
type Services struct {
	Order       *OrderService
	Batch       *BatchService
	StockUp     *StockUpService
	GiftPackage *GiftPackageService
}

// NewServices 创建服务集合
// redis/minio 允许缺省：redis缺省时上账提交退化为直接goroutine，
// minio缺省时排产导出不可用，其余功能不受影响
func NewServices(repos *repository.Repositories, cfg *config.Config, rdb *redis.Client, logger *zap.Logger) *Services {
	var minioClient *minio.Client
	if cfg.MinIO.Endpoint != "" {
		var err error
		minioClient, err = minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		if err != nil {
			logger.Warn("MinIO unavailable, plan export disabled", zap.Error(err))
			minioClient = nil
		}
	}

	poster := erpclient.New(cfg.ERP.BaseURL, cfg.ERP.APIKey, cfg.ERP.APISecret)

	stockUpSvc := NewStockUpService(repos.StockUp, repos.Order, poster, rdb, logger)
	orderSvc := NewOrderService(repos.Order, repos.AuditLog, stockUpSvc,
		cfg.Manufacture.ManualActionTolerance, logger)

	return &Services{
		Order:       orderSvc,
		Batch:       NewBatchService(minioClient, cfg.MinIO.Bucket, logger),
		StockUp:     stockUpSvc,
		GiftPackage: NewGiftPackageService(repos.GiftPackage, stockUpSvc, logger),
	}
}
