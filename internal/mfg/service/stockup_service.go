package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/halo-mes/internal/erpclient"
	"github.com/bitfantasy/halo-mes/internal/mfg/entity"
	"github.com/bitfantasy/halo-mes/internal/mfg/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// submitQueueKey 待提交上账单号的redis队列
const submitQueueKey = "mes:stockup:submit_queue"

// StockPoster 外部ERP上账接口，真实实现见 internal/erpclient
type StockPoster interface {
	PostStockMovement(ctx context.Context, req erpclient.StockMovementRequest) (string, error)
}

// StockUpService 库存上账服务
// 状态机：CREATED → SUBMITTED → COMPLETED | FAILED，FAILED 经显式重试回到 SUBMITTED。
// 单号在整个生命周期内不变，重试不会产生新单号。
type StockUpService struct {
	repo      *repository.StockUpRepository
	orderRepo *repository.OrderRepository
	poster    StockPoster
	rdb       *redis.Client
	logger    *zap.Logger
}

func NewStockUpService(repo *repository.StockUpRepository, orderRepo *repository.OrderRepository, poster StockPoster, rdb *redis.Client, logger *zap.Logger) *StockUpService {
	return &StockUpService{
		repo:      repo,
		orderRepo: orderRepo,
		poster:    poster,
		rdb:       rdb,
		logger:    logger,
	}
}

// Enqueue 创建上账单并分配单号
// 对同一 (sourceType, sourceID, productCode) 重复调用返回已有单据，不会重复分配单号
func (s *StockUpService) Enqueue(ctx context.Context, productCode string, amount float64, sourceType, sourceID, actor string) (*entity.StockUpOperation, error) {
	existing, err := s.repo.FindBySource(ctx, sourceType, sourceID)
	if err != nil {
		return nil, fmt.Errorf("lookup stock-up by source: %w", err)
	}
	for i := range existing {
		if existing[i].ProductCode == productCode {
			return &existing[i], nil
		}
	}

	// 日期便于人工检索，UUID片段保证同日并发创建不撞号
	op := &entity.StockUpOperation{
		ID:          uuid.New().String(),
		DocNumber:   fmt.Sprintf("SU-%s-%s", time.Now().Format("20060102"), strings.ToUpper(uuid.New().String()[:8])),
		ProductCode: productCode,
		Amount:      amount,
		SourceType:  sourceType,
		SourceID:    sourceID,
		State:       entity.StockUpStateCreated,
		CreatedBy:   actor,
	}
	if err := s.repo.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("create stock-up operation: %w", err)
	}
	return op, nil
}

// Dispatch 把上账单投入后台提交队列
// 未配置redis时退化为直接起goroutine提交，发起请求不等待结果
func (s *StockUpService) Dispatch(docNumber string) {
	if s.rdb != nil {
		if err := s.rdb.LPush(context.Background(), submitQueueKey, docNumber).Err(); err == nil {
			return
		}
		s.logger.Warn("Redis dispatch failed, falling back to direct submit",
			zap.String("doc_number", docNumber))
	}
	go func() {
		if err := s.Submit(context.Background(), docNumber); err != nil {
			s.logger.Warn("Background stock-up submit failed",
				zap.String("doc_number", docNumber), zap.Error(err))
		}
	}()
}

// Submit 提交上账单到外部系统
// CREATED|FAILED → SUBMITTED 的流转是原子的：提交与重试竞争时只有一方执行，
// 输的一方得到冲突错误，不会产生重复上账。
func (s *StockUpService) Submit(ctx context.Context, docNumber string) error {
	now := time.Now()
	err := s.repo.TransitionState(ctx, docNumber,
		[]string{entity.StockUpStateCreated, entity.StockUpStateFailed},
		entity.StockUpStateSubmitted,
		map[string]interface{}{"submitted_at": now})
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return fmt.Errorf("%w: stock-up %s is not submittable", ErrInvalidState, docNumber)
		}
		return fmt.Errorf("mark stock-up submitted: %w", err)
	}

	op, err := s.repo.FindByDocNumber(ctx, docNumber)
	if err != nil {
		return fmt.Errorf("load stock-up %s: %w", docNumber, err)
	}

	attempt := &entity.StockUpAttempt{
		ID:          uuid.New().String(),
		OperationID: op.ID,
		StartedAt:   time.Now(),
	}
	if err := s.repo.CreateAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("record stock-up attempt: %w", err)
	}

	erpDocNo, postErr := s.poster.PostStockMovement(ctx, erpclient.StockMovementRequest{
		DocNumber:   op.DocNumber,
		ProductCode: op.ProductCode,
		Amount:      op.Amount,
		SourceType:  op.SourceType,
		SourceID:    op.SourceID,
	})

	if postErr != nil {
		s.repo.FinishAttempt(ctx, attempt.ID, false, postErr.Error())
		if err := s.repo.TransitionState(ctx, docNumber,
			[]string{entity.StockUpStateSubmitted},
			entity.StockUpStateFailed,
			map[string]interface{}{"error_message": postErr.Error()}); err != nil {
			return fmt.Errorf("mark stock-up failed: %w", err)
		}
		s.logger.Warn("Stock-up submission rejected",
			zap.String("doc_number", docNumber), zap.Error(postErr))
		return nil
	}

	s.repo.FinishAttempt(ctx, attempt.ID, true, "")
	completedAt := time.Now()
	if err := s.repo.TransitionState(ctx, docNumber,
		[]string{entity.StockUpStateSubmitted},
		entity.StockUpStateCompleted,
		map[string]interface{}{
			"completed_at":   completedAt,
			"erp_doc_number": erpDocNo,
			"error_message":  "",
		}); err != nil {
		return fmt.Errorf("mark stock-up completed: %w", err)
	}

	s.writeBackOrderReference(ctx, op, erpDocNo, completedAt)

	s.logger.Info("Stock-up completed",
		zap.String("doc_number", docNumber),
		zap.String("erp_doc_number", erpDocNo))
	return nil
}

// writeBackOrderReference 上账完成后把外部单号回写到制造订单
func (s *StockUpService) writeBackOrderReference(ctx context.Context, op *entity.StockUpOperation, erpDocNo string, at time.Time) {
	var updates map[string]interface{}
	switch op.SourceType {
	case entity.StockUpSourceOrderSemiProduct:
		updates = map[string]interface{}{"erp_semi_product_doc_no": erpDocNo, "erp_semi_product_doc_at": at}
	case entity.StockUpSourceOrderProduct:
		updates = map[string]interface{}{"erp_product_doc_no": erpDocNo, "erp_product_doc_at": at}
	case entity.StockUpSourceOrderResidue:
		updates = map[string]interface{}{"erp_discard_doc_no": erpDocNo, "erp_discard_doc_at": at}
	default:
		return
	}
	if err := s.orderRepo.UpdateFields(ctx, op.SourceID, updates); err != nil {
		s.logger.Warn("Failed to write back erp document reference",
			zap.String("order_id", op.SourceID), zap.Error(err))
	}
}

// Retry 重试失败的上账单，复用原单号
// 只允许从 FAILED 状态发起；时间与错误历史在 attempts 表中完整保留
func (s *StockUpService) Retry(ctx context.Context, docNumber string) (*entity.StockUpOperation, error) {
	op, err := s.repo.FindByDocNumber(ctx, docNumber)
	if err != nil {
		return nil, err
	}
	if op.State != entity.StockUpStateFailed {
		return nil, fmt.Errorf("%w: retry requires FAILED, stock-up %s is %s", ErrInvalidState, docNumber, op.State)
	}
	s.Dispatch(docNumber)
	return op, nil
}

// Get 按单号查询（含提交历史）
func (s *StockUpService) Get(ctx context.Context, docNumber string) (*entity.StockUpOperation, error) {
	return s.repo.FindByDocNumber(ctx, docNumber)
}

// FindBySource 查询某个生产事件的全部上账单
func (s *StockUpService) FindBySource(ctx context.Context, sourceType, sourceID string) ([]entity.StockUpOperation, error) {
	return s.repo.FindBySource(ctx, sourceType, sourceID)
}

// List 分页查询
func (s *StockUpService) List(ctx context.Context, params repository.StockUpListParams) ([]entity.StockUpOperation, int64, error) {
	return s.repo.List(ctx, params)
}

// StartWorker 启动后台提交worker，阻塞消费redis队列直到ctx取消
// 提交一旦开始就跑到终态，没有中途取消；调用方通过轮询查询结果
func (s *StockUpService) StartWorker(ctx context.Context) {
	if s.rdb == nil {
		s.logger.Info("Redis not configured, stock-up worker disabled")
		return
	}
	s.logger.Info("Stock-up submission worker started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stock-up submission worker stopped")
			return
		default:
		}

		result, err := s.rdb.BRPop(ctx, 5*time.Second, submitQueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			s.logger.Warn("Stock-up queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}
		docNumber := result[1]
		if err := s.Submit(context.Background(), docNumber); err != nil {
			s.logger.Warn("Stock-up submit failed",
				zap.String("doc_number", docNumber), zap.Error(err))
		}
	}
}
