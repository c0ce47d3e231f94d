package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/halo-mes/internal/mfg/planner"
	"github.com/minio/minio-go/v7"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// BatchService 批次排产服务
// 计算本身是纯函数（见 planner 包），这里只负责HTTP入参转换和导出
type BatchService struct {
	minioClient *minio.Client
	bucket      string
	logger      *zap.Logger
}

func NewBatchService(minioClient *minio.Client, bucket string, logger *zap.Logger) *BatchService {
	return &BatchService{minioClient: minioClient, bucket: bucket, logger: logger}
}

// CalculatePlan 执行排产计算，结果不落库
func (s *BatchService) CalculatePlan(req planner.Request) (*planner.Plan, error) {
	return planner.CalculatePlan(req)
}

var planExportHeaders = []string{
	"产品编码", "产品名称", "现有库存", "日均消耗", "建议生产量", "半成品消耗(g)", "覆盖天数", "产能占比",
}

// ExportPlan 计算排产并导出xlsx到对象存储，返回24小时有效的下载链接
func (s *BatchService) ExportPlan(ctx context.Context, req planner.Request) (string, error) {
	if s.minioClient == nil {
		return "", errors.New("object storage not configured")
	}

	plan, err := planner.CalculatePlan(req)
	if err != nil {
		return "", err
	}

	f := excelize.NewFile()
	sheet := "排产计划"
	f.SetSheetName("Sheet1", sheet)

	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})

	for i, h := range planExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	for rowIdx, item := range plan.Items {
		row := rowIdx + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), item.ProductCode)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), item.ProductName)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), item.CurrentStock)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), item.DailySales)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), item.RecommendedQty)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), item.SemiproductQty)
		if item.CoverageDays == planner.UnboundedCoverage {
			f.SetCellValue(sheet, fmt.Sprintf("G%d", row), "∞")
		} else {
			f.SetCellValue(sheet, fmt.Sprintf("G%d", row), item.CoverageDays)
		}
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), item.Utilization)
	}

	// 汇总区
	base := len(plan.Items) + 3
	f.SetCellValue(sheet, fmt.Sprintf("A%d", base), "批次数")
	f.SetCellValue(sheet, fmt.Sprintf("B%d", base), plan.Summary.BatchCount)
	f.SetCellValue(sheet, fmt.Sprintf("A%d", base+1), "半成品投产量(g)")
	f.SetCellValue(sheet, fmt.Sprintf("B%d", base+1), plan.Summary.SemiproductToManufacture)
	f.SetCellValue(sheet, fmt.Sprintf("A%d", base+2), "剩余(g)")
	f.SetCellValue(sheet, fmt.Sprintf("B%d", base+2), plan.Summary.Leftover)
	if plan.Summary.ScaledToSingleBatch {
		f.SetCellValue(sheet, fmt.Sprintf("A%d", base+3), "已按单锅产能压缩")
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return "", fmt.Errorf("render plan xlsx: %w", err)
	}

	objectName := fmt.Sprintf("batch-plans/plan-%s.xlsx", time.Now().Format("20060102-150405"))
	_, err = s.minioClient.PutObject(ctx, s.bucket, objectName,
		bytes.NewReader(buf.Bytes()), int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"})
	if err != nil {
		return "", fmt.Errorf("upload plan xlsx: %w", err)
	}

	url, err := s.minioClient.PresignedGetObject(ctx, s.bucket, objectName, 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("presign plan url: %w", err)
	}

	s.logger.Info("Batch plan exported", zap.String("object", objectName))
	return url.String(), nil
}
