package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bitfantasy/halo-mes/internal/mfg/entity"
	"github.com/bitfantasy/halo-mes/internal/mfg/repository"
	"github.com/bitfantasy/halo-mes/internal/mfg/testutil"
	"go.uber.org/zap"
)

func setupGiftPackageTest(t *testing.T) (*GiftPackageService, *StockUpService) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	logger := zap.NewNop()
	stockUp := NewStockUpService(repos.StockUp, repos.Order, &fakePoster{}, nil, logger)
	return NewGiftPackageService(repos.GiftPackage, stockUp, logger), stockUp
}

// TestGiftPackageAssembly books the package inbound and every component
// outbound, scaled by the assembled quantity
func TestGiftPackageAssembly(t *testing.T) {
	svc, stockUp := setupGiftPackageTest(t)
	ctx := context.Background()

	log, err := svc.Create(ctx, CreateGiftPackageRequest{
		OperationType: entity.GiftPackageOpAssembly,
		PackageCode:   "GIFT-XMAS",
		PackageName:   "圣诞礼盒",
		Quantity:      20,
		Items: []GiftPackageItemRequest{
			{ProductCode: "PROD-CRM-50", QtyPerUnit: 2},
			{ProductCode: "PROD-SOAP", QtyPerUnit: 1},
		},
	}, "tester")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ops, err := stockUp.FindBySource(ctx, entity.StockUpSourceGiftPackage, log.ID)
	if err != nil {
		t.Fatalf("FindBySource failed: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 stock-ups (package + 2 components), got %d", len(ops))
	}

	amounts := map[string]float64{}
	for _, op := range ops {
		amounts[op.ProductCode] = op.Amount
	}
	if amounts["GIFT-XMAS"] != 20 {
		t.Errorf("package inbound should be +20, got %v", amounts["GIFT-XMAS"])
	}
	if amounts["PROD-CRM-50"] != -40 {
		t.Errorf("component outbound should be -40, got %v", amounts["PROD-CRM-50"])
	}
	if amounts["PROD-SOAP"] != -20 {
		t.Errorf("component outbound should be -20, got %v", amounts["PROD-SOAP"])
	}
}

// TestGiftPackageDisassembly reverses every direction
func TestGiftPackageDisassembly(t *testing.T) {
	svc, stockUp := setupGiftPackageTest(t)
	ctx := context.Background()

	log, err := svc.Create(ctx, CreateGiftPackageRequest{
		OperationType: entity.GiftPackageOpDisassembly,
		PackageCode:   "GIFT-XMAS",
		Quantity:      5,
		Items: []GiftPackageItemRequest{
			{ProductCode: "PROD-CRM-50", QtyPerUnit: 2},
		},
	}, "tester")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ops, err := stockUp.FindBySource(ctx, entity.StockUpSourceGiftPackage, log.ID)
	if err != nil {
		t.Fatalf("FindBySource failed: %v", err)
	}
	amounts := map[string]float64{}
	for _, op := range ops {
		amounts[op.ProductCode] = op.Amount
	}
	if amounts["GIFT-XMAS"] != -5 {
		t.Errorf("package outbound should be -5, got %v", amounts["GIFT-XMAS"])
	}
	if amounts["PROD-CRM-50"] != 10 {
		t.Errorf("component inbound should be +10, got %v", amounts["PROD-CRM-50"])
	}
}

// TestGiftPackageRejectsCollidingComponents guards the stock-up dedup key:
// a component sharing the package code, or two lines with the same code,
// would collapse into a single booking
func TestGiftPackageRejectsCollidingComponents(t *testing.T) {
	svc, _ := setupGiftPackageTest(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateGiftPackageRequest{
		OperationType: entity.GiftPackageOpAssembly,
		PackageCode:   "GIFT-XMAS",
		Quantity:      10,
		Items: []GiftPackageItemRequest{
			{ProductCode: "GIFT-XMAS", QtyPerUnit: 1},
		},
	}, "tester")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for component reusing the package code, got %v", err)
	}

	_, err = svc.Create(ctx, CreateGiftPackageRequest{
		OperationType: entity.GiftPackageOpAssembly,
		PackageCode:   "GIFT-XMAS",
		Quantity:      10,
		Items: []GiftPackageItemRequest{
			{ProductCode: "PROD-SOAP", QtyPerUnit: 1},
			{ProductCode: "PROD-SOAP", QtyPerUnit: 2},
		},
	}, "tester")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for duplicate component lines, got %v", err)
	}
}

func TestGiftPackageUnknownOperation(t *testing.T) {
	svc, _ := setupGiftPackageTest(t)

	_, err := svc.Create(context.Background(), CreateGiftPackageRequest{
		OperationType: "REPACK",
		PackageCode:   "GIFT-XMAS",
		Quantity:      1,
	}, "tester")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
