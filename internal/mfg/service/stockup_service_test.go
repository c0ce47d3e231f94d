package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bitfantasy/halo-mes/internal/erpclient"
	"github.com/bitfantasy/halo-mes/internal/mfg/entity"
	"github.com/bitfantasy/halo-mes/internal/mfg/repository"
	"github.com/bitfantasy/halo-mes/internal/mfg/testutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fakePoster simulates the external stock system. The first failCount calls
// are rejected, everything after succeeds.
type fakePoster struct {
	mu        sync.Mutex
	calls     int
	failCount int
}

func (f *fakePoster) PostStockMovement(ctx context.Context, req erpclient.StockMovementRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failCount {
		return "", fmt.Errorf("erp rejected document %s", req.DocNumber)
	}
	return "ERP-" + req.DocNumber, nil
}

func (f *fakePoster) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func setupStockUpTest(t *testing.T, poster StockPoster) (*StockUpService, *repository.Repositories) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	svc := NewStockUpService(repos.StockUp, repos.Order, poster, nil, zap.NewNop())
	return svc, repos
}

// TestStockUpFailThenRetrySucceeds walks a stock-up through a rejected
// submission and a successful retry. The document number never changes and
// both attempts are preserved in history.
func TestStockUpFailThenRetrySucceeds(t *testing.T) {
	poster := &fakePoster{failCount: 1}
	svc, _ := setupStockUpTest(t, poster)
	ctx := context.Background()
	sourceID := uuid.New().String()

	op, err := svc.Enqueue(ctx, "SEMI-001", 100, entity.StockUpSourceOrderSemiProduct, sourceID, "tester")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if op.State != entity.StockUpStateCreated {
		t.Fatalf("expected CREATED, got %s", op.State)
	}
	docNumber := op.DocNumber

	// First submission is rejected by the external system
	if err := svc.Submit(ctx, docNumber); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	op, err = svc.Get(ctx, docNumber)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if op.State != entity.StockUpStateFailed {
		t.Fatalf("expected FAILED after rejection, got %s", op.State)
	}
	if op.ErrorMessage == "" {
		t.Error("expected error message to be recorded on the operation")
	}
	if len(op.Attempts) != 1 || op.Attempts[0].Success {
		t.Fatalf("expected 1 failed attempt, got %+v", op.Attempts)
	}

	// Retry submits again with the same document number
	if err := svc.Submit(ctx, docNumber); err != nil {
		t.Fatalf("second Submit returned error: %v", err)
	}
	op, err = svc.Get(ctx, docNumber)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if op.State != entity.StockUpStateCompleted {
		t.Fatalf("expected COMPLETED after retry, got %s", op.State)
	}
	if op.DocNumber != docNumber {
		t.Fatalf("document number changed on retry: %s -> %s", docNumber, op.DocNumber)
	}
	if op.ErpDocNumber != "ERP-"+docNumber {
		t.Fatalf("expected erp receipt ERP-%s, got %s", docNumber, op.ErpDocNumber)
	}
	if op.ErrorMessage != "" {
		t.Errorf("error message should be cleared on completion, got %q", op.ErrorMessage)
	}
	if len(op.Attempts) != 2 {
		t.Fatalf("expected 2 attempts in history, got %d", len(op.Attempts))
	}
	if op.Attempts[0].Success || !op.Attempts[1].Success {
		t.Errorf("attempt history wrong: %+v", op.Attempts)
	}
	if poster.callCount() != 2 {
		t.Errorf("expected exactly 2 posts to the external system, got %d", poster.callCount())
	}
}

// TestStockUpEnqueueIdempotent repeats Enqueue for the same production event
// and expects the original document back instead of a duplicate
func TestStockUpEnqueueIdempotent(t *testing.T) {
	svc, _ := setupStockUpTest(t, &fakePoster{})
	ctx := context.Background()
	sourceID := uuid.New().String()

	first, err := svc.Enqueue(ctx, "PROD-001", 500, entity.StockUpSourceOrderProduct, sourceID, "tester")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	second, err := svc.Enqueue(ctx, "PROD-001", 500, entity.StockUpSourceOrderProduct, sourceID, "tester")
	if err != nil {
		t.Fatalf("repeated Enqueue failed: %v", err)
	}
	if second.DocNumber != first.DocNumber {
		t.Fatalf("expected same document number, got %s and %s", first.DocNumber, second.DocNumber)
	}

	// A different product under the same source gets its own document
	other, err := svc.Enqueue(ctx, "PROD-002", 300, entity.StockUpSourceOrderProduct, sourceID, "tester")
	if err != nil {
		t.Fatalf("Enqueue for second product failed: %v", err)
	}
	if other.DocNumber == first.DocNumber {
		t.Fatal("different product lines must not share a document number")
	}

	ops, err := svc.FindBySource(ctx, entity.StockUpSourceOrderProduct, sourceID)
	if err != nil {
		t.Fatalf("FindBySource failed: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 operations for source, got %d", len(ops))
	}
}

// TestStockUpDocNumbersUnique creates many documents back to back on the
// same day: every one must get its own number, since a clash would reject
// the insert and lose the operation for good
func TestStockUpDocNumbersUnique(t *testing.T) {
	svc, _ := setupStockUpTest(t, &fakePoster{})
	ctx := context.Background()

	numbers := map[string]bool{}
	for i := 0; i < 100; i++ {
		op, err := svc.Enqueue(ctx, "PROD-001", 1, entity.StockUpSourceOrderProduct, uuid.New().String(), "tester")
		if err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
		if numbers[op.DocNumber] {
			t.Fatalf("duplicate document number %s after %d documents", op.DocNumber, i)
		}
		numbers[op.DocNumber] = true
	}
}

// TestStockUpSubmitOnlyFromSubmittableStates verifies the atomic guard:
// a completed document cannot be submitted or retried again
func TestStockUpSubmitOnlyFromSubmittableStates(t *testing.T) {
	svc, _ := setupStockUpTest(t, &fakePoster{})
	ctx := context.Background()

	op, err := svc.Enqueue(ctx, "SEMI-002", 50, entity.StockUpSourceOrderSemiProduct, uuid.New().String(), "tester")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := svc.Submit(ctx, op.DocNumber); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	err = svc.Submit(ctx, op.DocNumber)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState submitting a completed document, got %v", err)
	}

	_, err = svc.Retry(ctx, op.DocNumber)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState retrying a completed document, got %v", err)
	}
}

// TestStockUpNegativeAmount covers outbound movements (residue discard)
func TestStockUpNegativeAmount(t *testing.T) {
	svc, _ := setupStockUpTest(t, &fakePoster{})
	ctx := context.Background()

	op, err := svc.Enqueue(ctx, "SEMI-003", -12.5, entity.StockUpSourceOrderResidue, uuid.New().String(), "tester")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if op.Amount != -12.5 {
		t.Fatalf("expected amount -12.5, got %v", op.Amount)
	}
	if err := svc.Submit(ctx, op.DocNumber); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	op, _ = svc.Get(ctx, op.DocNumber)
	if op.State != entity.StockUpStateCompleted {
		t.Fatalf("expected COMPLETED, got %s", op.State)
	}
}

// TestStockUpWriteBackToOrder checks that a completed semi-product stock-up
// writes the external receipt back onto the originating order
func TestStockUpWriteBackToOrder(t *testing.T) {
	svc, repos := setupStockUpTest(t, &fakePoster{})
	ctx := context.Background()

	order := &entity.ManufactureOrder{
		ID:              uuid.New().String(),
		OrderNumber:     "MO-TEST-0001",
		ManufactureType: entity.ManufactureTypeMultiPhase,
		State:           entity.StateSemiProductManufactured,
		CreatedBy:       "tester",
	}
	if err := repos.Order.Create(ctx, order); err != nil {
		t.Fatalf("seed order failed: %v", err)
	}

	op, err := svc.Enqueue(ctx, "SEMI-004", 80, entity.StockUpSourceOrderSemiProduct, order.ID, "tester")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := svc.Submit(ctx, op.DocNumber); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	got, err := repos.Order.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if got.ErpSemiProductDocNo != "ERP-"+op.DocNumber {
		t.Fatalf("expected erp receipt written back, got %q", got.ErpSemiProductDocNo)
	}
	if got.ErpSemiProductDocAt == nil {
		t.Error("expected write-back timestamp to be set")
	}
}
