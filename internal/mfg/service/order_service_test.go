package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bitfantasy/halo-mes/internal/mfg/entity"
	"github.com/bitfantasy/halo-mes/internal/mfg/repository"
	"github.com/bitfantasy/halo-mes/internal/mfg/testutil"
	"go.uber.org/zap"
)

func setupOrderTest(t *testing.T, poster StockPoster) (*OrderService, *StockUpService, *repository.Repositories) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	logger := zap.NewNop()
	stockUp := NewStockUpService(repos.StockUp, repos.Order, poster, nil, logger)
	orders := NewOrderService(repos.Order, repos.AuditLog, stockUp, 0.10, logger)
	return orders, stockUp, repos
}

// waitFor polls cond until it holds or the timeout expires. Stock-up
// submission runs on a background goroutine, so completion is asynchronous.
func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func multiPhaseOrderRequest() CreateOrderRequest {
	return CreateOrderRequest{
		ManufactureType: entity.ManufactureTypeMultiPhase,
		ResponsibleUser: "operator-a",
		SemiProduct: &SemiProductLineRequest{
			ProductCode:      "SEMI-CRM",
			ProductName:      "乳霜基料",
			PlannedQty:       100,
			ExpirationMonths: 12,
		},
		Products: []ProductLineRequest{
			{ProductCode: "PROD-CRM-50", ProductName: "乳霜50ml", SemiProductCode: "SEMI-CRM", PlannedQty: 500},
		},
	}
}

// TestOrderLifecycleMultiPhase walks a two-phase order from draft to
// completion without the operator ever touching actual quantities. Actuals
// must stay equal to plan and each completion state must book stock exactly
// once per line with the actual amount.
func TestOrderLifecycleMultiPhase(t *testing.T) {
	poster := &fakePoster{}
	orders, stockUp, _ := setupOrderTest(t, poster)
	ctx := context.Background()

	order, err := orders.Create(ctx, multiPhaseOrderRequest(), "tester")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if order.State != entity.StateDraft {
		t.Fatalf("new order should be DRAFT, got %s", order.State)
	}
	if order.SemiProduct.ActualQty != 100 {
		t.Fatalf("semi-product actual should default to plan 100, got %v", order.SemiProduct.ActualQty)
	}
	if order.Products[0].ActualQty != 500 {
		t.Fatalf("product actual should default to plan 500, got %v", order.Products[0].ActualQty)
	}

	steps := []struct{ from, to string }{
		{entity.StateDraft, entity.StateSemiProductPlanned},
		{entity.StateSemiProductPlanned, entity.StateSemiProductManufactured},
		{entity.StateSemiProductManufactured, entity.StateProductPlanned},
		{entity.StateProductPlanned, entity.StateProductManufactured},
	}
	for _, step := range steps {
		order, err = orders.RequestTransition(ctx, order.ID, step.to, "tester", step.from)
		if err != nil {
			t.Fatalf("transition %s -> %s failed: %v", step.from, step.to, err)
		}
		if order.State != step.to {
			t.Fatalf("expected %s, got %s", step.to, order.State)
		}
	}

	// Semi-product completion derived an expiration date from the 12 month policy
	if order.SemiProduct.ExpirationDate == nil {
		t.Fatal("expected semi-product expiration date to be derived on completion")
	}

	// Exactly one stock-up per line, amount = actual quantity
	semiOps, err := stockUp.FindBySource(ctx, entity.StockUpSourceOrderSemiProduct, order.ID)
	if err != nil {
		t.Fatalf("FindBySource failed: %v", err)
	}
	if len(semiOps) != 1 || semiOps[0].Amount != 100 {
		t.Fatalf("expected one semi-product stock-up of 100, got %+v", semiOps)
	}
	prodOps, err := stockUp.FindBySource(ctx, entity.StockUpSourceOrderProduct, order.ID)
	if err != nil {
		t.Fatalf("FindBySource failed: %v", err)
	}
	if len(prodOps) != 1 || prodOps[0].Amount != 500 {
		t.Fatalf("expected one product stock-up of 500, got %+v", prodOps)
	}

	// Background submission completes and writes erp receipts back to the order
	waitFor(t, 5*time.Second, "erp receipts on order", func() bool {
		got, gerr := orders.Get(ctx, order.ID)
		return gerr == nil && got.ErpSemiProductDocNo != "" && got.ErpProductDocNo != ""
	})

	order, err = orders.RequestTransition(ctx, order.ID, entity.StateCompleted, "tester", entity.StateProductManufactured)
	if err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	if order.ManualActionRequired {
		t.Error("manual action should not be required: actuals match plan and receipts are present")
	}

	// Exactly one audit entry per successful write: 1 create + 5 transitions
	entries, err := orders.AuditLog(ctx, order.ID)
	if err != nil {
		t.Fatalf("AuditLog failed: %v", err)
	}
	stateChanges := 0
	for _, e := range entries {
		if e.Action == entity.AuditActionStateChange {
			stateChanges++
		}
	}
	if len(entries) != 6 || stateChanges != 5 {
		t.Fatalf("expected 6 audit entries with 5 state changes, got %d entries / %d state changes", len(entries), stateChanges)
	}

	// Terminal orders refuse further edits
	newUser := "operator-b"
	_, err = orders.Update(ctx, order.ID, UpdateOrderRequest{ResponsibleUser: &newUser}, "tester")
	if !errors.Is(err, ErrOrderTerminal) {
		t.Fatalf("expected ErrOrderTerminal editing a completed order, got %v", err)
	}
}

// TestOrderTransitionConflict simulates two operators racing: the loser's
// stale expectation is rejected without writing anything
func TestOrderTransitionConflict(t *testing.T) {
	orders, _, repos := setupOrderTest(t, &fakePoster{})
	ctx := context.Background()

	order, err := orders.Create(ctx, multiPhaseOrderRequest(), "operator-a")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := orders.RequestTransition(ctx, order.ID, entity.StateSemiProductPlanned, "operator-a", entity.StateDraft); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}
	auditBefore, _ := repos.AuditLog.CountByOrder(ctx, order.ID)

	// Second operator still believes the order is DRAFT
	_, err = orders.RequestTransition(ctx, order.ID, entity.StateCancelled, "operator-b", entity.StateDraft)
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}

	got, _ := orders.Get(ctx, order.ID)
	if got.State != entity.StateSemiProductPlanned {
		t.Fatalf("state must be untouched by the losing request, got %s", got.State)
	}
	auditAfter, _ := repos.AuditLog.CountByOrder(ctx, order.ID)
	if auditAfter != auditBefore {
		t.Fatalf("rejected transition must not append audit entries: %d -> %d", auditBefore, auditAfter)
	}
}

// TestOrderIllegalTransition rejects targets outside the allow-list
func TestOrderIllegalTransition(t *testing.T) {
	orders, _, repos := setupOrderTest(t, &fakePoster{})
	ctx := context.Background()

	order, err := orders.Create(ctx, multiPhaseOrderRequest(), "tester")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	auditBefore, _ := repos.AuditLog.CountByOrder(ctx, order.ID)

	// Multi-phase orders cannot skip the semi-product phase
	_, err = orders.RequestTransition(ctx, order.ID, entity.StateProductPlanned, "tester", entity.StateDraft)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	auditAfter, _ := repos.AuditLog.CountByOrder(ctx, order.ID)
	if auditAfter != auditBefore {
		t.Fatal("rejected transition must not append audit entries")
	}
}

// TestOrderCreateValidation rejects bad manufacture types and missing lines
func TestOrderCreateValidation(t *testing.T) {
	orders, _, _ := setupOrderTest(t, &fakePoster{})
	ctx := context.Background()

	_, err := orders.Create(ctx, CreateOrderRequest{
		ManufactureType: "TRIPLE_PHASE",
		Products:        []ProductLineRequest{{ProductCode: "P", PlannedQty: 1}},
	}, "tester")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown type, got %v", err)
	}

	_, err = orders.Create(ctx, CreateOrderRequest{
		ManufactureType: entity.ManufactureTypeMultiPhase,
		Products:        []ProductLineRequest{{ProductCode: "P", PlannedQty: 1}},
	}, "tester")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for multi-phase without semi-product, got %v", err)
	}
}

// TestOrderNumbersUnique creates a burst of orders on the same day: a
// number collision would reject the insert and lose the order
func TestOrderNumbersUnique(t *testing.T) {
	orders, _, _ := setupOrderTest(t, &fakePoster{})
	ctx := context.Background()

	numbers := map[string]bool{}
	for i := 0; i < 25; i++ {
		order, err := orders.Create(ctx, multiPhaseOrderRequest(), "tester")
		if err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
		if numbers[order.OrderNumber] {
			t.Fatalf("duplicate order number %s after %d orders", order.OrderNumber, i)
		}
		numbers[order.OrderNumber] = true
	}
}

// TestOrderRejectsMalformedDates expects validation errors instead of
// silently dropping an unparseable planned date
func TestOrderRejectsMalformedDates(t *testing.T) {
	orders, _, _ := setupOrderTest(t, &fakePoster{})
	ctx := context.Background()

	req := multiPhaseOrderRequest()
	req.SemiProductPlannedDate = "2026/03/15"
	_, err := orders.Create(ctx, req, "tester")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for malformed semi-product date, got %v", err)
	}

	req = multiPhaseOrderRequest()
	req.ProductPlannedDate = "15-03-2026"
	_, err = orders.Create(ctx, req, "tester")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for malformed product date, got %v", err)
	}

	order, err := orders.Create(ctx, multiPhaseOrderRequest(), "tester")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	bad := "not-a-date"
	_, err = orders.Update(ctx, order.ID, UpdateOrderRequest{ProductPlannedDate: &bad}, "tester")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation updating with a malformed date, got %v", err)
	}
	_, err = orders.Update(ctx, order.ID, UpdateOrderRequest{
		Products: []ProductLineUpdate{{ID: order.Products[0].ID, ExpirationDate: &bad}},
	}, "tester")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for malformed expiration date, got %v", err)
	}
}

// TestManualActionOnToleranceBreach edits the actual quantity past the 10%
// tolerance and expects the completion transition to flag the order
func TestManualActionOnToleranceBreach(t *testing.T) {
	orders, _, _ := setupOrderTest(t, &fakePoster{})
	ctx := context.Background()

	order, err := orders.Create(ctx, CreateOrderRequest{
		ManufactureType: entity.ManufactureTypeSinglePhase,
		Products: []ProductLineRequest{
			{ProductCode: "PROD-SOAP", ProductName: "手工皂", PlannedQty: 500},
		},
	}, "tester")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := orders.RequestTransition(ctx, order.ID, entity.StateProductPlanned, "tester", entity.StateDraft); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	// Operator reports 560 actually produced: 12% over plan
	actual := 560.0
	order, err = orders.Update(ctx, order.ID, UpdateOrderRequest{
		Products: []ProductLineUpdate{{ID: order.Products[0].ID, ActualQty: &actual}},
	}, "tester")
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if order.Products[0].ActualQty != 560 {
		t.Fatalf("expected actual 560, got %v", order.Products[0].ActualQty)
	}

	order, err = orders.RequestTransition(ctx, order.ID, entity.StateProductManufactured, "tester", entity.StateProductPlanned)
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if !order.ManualActionRequired {
		t.Error("12% deviation must set manual_action_required")
	}
}

// TestManualActionWithinTolerance keeps the deviation under 10% and expects
// no flag
func TestManualActionWithinTolerance(t *testing.T) {
	orders, _, _ := setupOrderTest(t, &fakePoster{})
	ctx := context.Background()

	order, err := orders.Create(ctx, CreateOrderRequest{
		ManufactureType: entity.ManufactureTypeSinglePhase,
		Products: []ProductLineRequest{
			{ProductCode: "PROD-SOAP", PlannedQty: 500},
		},
	}, "tester")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := orders.RequestTransition(ctx, order.ID, entity.StateProductPlanned, "tester", entity.StateDraft); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	actual := 520.0 // 4% over plan
	if _, err := orders.Update(ctx, order.ID, UpdateOrderRequest{
		Products: []ProductLineUpdate{{ID: order.Products[0].ID, ActualQty: &actual}},
	}, "tester"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	order, err = orders.RequestTransition(ctx, order.ID, entity.StateProductManufactured, "tester", entity.StateProductPlanned)
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if order.ManualActionRequired {
		t.Error("4% deviation is within tolerance, flag must stay false")
	}
}

// TestDiscardResidue books a negative outbound movement for leftover
// semi-product, only once the order reached a manufactured state
func TestDiscardResidue(t *testing.T) {
	orders, stockUp, _ := setupOrderTest(t, &fakePoster{})
	ctx := context.Background()

	order, err := orders.Create(ctx, multiPhaseOrderRequest(), "tester")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Too early: order is still DRAFT
	_, err = orders.DiscardResidue(ctx, order.ID, 5, "tester")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState discarding on a draft order, got %v", err)
	}

	for _, step := range []struct{ from, to string }{
		{entity.StateDraft, entity.StateSemiProductPlanned},
		{entity.StateSemiProductPlanned, entity.StateSemiProductManufactured},
		{entity.StateSemiProductManufactured, entity.StateProductPlanned},
		{entity.StateProductPlanned, entity.StateProductManufactured},
	} {
		if _, err := orders.RequestTransition(ctx, order.ID, step.to, "tester", step.from); err != nil {
			t.Fatalf("transition %s -> %s failed: %v", step.from, step.to, err)
		}
	}

	op, err := orders.DiscardResidue(ctx, order.ID, 7.5, "tester")
	if err != nil {
		t.Fatalf("DiscardResidue failed: %v", err)
	}
	if op.Amount != -7.5 {
		t.Fatalf("residue discard must book a negative amount, got %v", op.Amount)
	}
	if op.SourceType != entity.StockUpSourceOrderResidue {
		t.Fatalf("expected source %s, got %s", entity.StockUpSourceOrderResidue, op.SourceType)
	}

	waitFor(t, 5*time.Second, "residue stock-up completion", func() bool {
		got, gerr := stockUp.Get(ctx, op.DocNumber)
		return gerr == nil && got.State == entity.StockUpStateCompleted
	})
}

// TestOrderAuditTrail counts audit entries: one for creation, exactly one per
// successful transition, one per note
func TestOrderAuditTrail(t *testing.T) {
	orders, _, _ := setupOrderTest(t, &fakePoster{})
	ctx := context.Background()

	order, err := orders.Create(ctx, multiPhaseOrderRequest(), "tester")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := orders.RequestTransition(ctx, order.ID, entity.StateSemiProductPlanned, "tester", entity.StateDraft); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if _, err := orders.AddNote(ctx, order.ID, "原料批次已确认", "tester"); err != nil {
		t.Fatalf("AddNote failed: %v", err)
	}

	entries, err := orders.AuditLog(ctx, order.ID)
	if err != nil {
		t.Fatalf("AuditLog failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 audit entries (create, state_change, note_added), got %d", len(entries))
	}
	if entries[0].Action != entity.AuditActionCreate {
		t.Errorf("first entry should be create, got %s", entries[0].Action)
	}
	if entries[1].Action != entity.AuditActionStateChange ||
		entries[1].OldValue != entity.StateDraft ||
		entries[1].NewValue != entity.StateSemiProductPlanned {
		t.Errorf("second entry should record the transition, got %+v", entries[1])
	}
	if entries[2].Action != entity.AuditActionNoteAdded {
		t.Errorf("third entry should be note_added, got %s", entries[2].Action)
	}
}
