package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/breez/breez-woocommerce/pkg/breez"
	"github.com/breez/breez-woocommerce/pkg/models"
	"github.com/breez/breez-woocommerce/pkg/orders"
	"github.com/breez/breez-woocommerce/pkg/store"
)

// memStore is an in-memory Store with the same compare-and-swap contract
// as the gorm-backed one.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*models.PaymentRecord
}

func newMemStore(recs ...*models.PaymentRecord) *memStore {
	m := &memStore{recs: make(map[string]*models.PaymentRecord)}
	for _, r := range recs {
		m.recs[r.InvoiceID] = r
	}
	return m
}

func (m *memStore) GetByInvoice(_ context.Context, invoiceID string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[invoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) UpdateStatusFrom(_ context.Context, orderID uint, from, to models.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		if rec.OrderID == orderID && rec.Status == from {
			rec.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) status(invoiceID string) models.PaymentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[invoiceID].Status
}

// fakeHost records side effects and updates its order state like the real
// platform would.
type fakeHost struct {
	mu        sync.Mutex
	state     orders.State
	completes atomic.Int32
	fails     atomic.Int32
}

func (f *fakeHost) Get(context.Context, uint) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &orders.Order{ID: 1, State: f.state}, nil
}

func (f *fakeHost) MarkPendingPayment(context.Context, uint, string) error { return nil }

func (f *fakeHost) Complete(context.Context, uint, orders.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes.Add(1)
	f.state = orders.StateProcessing
	return nil
}

func (f *fakeHost) Fail(context.Context, uint, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails.Add(1)
	f.state = orders.StateFailed
	return nil
}

func pendingRecord() *models.PaymentRecord {
	return &models.PaymentRecord{
		ID:        1,
		OrderID:   1,
		InvoiceID: "lnbc-test",
		Status:    models.StatusPending,
	}
}

func newTestReconciler(st Store, host orders.Host) *Reconciler {
	return New(st, host, zerolog.Nop())
}

func TestApplyUnknownInvoice(t *testing.T) {
	r := newTestReconciler(newMemStore(), &fakeHost{state: orders.StatePending})
	_, err := r.Apply(context.Background(), "missing", breez.PaymentStatusResult{Status: breez.StatusSucceeded})
	if err != ErrPaymentNotFound {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestApplySucceededCompletesOrder(t *testing.T) {
	st := newMemStore(pendingRecord())
	host := &fakeHost{state: orders.StatePending}
	r := newTestReconciler(st, host)

	out, err := r.Apply(context.Background(), "lnbc-test", breez.PaymentStatusResult{
		Status: breez.StatusSucceeded, AmountSat: 250000, FeesSat: 12,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.Transitioned || out.Status != models.StatusCompleted {
		t.Fatalf("expected completion transition, got %+v", out)
	}
	if !out.OrderUpdated || host.completes.Load() != 1 {
		t.Fatalf("expected exactly one order completion, got %d", host.completes.Load())
	}
}

func TestApplyWaitingConfirmationCompletesThenNoOps(t *testing.T) {
	st := newMemStore(pendingRecord())
	host := &fakeHost{state: orders.StatePending}
	r := newTestReconciler(st, host)
	obs := breez.PaymentStatusResult{Status: breez.StatusWaitingConfirmation}

	out, err := r.Apply(context.Background(), "lnbc-test", obs)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.Transitioned || st.status("lnbc-test") != models.StatusCompleted {
		t.Fatal("WAITING_CONFIRMATION should complete the payment")
	}

	// Re-observing the same API status is a no-op.
	out, err = r.Apply(context.Background(), "lnbc-test", obs)
	if err != nil {
		t.Fatalf("Apply (second): %v", err)
	}
	if out.Transitioned || host.completes.Load() != 1 {
		t.Fatalf("expected no-op on re-observation, completes=%d", host.completes.Load())
	}
}

func TestApplyNeverLeavesTerminalState(t *testing.T) {
	rec := pendingRecord()
	rec.Status = models.StatusCompleted
	st := newMemStore(rec)
	host := &fakeHost{state: orders.StateCompleted}
	r := newTestReconciler(st, host)

	for _, api := range []breez.APIStatus{breez.StatusFailed, breez.StatusPending, breez.StatusSucceeded} {
		out, err := r.Apply(context.Background(), "lnbc-test", breez.PaymentStatusResult{Status: api})
		if err != nil {
			t.Fatalf("Apply(%s): %v", api, err)
		}
		if out.Transitioned {
			t.Fatalf("terminal record transitioned on %s", api)
		}
	}
	if st.status("lnbc-test") != models.StatusCompleted {
		t.Fatal("terminal status changed")
	}
	if host.fails.Load() != 0 {
		t.Fatal("completed order was downgraded")
	}
}

func TestApplyFailedDoesNotDowngradePaidOrder(t *testing.T) {
	// The record is still pending but the order already moved on: the
	// order-state guard must block the failure side effect.
	st := newMemStore(pendingRecord())
	host := &fakeHost{state: orders.StateProcessing}
	r := newTestReconciler(st, host)

	out, err := r.Apply(context.Background(), "lnbc-test", breez.PaymentStatusResult{Status: breez.StatusFailed})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.Transitioned {
		t.Fatal("record should still transition to failed")
	}
	if out.OrderUpdated || host.fails.Load() != 0 {
		t.Fatal("processing order must not be downgraded to failed")
	}
}

func TestApplyConcurrentExactlyOnce(t *testing.T) {
	st := newMemStore(pendingRecord())
	host := &fakeHost{state: orders.StatePending}
	r := newTestReconciler(st, host)

	const n = 25
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := r.Apply(context.Background(), "lnbc-test", breez.PaymentStatusResult{Status: breez.StatusSucceeded})
			if err != nil {
				t.Errorf("Apply: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := host.completes.Load(); got != 1 {
		t.Fatalf("expected exactly one completion side effect, got %d", got)
	}
}

// staticChecker returns a fixed observation and counts calls.
type staticChecker struct {
	obs   breez.PaymentStatusResult
	calls atomic.Int32
}

func (c *staticChecker) CheckStatus(_ context.Context, invoiceID string) (*breez.PaymentStatusResult, error) {
	c.calls.Add(1)
	obs := c.obs
	obs.Destination = invoiceID
	return &obs, nil
}

func TestPollInvoiceShortCircuitsCompletedRecord(t *testing.T) {
	rec := pendingRecord()
	rec.Status = models.StatusCompleted
	meta, _ := models.EncodeMetadata(models.PaymentMetadata{AmountSat: 250000, FeesSat: 10})
	rec.Metadata = meta
	st := newMemStore(rec)
	r := newTestReconciler(st, &fakeHost{state: orders.StateCompleted})
	checker := &staticChecker{obs: breez.PaymentStatusResult{Status: breez.StatusPending}}

	obs, out, err := r.PollInvoice(context.Background(), checker, "lnbc-test")
	if err != nil {
		t.Fatalf("PollInvoice: %v", err)
	}
	if checker.calls.Load() != 0 {
		t.Fatal("completed record should answer without an API round trip")
	}
	if obs.Status != breez.StatusSucceeded || obs.AmountSat != 250000 {
		t.Fatalf("unexpected synthesized observation: %+v", obs)
	}
	if out.Status != models.StatusCompleted {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestPollInvoiceReconcilesLiveStatus(t *testing.T) {
	st := newMemStore(pendingRecord())
	host := &fakeHost{state: orders.StatePending}
	r := newTestReconciler(st, host)
	checker := &staticChecker{obs: breez.PaymentStatusResult{Status: breez.StatusSucceeded}}

	_, out, err := r.PollInvoice(context.Background(), checker, "lnbc-test")
	if err != nil {
		t.Fatalf("PollInvoice: %v", err)
	}
	if !out.Transitioned || host.completes.Load() != 1 {
		t.Fatal("live poll should reconcile and complete the order")
	}
}
