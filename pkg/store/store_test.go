package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/breez/breez-woocommerce/pkg/models"
)

func newTestStore(t *testing.T) *PaymentStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "payments.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db, zerolog.Nop())
}

func record(orderID uint, invoiceID string, status models.PaymentStatus, age time.Duration) *models.PaymentRecord {
	return &models.PaymentRecord{
		OrderID:   orderID,
		InvoiceID: invoiceID,
		Amount:    decimal.NewFromInt(100),
		Currency:  "USD",
		Status:    status,
		CreatedAt: time.Now().Add(-age),
	}
}

func TestSaveUpsertsOnOrderID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.Save(ctx, record(1, "inv-a", models.StatusPending, 0)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := st.Save(ctx, record(1, "inv-b", models.StatusPending, 0)); err != nil {
		t.Fatalf("second save: %v", err)
	}

	rec, err := st.GetByOrder(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.InvoiceID != "inv-b" {
		t.Fatalf("expected retried checkout to replace the row, got invoice %q", rec.InvoiceID)
	}

	// One row per order, no duplicates after the upsert.
	if _, err := st.GetByInvoice(ctx, "inv-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected the old invoice row to be gone, got err=%v", err)
	}
}

func TestUpdateStatusFromCAS(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.Save(ctx, record(2, "inv-2", models.StatusPending, 0)); err != nil {
		t.Fatalf("save: %v", err)
	}

	ok, err := st.UpdateStatusFrom(ctx, 2, models.StatusPending, models.StatusCompleted)
	if err != nil || !ok {
		t.Fatalf("expected first CAS to win, ok=%v err=%v", ok, err)
	}

	// The losing trigger finds the status already moved.
	ok, err = st.UpdateStatusFrom(ctx, 2, models.StatusPending, models.StatusFailed)
	if err != nil {
		t.Fatalf("second CAS: %v", err)
	}
	if ok {
		t.Fatal("expected second CAS to lose")
	}

	rec, err := st.GetByOrder(ctx, 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
}

func TestUpdateStatusMissingOrder(t *testing.T) {
	st := newTestStore(t)
	err := st.UpdateStatus(context.Background(), 999, models.StatusFailed)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetByInvoiceNewestWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.Save(ctx, record(3, "inv-shared", models.StatusFailed, time.Hour)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Save(ctx, record(4, "inv-shared", models.StatusPending, 0)); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec, err := st.GetByInvoice(ctx, "inv-shared")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.OrderID != 4 {
		t.Fatalf("expected the newest row for a shared invoice id, got order %d", rec.OrderID)
	}
}

func TestGetByInvoiceNotFound(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.GetByInvoice(context.Background(), "inv-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetPendingWindow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Too fresh, inside the window, and too old.
	if err := st.Save(ctx, record(10, "inv-fresh", models.StatusPending, time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Save(ctx, record(11, "inv-due", models.StatusPending, 10*time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Save(ctx, record(12, "inv-stale", models.StatusPending, 90*time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}
	// In the window but already resolved.
	if err := st.Save(ctx, record(13, "inv-done", models.StatusCompleted, 10*time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}

	recs := st.GetPending(ctx, 2*time.Minute, 60*time.Minute)
	if len(recs) != 1 {
		t.Fatalf("expected exactly one sweepable payment, got %d", len(recs))
	}
	if recs[0].OrderID != 11 {
		t.Fatalf("expected order 11, got %d", recs[0].OrderID)
	}
}
