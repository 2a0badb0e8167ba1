package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/breez/breez-woocommerce/pkg/models"
)

// ErrNotFound is returned by lookups when no payment row matches.
var ErrNotFound = errors.New("store: payment not found")

// PaymentStore persists payment records. One row per order: Save upserts on
// order_id, so a retried checkout replaces the previous attempt instead of
// duplicating it.
type PaymentStore struct {
	db  *gorm.DB
	log zerolog.Logger
}

func New(db *gorm.DB, log zerolog.Logger) *PaymentStore {
	return &PaymentStore{db: db, log: log.With().Str("component", "payment-store").Logger()}
}

// Save writes the payment record for an order, replacing any previous
// attempt for the same order.
func (s *PaymentStore) Save(ctx context.Context, rec *models.PaymentRecord) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"invoice_id", "amount", "currency", "status", "metadata", "created_at", "updated_at",
			}),
		}).
		Create(rec).Error
	if err != nil {
		s.log.Error().Err(err).Uint("order_id", rec.OrderID).Msg("failed to save payment")
		return err
	}
	s.log.Debug().Uint("order_id", rec.OrderID).Str("invoice_id", rec.InvoiceID).
		Str("status", string(rec.Status)).Msg("payment saved")
	return nil
}

// UpdateStatus sets the status unconditionally and bumps updated_at. It
// does not enforce monotonicity; the reconciler is responsible for never
// calling it on a terminal record.
func (s *PaymentStore) UpdateStatus(ctx context.Context, orderID uint, status models.PaymentStatus) error {
	res := s.db.WithContext(ctx).Model(&models.PaymentRecord{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		s.log.Error().Err(res.Error).Uint("order_id", orderID).Msg("failed to update payment status")
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatusFrom is a compare-and-swap: the status is written only if the
// stored status still equals from. Returns false when another trigger got
// there first, which callers treat as "someone else won, no-op".
func (s *PaymentStore) UpdateStatusFrom(ctx context.Context, orderID uint, from, to models.PaymentStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.PaymentRecord{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		s.log.Error().Err(res.Error).Uint("order_id", orderID).Msg("failed to update payment status")
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetByOrder returns the payment record for an order.
func (s *PaymentStore) GetByOrder(ctx context.Context, orderID uint) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByInvoice returns the payment record for an invoice/destination id.
// The invoice id is not globally unique by contract, so the newest row wins.
func (s *PaymentStore) GetByInvoice(ctx context.Context, invoiceID string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := s.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).
		Order("id DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetPending lists pending payments created inside (now-maxAge, now-minAge).
// The lower bound keeps the sweeper off payments the browser poller has not
// had a chance to resolve yet; the upper bound drops abandoned payments that
// expiry handling already gave up on. Storage errors come back as an empty
// list so a sweep degrades instead of aborting.
func (s *PaymentStore) GetPending(ctx context.Context, minAge, maxAge time.Duration) []models.PaymentRecord {
	now := time.Now()
	var recs []models.PaymentRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Where("created_at < ?", now.Add(-minAge)).
		Where("created_at > ?", now.Add(-maxAge)).
		Find(&recs).Error
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list pending payments")
		return nil
	}
	return recs
}
