// Package reconcile drives the payment lifecycle state machine. Three
// independent triggers race against the same record: the browser poller,
// the webhook ingress, and the periodic sweeper. All of them funnel their
// status observations through Reconciler.Apply, which guarantees that the
// order-side effect of a terminal transition fires exactly once.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/breez/breez-woocommerce/pkg/breez"
	"github.com/breez/breez-woocommerce/pkg/models"
	"github.com/breez/breez-woocommerce/pkg/orders"
	"github.com/breez/breez-woocommerce/pkg/store"
)

// ErrPaymentNotFound is the only terminating error path of Apply: no
// payment record exists for the observed invoice. Webhook and poll callers
// surface it as 404, the sweeper skips the record.
var ErrPaymentNotFound = errors.New("reconcile: payment not found")

// Store is the slice of the payment store the reconciler needs.
type Store interface {
	GetByInvoice(ctx context.Context, invoiceID string) (*models.PaymentRecord, error)
	UpdateStatusFrom(ctx context.Context, orderID uint, from, to models.PaymentStatus) (bool, error)
}

// Checker re-polls the Payment API for a live status.
type Checker interface {
	CheckStatus(ctx context.Context, invoiceID string) (*breez.PaymentStatusResult, error)
}

// Outcome describes what a reconciliation pass did.
type Outcome struct {
	OrderID      uint
	Previous     models.PaymentStatus
	Status       models.PaymentStatus
	Transitioned bool
	OrderUpdated bool
}

// Reconciler applies status observations to payment records and drives the
// host order. Per-invoice atomicity is belt and braces: an in-process keyed
// mutex serializes overlapping triggers in this instance, and the store's
// compare-and-swap keeps a second instance from double-firing side effects.
type Reconciler struct {
	store Store
	host  orders.Host
	locks *keyedMutex
	log   zerolog.Logger
}

func New(st Store, host orders.Host, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store: st,
		host:  host,
		locks: newKeyedMutex(),
		log:   log.With().Str("component", "reconciler").Logger(),
	}
}

// Apply reconciles one status observation for an invoice.
//
// The pass is idempotent: observing the currently stored status, or any
// status once the record is terminal, is a no-op. That is what makes
// duplicate webhook deliveries and overlapping pollers safe.
func (r *Reconciler) Apply(ctx context.Context, invoiceID string, obs breez.PaymentStatusResult) (*Outcome, error) {
	unlock := r.locks.Lock(invoiceID)
	defer unlock()

	rec, err := r.store.GetByInvoice(ctx, invoiceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}

	next, err := MapStatus(obs.Status)
	if err != nil {
		return nil, err
	}

	out := &Outcome{OrderID: rec.OrderID, Previous: rec.Status, Status: rec.Status}
	if rec.Status == next || rec.Status.Terminal() {
		return out, nil
	}

	flipped, err := r.store.UpdateStatusFrom(ctx, rec.OrderID, rec.Status, next)
	if err != nil {
		return nil, err
	}
	if !flipped {
		// Another trigger transitioned the record first; it owns the side
		// effect.
		r.log.Debug().Str("invoice_id", invoiceID).Uint("order_id", rec.OrderID).
			Msg("lost status race, skipping side effects")
		return out, nil
	}

	out.Status = next
	out.Transitioned = true
	r.log.Info().Str("invoice_id", invoiceID).Uint("order_id", rec.OrderID).
		Str("old_status", string(rec.Status)).Str("new_status", string(next)).
		Msg("payment status updated")

	switch next {
	case models.StatusCompleted:
		out.OrderUpdated = r.completeOrder(ctx, rec, obs)
	case models.StatusFailed:
		out.OrderUpdated = r.failOrder(ctx, rec, obs)
	}
	return out, nil
}

// PollInvoice checks the live API status for an invoice and reconciles it.
// A record that is already completed locally answers from the store without
// an API round trip.
func (r *Reconciler) PollInvoice(ctx context.Context, checker Checker, invoiceID string) (*breez.PaymentStatusResult, *Outcome, error) {
	if rec, err := r.store.GetByInvoice(ctx, invoiceID); err == nil && rec.Status == models.StatusCompleted {
		meta, _ := models.DecodeMetadata(rec.Metadata)
		return &breez.PaymentStatusResult{
			Status:      breez.StatusSucceeded,
			Destination: invoiceID,
			AmountSat:   meta.AmountSat,
			FeesSat:     meta.FeesSat,
		}, &Outcome{OrderID: rec.OrderID, Previous: rec.Status, Status: rec.Status}, nil
	}

	obs, err := checker.CheckStatus(ctx, invoiceID)
	if err != nil {
		// Retry budget exhausted: leave the record as is, the next trigger
		// re-attempts.
		return nil, nil, err
	}
	out, err := r.Apply(ctx, invoiceID, *obs)
	if err != nil {
		return obs, nil, err
	}
	return obs, out, nil
}

// completeOrder marks the order paid, guarded by the order still being
// unpaid. A failure here is logged, not retried in line: the record status
// is already terminal, so the record/order pair stays best effort.
func (r *Reconciler) completeOrder(ctx context.Context, rec *models.PaymentRecord, obs breez.PaymentStatusResult) bool {
	ord, err := r.host.Get(ctx, rec.OrderID)
	if err != nil {
		r.log.Error().Err(err).Uint("order_id", rec.OrderID).Msg("order lookup failed during completion")
		return false
	}
	if ord.State.Paid() {
		return false
	}

	meta, _ := models.DecodeMetadata(rec.Metadata)
	receipt := orders.Receipt{
		InvoiceID: rec.InvoiceID,
		AmountSat: obs.AmountSat,
		FeesSat:   obs.FeesSat,
		PaidAt:    time.Now(),
	}
	if receipt.AmountSat == 0 {
		receipt.AmountSat = meta.AmountSat
	}
	if receipt.FeesSat == 0 {
		receipt.FeesSat = meta.FeesSat
	}
	if obs.Timestamp > 0 {
		receipt.PaidAt = time.Unix(obs.Timestamp, 0)
	}

	if err := r.host.Complete(ctx, rec.OrderID, receipt); err != nil {
		r.log.Error().Err(err).Uint("order_id", rec.OrderID).Msg("failed to mark order paid")
		return false
	}
	r.log.Info().Uint("order_id", rec.OrderID).Str("invoice_id", rec.InvoiceID).
		Int64("amount_sat", receipt.AmountSat).Msg("order payment completed")
	return true
}

// failOrder marks the order failed, but never downgrades an order that has
// already moved past its initial pending state.
func (r *Reconciler) failOrder(ctx context.Context, rec *models.PaymentRecord, obs breez.PaymentStatusResult) bool {
	ord, err := r.host.Get(ctx, rec.OrderID)
	if err != nil {
		r.log.Error().Err(err).Uint("order_id", rec.OrderID).Msg("order lookup failed during failure handling")
		return false
	}
	if ord.State != orders.StatePending {
		return false
	}

	reason := obs.Error
	if reason == "" {
		reason = "Payment failed or expired"
	}
	if err := r.host.Fail(ctx, rec.OrderID, reason); err != nil {
		r.log.Error().Err(err).Uint("order_id", rec.OrderID).Msg("failed to mark order failed")
		return false
	}
	r.log.Info().Uint("order_id", rec.OrderID).Str("invoice_id", rec.InvoiceID).
		Str("reason", reason).Msg("order payment failed")
	return true
}
