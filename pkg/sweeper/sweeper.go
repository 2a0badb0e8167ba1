// Package sweeper is the safety net of the reconciliation engine: a
// periodic pass over payments still pending in storage, covering the case
// where neither the browser poller nor a webhook delivery ever arrived.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/breez/breez-woocommerce/pkg/breez"
	"github.com/breez/breez-woocommerce/pkg/models"
	"github.com/breez/breez-woocommerce/pkg/reconcile"
)

// Lister is the slice of the payment store the sweeper needs.
type Lister interface {
	GetPending(ctx context.Context, minAge, maxAge time.Duration) []models.PaymentRecord
}

// Sweeper re-polls pending payments through the reconciler on a fixed
// interval and enforces client-side payment expiry, which the API itself
// has no notion of.
type Sweeper struct {
	store      Lister
	checker    reconcile.Checker
	reconciler *reconcile.Reconciler
	interval   time.Duration
	minAge     time.Duration
	maxAge     time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

func New(st Lister, checker reconcile.Checker, rec *reconcile.Reconciler, interval, minAge, maxAge time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:      st,
		checker:    checker,
		reconciler: rec,
		interval:   interval,
		minAge:     minAge,
		maxAge:     maxAge,
		log:        log.With().Str("component", "sweeper").Logger(),
		now:        time.Now,
	}
}

// Run sweeps on the configured interval until the context is canceled. A
// restart loses nothing: the sweep re-derives all of its work from storage.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. Records are independent: one record's
// failure never aborts the rest of the pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	log := s.log.With().Str("sweep_id", uuid.NewString()[:8]).Logger()

	pending := s.store.GetPending(ctx, s.minAge, s.maxAge)
	if len(pending) == 0 {
		log.Debug().Msg("no pending payments to check")
		return
	}
	log.Debug().Int("count", len(pending)).Msg("checking pending payments")

	for i := range pending {
		s.sweepOne(ctx, log, &pending[i])
	}
	log.Debug().Msg("finished checking pending payments")
}

func (s *Sweeper) sweepOne(ctx context.Context, log zerolog.Logger, rec *models.PaymentRecord) {
	log = log.With().Str("invoice_id", rec.InvoiceID).Uint("order_id", rec.OrderID).Logger()

	obs, err := s.checker.CheckStatus(ctx, rec.InvoiceID)
	if err != nil {
		// Retry budget spent; the record stays pending for the next sweep.
		log.Error().Err(err).Msg("status check failed, leaving payment pending")
		return
	}

	out, err := s.reconciler.Apply(ctx, rec.InvoiceID, *obs)
	if errors.Is(err, reconcile.ErrPaymentNotFound) {
		log.Debug().Msg("payment vanished from store, skipping")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("reconciliation failed")
		return
	}
	if out.Status != models.StatusPending {
		return
	}

	// Still pending after the API check: enforce the client-side expiry
	// window recorded at creation time.
	meta, err := models.DecodeMetadata(rec.Metadata)
	if err != nil {
		log.Error().Err(err).Msg("unreadable payment metadata")
		return
	}
	if !meta.Expired(s.now()) {
		return
	}

	log.Info().Msg("payment expired, forcing failure")
	expired := breez.PaymentStatusResult{
		Status:      breez.StatusFailed,
		Destination: rec.InvoiceID,
		Error:       "Payment expired",
	}
	if _, err := s.reconciler.Apply(ctx, rec.InvoiceID, expired); err != nil {
		log.Error().Err(err).Msg("failed to expire payment")
	}
}
