// Package gateway implements the checkout side of the integration:
// pricing an order in satoshis, requesting an invoice from the Payment
// API, and persisting the pending payment record.
package gateway

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/breez/breez-woocommerce/pkg/breez"
	"github.com/breez/breez-woocommerce/pkg/config"
	apperrors "github.com/breez/breez-woocommerce/pkg/errors"
	"github.com/breez/breez-woocommerce/pkg/models"
	"github.com/breez/breez-woocommerce/pkg/orders"
	"github.com/breez/breez-woocommerce/pkg/rates"
)

var satsPerBTC = decimal.NewFromInt(100_000_000)

// Creator is the slice of the API client the gateway needs.
type Creator interface {
	CreatePayment(ctx context.Context, amountSat int64, method breez.PaymentMethod, description string) (*breez.PaymentCreated, error)
}

// Saver persists the payment record produced at checkout.
type Saver interface {
	Save(ctx context.Context, rec *models.PaymentRecord) error
}

// CheckoutResult is what the payment page needs to render the invoice.
type CheckoutResult struct {
	InvoiceID string              `json:"invoice_id"`
	Method    breez.PaymentMethod `json:"method"`
	AmountSat int64               `json:"amount_sat"`
	ExpiresAt int64               `json:"expires_at"`
}

// Gateway drives payment creation for orders.
type Gateway struct {
	client Creator
	rates  rates.Source
	store  Saver
	host   orders.Host
	cfg    *config.BreezConfig
	log    zerolog.Logger
}

func New(client Creator, rateSource rates.Source, st Saver, host orders.Host, cfg *config.BreezConfig, log zerolog.Logger) *Gateway {
	return &Gateway{
		client: client,
		rates:  rateSource,
		store:  st,
		host:   host,
		cfg:    cfg,
		log:    log.With().Str("component", "gateway").Logger(),
	}
}

// ProcessPayment creates a payment for an order. The record is written only
// after the API call succeeds, so a failed creation leaves no pending row;
// a retried checkout for the same order replaces the previous record.
func (g *Gateway) ProcessPayment(ctx context.Context, orderID uint, methodSlug string) (*CheckoutResult, error) {
	ord, err := g.host.Get(ctx, orderID)
	if err != nil {
		return nil, apperrors.ErrOrderNotFound
	}

	if methodSlug == "" {
		return nil, apperrors.ErrNoMethodSelected
	}
	if !slices.Contains(g.cfg.PaymentMethods, methodSlug) {
		return nil, apperrors.ErrInvalidMethod
	}
	method, err := breez.MethodFromSlug(methodSlug)
	if err != nil {
		return nil, apperrors.ErrInvalidMethod
	}

	rate, err := g.rates.Rate(ctx, ord.Currency)
	if err != nil {
		return nil, apperrors.ErrExchangeRateFailed
	}

	amountSat := ConvertToSats(ord.Total, rate)
	if amountSat <= 0 {
		return nil, apperrors.ErrInvalidAmount
	}
	g.log.Debug().Uint("order_id", orderID).Str("total", ord.Total.String()).
		Str("currency", ord.Currency).Str("rate", rate.String()).
		Int64("amount_sat", amountSat).Msg("priced order")

	description := g.cfg.DefaultDescription
	if description == "" {
		description = fmt.Sprintf("Payment for order #%d", orderID)
	}

	created, err := g.client.CreatePayment(ctx, amountSat, method, description)
	if err != nil {
		g.log.Error().Err(err).Uint("order_id", orderID).Msg("payment creation failed")
		return nil, apperrors.ErrCreationFailed
	}

	now := time.Now()
	expiresAt := now.Add(g.cfg.Expiry()).Unix()
	metadata, err := models.EncodeMetadata(models.PaymentMetadata{
		PaymentMethod: string(method),
		ExchangeRate:  rate,
		AmountSat:     amountSat,
		FeesSat:       created.FeesSat,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		return nil, err
	}

	rec := &models.PaymentRecord{
		OrderID:   orderID,
		InvoiceID: created.Destination,
		Amount:    ord.Total,
		Currency:  ord.Currency,
		Status:    models.StatusPending,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.store.Save(ctx, rec); err != nil {
		return nil, err
	}

	note := fmt.Sprintf("Breez payment created. Method: %s, ID: %s, Amount: %d sats",
		method, created.Destination, amountSat)
	if err := g.host.MarkPendingPayment(ctx, orderID, note); err != nil {
		// The record exists and the sweeper will reconcile it; the order
		// note is advisory.
		g.log.Error().Err(err).Uint("order_id", orderID).Msg("failed to move order to pending payment")
	}

	g.log.Info().Uint("order_id", orderID).Str("invoice_id", created.Destination).
		Int64("amount_sat", amountSat).Msg("payment created")
	return &CheckoutResult{
		InvoiceID: created.Destination,
		Method:    method,
		AmountSat: amountSat,
		ExpiresAt: expiresAt,
	}, nil
}

// ConvertToSats prices a fiat amount in satoshis at the given fiat-per-BTC
// rate, truncating sub-satoshi precision.
func ConvertToSats(amount, rate decimal.Decimal) int64 {
	if rate.Sign() <= 0 {
		return 0
	}
	return amount.Div(rate).Mul(satsPerBTC).IntPart()
}
