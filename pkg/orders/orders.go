// Package orders is the boundary to the host platform's order model. The
// gateway never touches order storage directly; the host registers a Host
// implementation at startup and the reconciler drives it.
package orders

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Host implementations when an order id does
// not resolve to an order.
var ErrNotFound = errors.New("orders: not found")

// State is the host order status, reduced to the values the gateway needs
// to make decisions.
type State string

const (
	StatePending    State = "pending" // awaiting payment
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Paid reports whether the order already had its payment side effect.
func (s State) Paid() bool {
	return s == StateProcessing || s == StateCompleted
}

// Order is the read view of a host order used at checkout time.
type Order struct {
	ID       uint
	Total    decimal.Decimal
	Currency string
	State    State
}

// Receipt is the audit payload attached to an order when it is marked paid.
type Receipt struct {
	InvoiceID string
	AmountSat int64
	FeesSat   int64
	PaidAt    time.Time
}

// Host is implemented by the e-commerce platform. Complete must be
// idempotent on its side as well, but the reconciler additionally guards it
// with a State read so the payment-complete side effect fires exactly once.
type Host interface {
	// Get returns the order, or an error satisfying errors.Is(err, ErrNotFound).
	Get(ctx context.Context, orderID uint) (*Order, error)

	// MarkPendingPayment moves a fresh order into the awaiting-payment
	// state and records an audit note.
	MarkPendingPayment(ctx context.Context, orderID uint, note string) error

	// Complete marks the order paid and attaches the receipt as an audit
	// note. Called only while the order is still unpaid.
	Complete(ctx context.Context, orderID uint, receipt Receipt) error

	// Fail marks the order failed with a reason. Called only while the
	// order is still in its initial pending state.
	Fail(ctx context.Context, orderID uint, reason string) error
}
