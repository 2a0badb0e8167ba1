// Package webhook is the ingress for asynchronous push notifications from
// the Payment API. Deliveries are authenticated before any state is
// touched, then handed to the reconciler.
package webhook

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/breez/breez-woocommerce/pkg/breez"
	"github.com/breez/breez-woocommerce/pkg/reconcile"
)

// payload is the delivery body. The API has sent the identifier under both
// names across versions, so either is accepted.
type payload struct {
	InvoiceID string `json:"invoice_id"`
	ID        string `json:"id"`
	Status    string `json:"status"`
	AmountSat int64  `json:"amount_sat"`
	FeesSat   int64  `json:"fees_sat"`
	Timestamp int64  `json:"timestamp"`
	Error     string `json:"error"`
}

func (p payload) invoice() string {
	if p.InvoiceID != "" {
		return p.InvoiceID
	}
	return p.ID
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Ingress validates and processes webhook deliveries.
type Ingress struct {
	validator  *Validator
	reconciler *reconcile.Reconciler
	log        zerolog.Logger
}

func NewIngress(v *Validator, r *reconcile.Reconciler, log zerolog.Logger) *Ingress {
	return &Ingress{validator: v, reconciler: r, log: log.With().Str("component", "webhook").Logger()}
}

// Handle is the gin handler for POST /webhook. A delivery that validates
// and names a known invoice is always acknowledged with 200, whether or not
// it caused a transition: redelivery of an already-applied status must look
// successful to the sender.
func (i *Ingress) Handle(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, response{Success: false, Message: "Invalid request data"})
		return
	}

	if err := i.validator.Validate(
		c.GetHeader(HeaderSignature),
		c.GetHeader(HeaderTimestamp),
		c.GetHeader(HeaderNonce),
		body,
	); err != nil {
		// Attacker-controlled input: log and reject, never retry.
		i.log.Error().Err(err).Str("remote", c.ClientIP()).Msg("webhook rejected")
		c.JSON(http.StatusUnauthorized, response{Success: false, Message: err.Error()})
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil || p.invoice() == "" || p.Status == "" {
		i.log.Error().Str("remote", c.ClientIP()).Msg("webhook payload missing required fields")
		c.JSON(http.StatusBadRequest, response{Success: false, Message: "Missing required fields"})
		return
	}

	status, err := breez.ParseAPIStatus(p.Status)
	if err != nil {
		i.log.Error().Err(err).Msg("webhook carried unrecognized status")
		c.JSON(http.StatusBadRequest, response{Success: false, Message: "Unrecognized payment status"})
		return
	}

	obs := breez.PaymentStatusResult{
		Status:      status,
		Destination: p.invoice(),
		AmountSat:   p.AmountSat,
		FeesSat:     p.FeesSat,
		Timestamp:   p.Timestamp,
		Error:       p.Error,
	}
	out, err := i.reconciler.Apply(c.Request.Context(), p.invoice(), obs)
	if errors.Is(err, reconcile.ErrPaymentNotFound) {
		c.JSON(http.StatusNotFound, response{Success: false, Message: "Payment not found"})
		return
	}
	if err != nil {
		i.log.Error().Err(err).Str("invoice_id", p.invoice()).Msg("webhook reconciliation failed")
		c.JSON(http.StatusInternalServerError, response{Success: false, Message: "Internal server error"})
		return
	}

	i.log.Debug().Str("invoice_id", p.invoice()).Bool("transitioned", out.Transitioned).
		Msg("webhook processed")
	c.JSON(http.StatusOK, response{Success: true, Message: "Webhook processed successfully"})
}
