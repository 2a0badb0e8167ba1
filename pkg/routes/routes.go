// Package routes mounts the gateway's REST surface on the host's gin
// engine: the webhook ingress, the status-check endpoints the storefront
// poller calls, and a manual sweep trigger for deployments that drive the
// sweeper from an external scheduler.
package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/breez/breez-woocommerce/pkg/breez"
	"github.com/breez/breez-woocommerce/pkg/models"
	"github.com/breez/breez-woocommerce/pkg/reconcile"
	"github.com/breez/breez-woocommerce/pkg/store"
	"github.com/breez/breez-woocommerce/pkg/sweeper"
	"github.com/breez/breez-woocommerce/pkg/webhook"
)

// APIResponse is the envelope shared by all status endpoints.
type APIResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Handlers bundles everything the REST surface needs.
type Handlers struct {
	store      *store.PaymentStore
	checker    reconcile.Checker
	reconciler *reconcile.Reconciler
	ingress    *webhook.Ingress
	sweeper    *sweeper.Sweeper
	log        zerolog.Logger
}

func NewHandlers(st *store.PaymentStore, checker reconcile.Checker, rec *reconcile.Reconciler, ingress *webhook.Ingress, sw *sweeper.Sweeper, log zerolog.Logger) *Handlers {
	return &Handlers{
		store:      st,
		checker:    checker,
		reconciler: rec,
		ingress:    ingress,
		sweeper:    sw,
		log:        log.With().Str("component", "routes").Logger(),
	}
}

// Register mounts all endpoints under /breez-wc/v1.
func Register(r gin.IRouter, h *Handlers) {
	v1 := r.Group("/breez-wc/v1")
	v1.Use(requestID())

	v1.POST("/webhook", h.ingress.Handle)
	v1.GET("/check-payment-status", h.checkByOrder)
	v1.POST("/check-payment-status", h.submitByOrder)
	v1.GET("/check-payment-status/:invoice_id", h.checkByInvoice)
	v1.POST("/sweep", h.sweep)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// checkByOrder handles GET /check-payment-status?order_id=N: a live
// reconciliation poll on behalf of the browser.
func (h *Handlers) checkByOrder(c *gin.Context) {
	orderID := cast.ToUint(c.Query("order_id"))
	if orderID == 0 {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Message: "Missing order_id"})
		return
	}

	rec, err := h.store.GetByOrder(c.Request.Context(), orderID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, APIResponse{Success: false, Message: "No payment invoice found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, APIResponse{Success: false, Message: "Internal server error"})
		return
	}

	h.pollAndRespond(c, rec.InvoiceID)
}

// submitByOrder handles POST /check-payment-status?order_id=N. The client
// asserts a terminal status, but its claim is only a hint: the status is
// re-verified against the Payment API before anything is applied, so a
// forged SUCCEEDED cannot complete an order the API does not consider paid.
func (h *Handlers) submitByOrder(c *gin.Context) {
	orderID := cast.ToUint(c.Query("order_id"))
	if orderID == 0 {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Message: "Missing order_id"})
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Status == "" {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Message: "Missing required fields"})
		return
	}
	claimed, err := breez.ParseAPIStatus(body.Status)
	if err != nil || (claimed != breez.StatusSucceeded && claimed != breez.StatusFailed) {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Message: "Unrecognized payment status"})
		return
	}

	rec, err := h.store.GetByOrder(c.Request.Context(), orderID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, APIResponse{Success: false, Message: "No payment invoice found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, APIResponse{Success: false, Message: "Internal server error"})
		return
	}

	h.log.Debug().Uint("order_id", orderID).Str("claimed", string(claimed)).
		Msg("client-asserted status, re-verifying against API")
	h.pollAndRespond(c, rec.InvoiceID)
}

// checkByInvoice handles GET /check-payment-status/{invoice_id}.
func (h *Handlers) checkByInvoice(c *gin.Context) {
	h.pollAndRespond(c, c.Param("invoice_id"))
}

func (h *Handlers) pollAndRespond(c *gin.Context, invoiceID string) {
	obs, out, err := h.reconciler.PollInvoice(c.Request.Context(), h.checker, invoiceID)
	if errors.Is(err, reconcile.ErrPaymentNotFound) {
		c.JSON(http.StatusNotFound, APIResponse{Success: false, Message: "Payment not found"})
		return
	}
	if err != nil {
		// The storefront poller swallows this and retries on its next
		// interval; nothing user-facing leaks here.
		h.log.Error().Err(err).Str("invoice_id", invoiceID).Msg("payment status check failed")
		c.JSON(http.StatusInternalServerError, APIResponse{Success: false, Message: "Internal server error"})
		return
	}

	status := models.StatusPending
	if out != nil {
		status = out.Status
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Status: string(status), Data: obs})
}

// sweep handles POST /sweep: the externally-scheduled alternative to the
// built-in ticker.
func (h *Handlers) sweep(c *gin.Context) {
	h.sweeper.RunOnce(c.Request.Context())
	c.JSON(http.StatusOK, APIResponse{Success: true, Message: "Sweep completed"})
}
