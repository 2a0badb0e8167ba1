package errors

import "github.com/flaboy/pin/usererrors"

// Payment gateway errors surfaced to the storefront
var (
	ErrGatewayNotConfigured = usererrors.New("payment.gateway_not_configured", "Payment gateway not properly configured")
	ErrOrderNotFound        = usererrors.New("payment.order_not_found", "Order not found")
	ErrPaymentNotFound      = usererrors.New("payment.not_found", "Payment not found")
	ErrInvalidMethod        = usererrors.New("payment.invalid_method", "Invalid payment method")
	ErrNoMethodSelected     = usererrors.New("payment.no_method_selected", "No payment method selected")
	ErrExchangeRateFailed   = usererrors.New("payment.exchange_rate_failed", "Failed to get exchange rate")
	ErrInvalidAmount        = usererrors.New("payment.invalid_amount", "Invalid amount conversion")
	ErrCreationFailed       = usererrors.New("payment.creation_failed", "Payment creation failed")
)

// Webhook ingress errors
var (
	ErrWebhookSecretMissing = usererrors.New("webhook.secret_missing", "Webhook secret is not configured")
	ErrWebhookHeaders       = usererrors.New("webhook.missing_headers", "Missing signature headers")
	ErrWebhookStale         = usererrors.New("webhook.stale_timestamp", "Webhook timestamp outside freshness window")
	ErrWebhookReplay        = usererrors.New("webhook.nonce_replayed", "Webhook nonce already seen")
	ErrWebhookSignature     = usererrors.New("webhook.bad_signature", "Invalid webhook signature")
	ErrWebhookPayload       = usererrors.New("webhook.bad_payload", "Missing required fields")
)
