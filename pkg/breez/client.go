package breez

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// APIError is a Payment API request that came back non-2xx after the retry
// budget was spent, or could not be sent at all (StatusCode 0).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("breez api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the API answered 404. Callers use this to
// treat missing webhook support as a polling fallback rather than a fault.
func (e *APIError) IsNotFound() bool { return e.StatusCode == 404 }

// PaymentCreated is the result of a successful receive_payment call.
type PaymentCreated struct {
	Destination string
	FeesSat     int64
}

// PaymentStatusResult is a normalized status observation. It is what all
// three reconciliation triggers feed into the reconciler.
type PaymentStatusResult struct {
	Status      APIStatus `json:"status"`
	Destination string    `json:"destination"`
	AmountSat   int64     `json:"amount_sat,omitempty"`
	FeesSat     int64     `json:"fees_sat,omitempty"`
	Timestamp   int64     `json:"timestamp,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Client is a stateless HTTP client for the Breez Payment API. Requests
// carry the static API key; transient failures (network errors, 5xx, and
// 404 because it can mean "not yet visible") are retried twice with
// exponential backoff before surfacing an *APIError.
type Client struct {
	rest *resty.Client
	log  zerolog.Logger
}

// NewClient builds a client for the given API base URL and key.
func NewClient(apiURL, apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	rest := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("x-api-key", apiKey).
		SetRetryCount(2).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			attempt := 1
			if resp != nil && resp.Request != nil {
				attempt = resp.Request.Attempt
			}
			return time.Duration(1<<(attempt-1)) * time.Second, nil
		}).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == 404 || resp.StatusCode() >= 500
		})

	return &Client{rest: rest, log: log.With().Str("component", "breez-client").Logger()}
}

type receivePaymentRequest struct {
	Amount      int64  `json:"amount"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

type receivePaymentResponse struct {
	Destination string `json:"destination"`
	FeesSat     int64  `json:"fees_sat"`
}

// CreatePayment requests a new invoice or address for the given amount in
// satoshis. A 2xx response without a destination is treated as a failure.
func (c *Client) CreatePayment(ctx context.Context, amountSat int64, method PaymentMethod, description string) (*PaymentCreated, error) {
	var out receivePaymentResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(receivePaymentRequest{Amount: amountSat, Method: string(method), Description: description}).
		SetResult(&out).
		Post("/receive_payment")
	if err := c.requestErr(resp, err); err != nil {
		c.log.Error().Err(err).Int64("amount_sat", amountSat).Msg("payment creation failed")
		return nil, err
	}
	if out.Destination == "" {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: "invalid response: missing payment destination"}
	}
	c.log.Debug().Str("destination", out.Destination).Int64("amount_sat", amountSat).
		Str("method", string(method)).Msg("payment created")
	return &PaymentCreated{Destination: out.Destination, FeesSat: out.FeesSat}, nil
}

type statusResponse struct {
	Status    string `json:"status"`
	AmountSat int64  `json:"amount_sat"`
	FeesSat   int64  `json:"fees_sat"`
	Timestamp int64  `json:"timestamp"`
	Error     string `json:"error"`
}

// CheckStatus fetches the current API status for an invoice. An UNKNOWN
// answer is not an error: "payment not yet visible" and "payment in
// progress" look identical to callers, so both come back as PENDING.
func (c *Client) CheckStatus(ctx context.Context, invoiceID string) (*PaymentStatusResult, error) {
	var out statusResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/check_payment_status/" + invoiceID)
	if err := c.requestErr(resp, err); err != nil {
		c.log.Error().Err(err).Str("invoice_id", invoiceID).Msg("payment status check failed")
		return nil, err
	}

	status, err := ParseAPIStatus(out.Status)
	if err != nil {
		return nil, err
	}
	if status == StatusUnknown {
		c.log.Debug().Str("invoice_id", invoiceID).Msg("payment not found by API, treating as pending")
		return &PaymentStatusResult{Status: StatusPending, Destination: invoiceID}, nil
	}

	return &PaymentStatusResult{
		Status:      status,
		Destination: invoiceID,
		AmountSat:   out.AmountSat,
		FeesSat:     out.FeesSat,
		Timestamp:   out.Timestamp,
		Error:       out.Error,
	}, nil
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

// GetExchangeRate returns the fiat-per-BTC rate for a currency code.
func (c *Client) GetExchangeRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	var out rateResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/exchange_rates/" + strings.ToUpper(currency))
	if err := c.requestErr(resp, err); err != nil {
		return decimal.Zero, err
	}
	if out.Rate.Sign() <= 0 {
		return decimal.Zero, &APIError{StatusCode: resp.StatusCode(), Message: "invalid exchange rate response"}
	}
	return out.Rate, nil
}

type registerWebhookRequest struct {
	WebhookURL string `json:"webhook_url"`
}

type registerWebhookResponse struct {
	Success bool `json:"success"`
}

// RegisterWebhookURL registers the ingress URL with the API. Registration
// is best effort: a 404 means this API deployment has no webhook support
// and the gateway falls back to polling and sweeping.
func (c *Client) RegisterWebhookURL(ctx context.Context, webhookURL string) (bool, error) {
	if webhookURL == "" {
		return false, fmt.Errorf("breez: webhook URL is required")
	}
	var out registerWebhookResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(registerWebhookRequest{WebhookURL: webhookURL}).
		SetResult(&out).
		Post("/register_webhook")
	if err := c.requestErr(resp, err); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			c.log.Debug().Msg("webhook registration endpoint not found, webhooks unsupported")
			return false, nil
		}
		return false, err
	}
	if !out.Success {
		c.log.Error().Str("url", webhookURL).Msg("webhook registration rejected")
		return false, nil
	}
	c.log.Info().Str("url", webhookURL).Msg("webhook registered")
	return true, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// CheckHealth reports whether the API answers its health probe.
func (c *Client) CheckHealth(ctx context.Context) bool {
	var out healthResponse
	resp, err := c.rest.R().SetContext(ctx).SetResult(&out).Get("/health")
	if err := c.requestErr(resp, err); err != nil {
		c.log.Error().Err(err).Msg("API health check failed")
		return false
	}
	return out.Status == "ok"
}

// requestErr folds transport errors and non-2xx responses into *APIError.
// The error message prefers the message/error field of a JSON error body,
// the way the API reports rejections.
func (c *Client) requestErr(resp *resty.Response, err error) error {
	if err != nil {
		return &APIError{StatusCode: 0, Message: err.Error()}
	}
	if resp.IsSuccess() {
		return nil
	}
	message := strings.TrimSpace(resp.String())
	var decoded map[string]any
	if jsonErr := json.Unmarshal(resp.Body(), &decoded); jsonErr == nil {
		if m, ok := decoded["message"].(string); ok && m != "" {
			message = m
		} else if m, ok := decoded["error"].(string); ok && m != "" {
			message = m
		}
	}
	return &APIError{StatusCode: resp.StatusCode(), Message: message}
}
