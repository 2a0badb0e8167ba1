package breez

import "fmt"

// APIStatus is the payment status vocabulary of the Breez Payment API. It
// is richer than the canonical store status; pkg/reconcile owns the mapping
// between the two.
type APIStatus string

const (
	StatusPending              APIStatus = "PENDING"
	StatusWaitingFeeAcceptance APIStatus = "WAITING_FEE_ACCEPTANCE"
	StatusWaitingConfirmation  APIStatus = "WAITING_CONFIRMATION"
	StatusSucceeded            APIStatus = "SUCCEEDED"
	StatusFailed               APIStatus = "FAILED"
	StatusUnknown              APIStatus = "UNKNOWN"
)

// ParseAPIStatus validates a wire status. Anything outside the closed set
// is an error so that a newly introduced API status shows up loudly instead
// of being silently treated as pending.
func ParseAPIStatus(s string) (APIStatus, error) {
	switch APIStatus(s) {
	case StatusPending, StatusWaitingFeeAcceptance, StatusWaitingConfirmation,
		StatusSucceeded, StatusFailed, StatusUnknown:
		return APIStatus(s), nil
	}
	return "", fmt.Errorf("breez: unrecognized payment status %q", s)
}

// PaymentMethod selects the invoice type requested from the API.
type PaymentMethod string

const (
	MethodLightning      PaymentMethod = "LIGHTNING"
	MethodBitcoinAddress PaymentMethod = "BITCOIN_ADDRESS"
)

// MethodFromSlug maps the checkout form values to API methods.
func MethodFromSlug(slug string) (PaymentMethod, error) {
	switch slug {
	case "lightning":
		return MethodLightning, nil
	case "onchain":
		return MethodBitcoinAddress, nil
	}
	return "", fmt.Errorf("breez: unsupported payment method %q", slug)
}
