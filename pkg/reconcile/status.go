package reconcile

import (
	"fmt"

	"github.com/breez/breez-woocommerce/pkg/breez"
	"github.com/breez/breez-woocommerce/pkg/models"
)

// MapStatus resolves an API status to the canonical store status.
//
//	SUCCEEDED              -> completed
//	WAITING_CONFIRMATION   -> completed  (claim tx broadcast: irreversible
//	                                      enough to fulfill the order)
//	PENDING                -> pending    (lockup tx broadcast)
//	WAITING_FEE_ACCEPTANCE -> pending    (needs fee approval)
//	FAILED                 -> failed     (expired or lockup tx failed)
//	UNKNOWN                -> pending    (not found or ambiguous)
//
// The mapping is total over the closed APIStatus set; anything else is an
// error so a new API status fails loudly instead of silently passing as
// pending.
func MapStatus(s breez.APIStatus) (models.PaymentStatus, error) {
	switch s {
	case breez.StatusSucceeded, breez.StatusWaitingConfirmation:
		return models.StatusCompleted, nil
	case breez.StatusPending, breez.StatusWaitingFeeAcceptance, breez.StatusUnknown:
		return models.StatusPending, nil
	case breez.StatusFailed:
		return models.StatusFailed, nil
	}
	return "", fmt.Errorf("reconcile: no canonical mapping for API status %q", s)
}
