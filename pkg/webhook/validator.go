package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spf13/cast"

	apperrors "github.com/breez/breez-woocommerce/pkg/errors"
)

const (
	// HeaderSignature etc. are the push-notification authentication headers.
	HeaderSignature = "X-Breez-Signature"
	HeaderTimestamp = "X-Breez-Timestamp"
	HeaderNonce     = "X-Breez-Nonce"

	// freshnessWindow bounds acceptable clock skew and delivery delay.
	freshnessWindow = 300 * time.Second

	// nonceCapacity and nonceRetention bound the replay set. 1000 nonces
	// retained for 24h comfortably covers the freshness window many times
	// over at any realistic delivery rate.
	nonceCapacity  = 1000
	nonceRetention = 24 * time.Hour
)

// Validator authenticates inbound webhook deliveries: shared-secret HMAC,
// timestamp freshness, and nonce replay protection. All checks are
// mandatory and short-circuit on the first failure.
type Validator struct {
	secret []byte
	nonces *expirable.LRU[string, struct{}]
	now    func() time.Time
}

// NewValidator builds a validator for the configured shared secret. An
// empty secret is allowed here but rejects every request: absence of
// configuration fails closed.
func NewValidator(secret string) *Validator {
	return &Validator{
		secret: []byte(secret),
		nonces: expirable.NewLRU[string, struct{}](nonceCapacity, nil, nonceRetention),
		now:    time.Now,
	}
}

// Validate checks one delivery. On success the nonce is recorded
// immediately, so a replay is rejected even if processing the payload
// fails partway through.
func (v *Validator) Validate(signature, timestamp, nonce string, body []byte) error {
	if len(v.secret) == 0 {
		return apperrors.ErrWebhookSecretMissing
	}
	if signature == "" || timestamp == "" || nonce == "" {
		return apperrors.ErrWebhookHeaders
	}

	ts := cast.ToInt64(timestamp)
	if ts == 0 {
		return apperrors.ErrWebhookStale
	}
	age := v.now().Sub(time.Unix(ts, 0))
	if age > freshnessWindow || age < -freshnessWindow {
		return apperrors.ErrWebhookStale
	}

	if v.nonces.Contains(nonce) {
		return apperrors.ErrWebhookReplay
	}

	if !hmac.Equal([]byte(signature), []byte(v.Sign(timestamp, nonce, body))) {
		return apperrors.ErrWebhookSignature
	}

	v.nonces.Add(nonce, struct{}{})
	return nil
}

// Sign computes the expected signature for a delivery:
// hex(HMAC-SHA256(timestamp || nonce || body, secret)).
func (v *Validator) Sign(timestamp, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(nonce))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
