// Package rates resolves the fiat-per-BTC exchange rate used to price an
// order in satoshis at creation time. The rate is consulted only at that
// moment; drift between invoice creation and payment is accepted.
package rates

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const cacheTTL = 10 * time.Minute

// Fetcher is the upstream rate source, satisfied by the Payment API client.
type Fetcher interface {
	GetExchangeRate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Source is what checkout consumes.
type Source interface {
	Rate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Service fetches rates with an optional redis cache in front and a
// configurable buffer applied on top. The buffer slightly overprices the
// invoice to absorb rate movement during the payment window.
type Service struct {
	fetcher Fetcher
	cache   *redis.Client // nil disables caching
	buffer  decimal.Decimal
	log     zerolog.Logger
}

func New(fetcher Fetcher, cache *redis.Client, bufferPercent float64, log zerolog.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		cache:   cache,
		buffer:  decimal.NewFromFloat(bufferPercent),
		log:     log.With().Str("component", "rates").Logger(),
	}
}

func cacheKey(currency string) string {
	return "breez:btc_rate:" + strings.ToLower(currency)
}

// Rate returns the buffered fiat-per-BTC rate for a currency. Cache
// failures degrade to a fetch; only an upstream failure is an error.
func (s *Service) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey(currency)).Result(); err == nil {
			if rate, derr := decimal.NewFromString(cached); derr == nil && rate.Sign() > 0 {
				s.log.Debug().Str("currency", currency).Str("rate", rate.String()).Msg("using cached exchange rate")
				return rate, nil
			}
		}
	}

	rate, err := s.fetcher.GetExchangeRate(ctx, currency)
	if err != nil {
		s.log.Error().Err(err).Str("currency", currency).Msg("exchange rate fetch failed")
		return decimal.Zero, err
	}

	if s.buffer.Sign() > 0 {
		hundred := decimal.NewFromInt(100)
		rate = rate.Mul(hundred.Add(s.buffer)).Div(hundred)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(currency), rate.String(), cacheTTL).Err(); err != nil {
			s.log.Debug().Err(err).Msg("failed to cache exchange rate")
		}
	}

	s.log.Debug().Str("currency", currency).Str("rate", rate.String()).Msg("fetched exchange rate")
	return rate, nil
}
