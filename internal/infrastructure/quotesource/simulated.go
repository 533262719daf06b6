package quotesource

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"quoteflow/internal/application/port"
)

// Simulated is a deliberately flaky source. With failEvery = 5 it answers
// the 1st, 6th, 11th... request and fails the rest.
type Simulated struct {
	failEvery int64
	latency   time.Duration
	requests  atomic.Int64
	price     func() int
}

func NewSimulated(failEvery int, latency time.Duration) *Simulated {
	if failEvery <= 0 {
		failEvery = 5
	}
	return &Simulated{
		failEvery: int64(failEvery),
		latency:   latency,
		price:     func() int { return 10 + rand.IntN(490) },
	}
}

func (s *Simulated) FetchQuote(ctx context.Context, assetID string) (string, error) {
	n := s.requests.Add(1)
	log.Debug().Str("asset_id", assetID).Int64("request", n).Msg("simulated source request")

	if s.latency > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.latency):
		}
	}

	if n%s.failEvery != 1 && s.failEvery != 1 {
		return "", fmt.Errorf("%w: simulated network error fetching quote for %s", port.ErrRequest, assetID)
	}
	return fmt.Sprintf("Asset: %s, Price: %d USD (from external)", assetID, s.price()), nil
}

// Requests returns how many calls reached the source.
func (s *Simulated) Requests() int64 { return s.requests.Load() }

var _ port.QuoteSource = (*Simulated)(nil)
