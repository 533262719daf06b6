package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"quoteflow/internal/application/port"
	"quoteflow/internal/infrastructure/resilience"
)

// FallbackReason says why the gateway could not serve a live quote.
type FallbackReason string

const (
	ReasonCircuitOpen  FallbackReason = "circuit open"
	ReasonRequestError FallbackReason = "upstream request error"
	ReasonUnexpected   FallbackReason = "unexpected error"
)

// QuoteResult is either a live quote or a fallback marker.
type QuoteResult struct {
	AssetID  string
	Live     bool
	Quote    string
	Reason   FallbackReason
	Fallback string
}

// IsFallback reports whether the result carries no live quote.
func (r QuoteResult) IsFallback() bool { return !r.Live }

func (r QuoteResult) String() string {
	if r.Live {
		return r.Quote
	}
	return r.Fallback
}

// Guard runs a call through a circuit breaker.
type Guard interface {
	Execute(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error)
}

// QuoteGateway fronts the external quote source with a circuit breaker and
// never returns an error to its caller.
type QuoteGateway struct {
	source port.QuoteSource
	guard  Guard
}

func NewQuoteGateway(source port.QuoteSource, guard Guard) *QuoteGateway {
	return &QuoteGateway{source: source, guard: guard}
}

// GetLatestQuote returns a live quote, or a fallback when the source is
// failing or the circuit is open.
func (g *QuoteGateway) GetLatestQuote(ctx context.Context, assetID string) QuoteResult {
	log.Debug().Str("asset_id", assetID).Msg("fetching quote through circuit breaker")

	raw, err := g.guard.Execute(ctx, func(ctx context.Context) (string, error) {
		return g.source.FetchQuote(ctx, assetID)
	})
	if err == nil {
		return QuoteResult{AssetID: assetID, Live: true, Quote: raw}
	}

	res := QuoteResult{AssetID: assetID, Reason: classify(err)}
	switch res.Reason {
	case ReasonCircuitOpen:
		log.Warn().Str("asset_id", assetID).Msg("circuit open, returning fallback")
		res.Fallback = fmt.Sprintf("Fallback: Quotation for %s is currently unavailable (circuit open). Try again later.", assetID)
	case ReasonRequestError:
		log.Error().Err(err).Str("asset_id", assetID).Msg("quote request failed, returning fallback")
		res.Fallback = fmt.Sprintf("Fallback: Quotation for %s is currently unavailable due to a request error. Try again later.", assetID)
	default:
		log.Error().Err(err).Str("asset_id", assetID).Msg("unexpected error fetching quote, returning fallback")
		res.Fallback = fmt.Sprintf("Fallback: An unexpected error occurred while fetching quotation for %s.", assetID)
	}
	return res
}

func classify(err error) FallbackReason {
	var upstream *resilience.UpstreamError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return ReasonCircuitOpen
	case errors.As(err, &upstream) && errors.Is(upstream, port.ErrRequest):
		return ReasonRequestError
	default:
		return ReasonUnexpected
	}
}
