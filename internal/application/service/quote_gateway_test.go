package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quoteflow/internal/application/port"
	"quoteflow/internal/infrastructure/resilience"
)

type stubSource struct {
	calls int
	quote string
	err   error
}

func (s *stubSource) FetchQuote(ctx context.Context, assetID string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.quote, nil
}

func TestQuoteGatewayLive(t *testing.T) {
	src := &stubSource{quote: "Asset: ITUB4, Price: 31 USD"}
	g := NewQuoteGateway(src, resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 2, BreakDuration: time.Minute}))

	res := g.GetLatestQuote(context.Background(), "ITUB4")
	assert.False(t, res.IsFallback())
	assert.Equal(t, "Asset: ITUB4, Price: 31 USD", res.String())
}

func TestQuoteGatewayFallbackReasons(t *testing.T) {
	src := &stubSource{err: fmt.Errorf("%w: dial tcp: refused", port.ErrRequest)}
	g := NewQuoteGateway(src, resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 2, BreakDuration: time.Minute}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res := g.GetLatestQuote(ctx, "ITUB4")
		assert.True(t, res.IsFallback())
		assert.Equal(t, ReasonRequestError, res.Reason)
		assert.Contains(t, res.String(), "request error")
	}

	res := g.GetLatestQuote(ctx, "ITUB4")
	assert.True(t, res.IsFallback())
	assert.Equal(t, ReasonCircuitOpen, res.Reason)
	assert.Contains(t, res.String(), "circuit open")
	assert.Equal(t, 2, src.calls)
}

func TestQuoteGatewayUnexpectedError(t *testing.T) {
	src := &stubSource{err: errors.New("bad payload")}
	g := NewQuoteGateway(src, resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 5, BreakDuration: time.Minute}))

	res := g.GetLatestQuote(context.Background(), "VALE3")
	assert.True(t, res.IsFallback())
	assert.Equal(t, ReasonUnexpected, res.Reason)
	assert.Equal(t, "Fallback: An unexpected error occurred while fetching quotation for VALE3.", res.String())
}
