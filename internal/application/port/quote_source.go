package port

import (
	"context"
	"errors"
)

// ErrRequest marks a failed request to the external quote source.
var ErrRequest = errors.New("quote source request failed")

// QuoteSource is the unreliable upstream that serves raw quote text.
type QuoteSource interface {
	FetchQuote(ctx context.Context, assetID string) (string, error)
}
