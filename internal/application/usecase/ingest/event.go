package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"quoteflow/internal/domain/model"
)

// ErrMalformedEvent marks payloads that can never be applied.
var ErrMalformedEvent = errors.New("malformed quote event")

// DecodeQuoteEvent parses a feed payload. Field names match case-insensitively.
func DecodeQuoteEvent(payload []byte) (model.QuoteEvent, error) {
	var ev model.QuoteEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return model.QuoteEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev.MessageID = strings.TrimSpace(ev.MessageID)
	ev.AssetTicker = strings.ToUpper(strings.TrimSpace(ev.AssetTicker))
	if ev.MessageID == "" {
		return model.QuoteEvent{}, fmt.Errorf("%w: missing messageId", ErrMalformedEvent)
	}
	if ev.AssetTicker == "" {
		return model.QuoteEvent{}, fmt.Errorf("%w: missing assetTicker", ErrMalformedEvent)
	}
	if ev.Price.IsNegative() {
		return model.QuoteEvent{}, fmt.Errorf("%w: negative price %s", ErrMalformedEvent, ev.Price)
	}
	return ev, nil
}
