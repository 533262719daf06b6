package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"quoteflow/internal/application/port"
	"quoteflow/internal/domain/model"
)

// ErrMissingMessageID is returned when a quote arrives without a message id.
var ErrMissingMessageID = errors.New("message id is required")

// ProcessOutcome says what Process did with a message.
type ProcessOutcome int

const (
	// OutcomeApplied means the quote and its marker were committed.
	OutcomeApplied ProcessOutcome = iota + 1
	// OutcomeDuplicate means the message id was already applied.
	OutcomeDuplicate
)

func (o ProcessOutcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// QuoteProcessor applies a quote at most once per message id.
type QuoteProcessor struct {
	repo port.QuoteRepository
	now  func() time.Time
}

func NewQuoteProcessor(repo port.QuoteRepository) *QuoteProcessor {
	return &QuoteProcessor{repo: repo, now: time.Now}
}

// Process stores q and the marker for messageID in one transaction, unless
// the marker already exists. Storage errors are returned unchanged.
func (p *QuoteProcessor) Process(ctx context.Context, q *model.Quote, messageID string) (ProcessOutcome, error) {
	if strings.TrimSpace(messageID) == "" {
		return 0, ErrMissingMessageID
	}
	if q == nil {
		return 0, fmt.Errorf("quote is nil for message %s", messageID)
	}

	seen, err := p.repo.Exists(ctx, messageID)
	if err != nil {
		return 0, err
	}
	if seen {
		log.Warn().Str("message_id", messageID).Int64("asset_id", q.AssetID).Msg("message already processed, skipping")
		return OutcomeDuplicate, nil
	}

	now := p.now().UTC()
	if q.QuotedAt.IsZero() {
		q.QuotedAt = now
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}

	outcome := OutcomeApplied
	err = p.repo.WithinTx(ctx, func(ctx context.Context, tx port.QuoteTx) error {
		// a concurrent delivery may have committed since the first check
		seen, err := tx.Exists(ctx, messageID)
		if err != nil {
			return err
		}
		if seen {
			outcome = OutcomeDuplicate
			return nil
		}
		if err := tx.InsertQuote(ctx, q); err != nil {
			return err
		}
		return tx.Mark(ctx, messageID, now)
	})
	if err != nil {
		return 0, err
	}

	log.Info().
		Str("message_id", messageID).
		Int64("asset_id", q.AssetID).
		Str("price", q.Price.String()).
		Stringer("outcome", outcome).
		Msg("quote processed")
	return outcome, nil
}
