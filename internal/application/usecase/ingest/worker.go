package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"quoteflow/internal/application/port"
	"quoteflow/internal/application/service"
	"quoteflow/internal/domain/model"
	"quoteflow/internal/infrastructure/resilience"
)

// ErrFatalTransport is returned by Run when the feed cannot be read anymore.
var ErrFatalTransport = errors.New("fatal feed transport error")

const commitTimeout = 5 * time.Second

// QuoteProcessor applies one decoded quote.
type QuoteProcessor interface {
	Process(ctx context.Context, q *model.Quote, messageID string) (service.ProcessOutcome, error)
}

type WorkerDeps struct {
	Consumer  port.FeedConsumer
	Assets    port.AssetLookup
	Processor QuoteProcessor
	Positions port.PositionStore
	// Quotes, when set, supplies the price used for recompute: the newest
	// stored quote of the asset. Without it a duplicate skips recompute.
	Quotes port.QuoteReader

	// Retry wraps each fetch. Zero value means 5 attempts with DefaultBackoff.
	Retry resilience.RetryPolicy
	// ErrorDelay is the pause after a failed message before it is replayed.
	ErrorDelay time.Duration
	// ProcessTimeout bounds processing plus recompute. Zero disables it.
	ProcessTimeout time.Duration
}

// Stats counts what the worker did since start.
type Stats struct {
	Consumed          uint64
	Applied           uint64
	Duplicates        uint64
	DecodeFailures    uint64
	UnknownTickers    uint64
	ProcessFailures   uint64
	RecomputeFailures uint64
	Commits           uint64
	CommitFailures    uint64
}

type counters struct {
	consumed, applied, duplicates      atomic.Uint64
	decodeFailures, unknownTickers     atomic.Uint64
	processFailures, recomputeFailures atomic.Uint64
	commits, commitFailures            atomic.Uint64
}

// Worker pulls quote events one at a time: decode, resolve, process,
// recompute positions, commit.
type Worker struct {
	deps  WorkerDeps
	retry resilience.RetryPolicy
	c     counters
}

func NewWorker(deps WorkerDeps) *Worker {
	retry := deps.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 5
	}
	if retry.Backoff == nil {
		retry.Backoff = resilience.DefaultBackoff().Next
	}
	if retry.Retryable == nil {
		retry.Retryable = isRetryableFeedError
	}
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, wait time.Duration, err error) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("feed consume error, retrying")
		}
	}
	return &Worker{deps: deps, retry: retry}
}

func isRetryableFeedError(err error) bool {
	return !errors.Is(err, port.ErrFeedFatal) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// Stats returns a snapshot of the counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Consumed:          w.c.consumed.Load(),
		Applied:           w.c.applied.Load(),
		Duplicates:        w.c.duplicates.Load(),
		DecodeFailures:    w.c.decodeFailures.Load(),
		UnknownTickers:    w.c.unknownTickers.Load(),
		ProcessFailures:   w.c.processFailures.Load(),
		RecomputeFailures: w.c.recomputeFailures.Load(),
		Commits:           w.c.commits.Load(),
		CommitFailures:    w.c.commitFailures.Load(),
	}
}

// Run consumes until ctx is cancelled (returns nil) or the feed fails for
// good (returns an error wrapping ErrFatalTransport). The consumer is closed
// on every return path.
func (w *Worker) Run(ctx context.Context) (err error) {
	log.Info().Msg("quote ingestion worker started")
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
		log.Info().Msg("closing feed consumer")
		if cerr := w.deps.Consumer.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("close feed consumer failed")
		}
		log.Info().Interface("stats", w.Stats()).Msg("quote ingestion worker stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		var msg port.FeedMessage
		ferr := w.retry.Do(ctx, func(ctx context.Context) error {
			m, err := w.deps.Consumer.Fetch(ctx)
			if err != nil {
				return err
			}
			msg = m
			return nil
		})
		if ferr != nil {
			if ctx.Err() != nil {
				log.Info().Msg("cancellation requested, shutting down consumer")
				return nil
			}
			log.Error().Err(ferr).Msg("fatal error consuming feed, exiting loop")
			return fmt.Errorf("%w: %w", ErrFatalTransport, ferr)
		}

		if msg.EndOfStream {
			log.Debug().Str("stream", msg.Stream).Msg("reached end of stream")
			continue
		}
		w.handle(ctx, msg)
	}
}

func (w *Worker) handle(ctx context.Context, msg port.FeedMessage) {
	w.c.consumed.Add(1)
	logger := log.With().Str("stream", msg.Stream).Str("entry", msg.ID).Logger()

	ev, err := DecodeQuoteEvent(msg.Payload)
	if err != nil {
		w.c.decodeFailures.Add(1)
		logger.Warn().Err(err).Bytes("payload", msg.Payload).Msg("dropping malformed quote event")
		return
	}
	logger = logger.With().Str("message_id", ev.MessageID).Str("ticker", ev.AssetTicker).Logger()

	pctx := ctx
	if w.deps.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, w.deps.ProcessTimeout)
		defer cancel()
	}

	assetID, err := w.deps.Assets.ResolveTicker(pctx, ev.AssetTicker)
	if errors.Is(err, port.ErrAssetNotFound) {
		w.c.unknownTickers.Add(1)
		logger.Warn().Msg("unknown ticker, dropping quote event")
		return
	}
	if err != nil {
		w.fail(ctx, logger.Error().Err(err), "resolve ticker failed")
		return
	}

	quote := &model.Quote{AssetID: assetID, Price: ev.Price, QuotedAt: ev.Timestamp.UTC()}
	outcome, err := w.deps.Processor.Process(pctx, quote, ev.MessageID)
	if err != nil {
		w.fail(ctx, logger.Error().Err(err).Int64("asset_id", assetID), "process quote failed")
		return
	}
	if outcome == service.OutcomeDuplicate {
		w.c.duplicates.Add(1)
	} else {
		w.c.applied.Add(1)
	}

	if price, ok := w.recomputePrice(pctx, logger, assetID, ev.Price, outcome); ok {
		if err := w.deps.Positions.RecomputeForPrice(pctx, assetID, price); err != nil {
			w.c.recomputeFailures.Add(1)
			logger.Error().Err(err).Int64("asset_id", assetID).Msg("position recompute failed")
		}
	}

	// the quote is durable at this point, so acknowledge even if ctx was cancelled meanwhile
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := w.deps.Consumer.Commit(cctx, msg); err != nil {
		w.c.commitFailures.Add(1)
		logger.Error().Err(err).Msg("commit failed")
		return
	}
	w.c.commits.Add(1)
	logger.Debug().Stringer("outcome", outcome).Msg("offset committed")
}

// recomputePrice picks the price positions are revalued at. A redelivered
// event may be older than quotes applied since, so its own price is never
// used for a duplicate.
func (w *Worker) recomputePrice(ctx context.Context, logger zerolog.Logger, assetID int64, eventPrice decimal.Decimal, outcome service.ProcessOutcome) (decimal.Decimal, bool) {
	if w.deps.Quotes == nil {
		return eventPrice, outcome == service.OutcomeApplied
	}
	latest, err := w.deps.Quotes.LatestQuote(ctx, assetID)
	if err != nil {
		if outcome == service.OutcomeApplied {
			logger.Warn().Err(err).Int64("asset_id", assetID).Msg("latest quote lookup failed, using event price")
			return eventPrice, true
		}
		logger.Warn().Err(err).Int64("asset_id", assetID).Msg("latest quote lookup failed, skipping recompute")
		return decimal.Zero, false
	}
	return latest.Price, true
}

// fail logs a processing failure, waits ErrorDelay and rewinds the consumer
// so the unacknowledged message is delivered again.
func (w *Worker) fail(ctx context.Context, ev *zerolog.Event, msg string) {
	w.c.processFailures.Add(1)
	ev.Msg(msg)
	if w.deps.ErrorDelay > 0 {
		t := time.NewTimer(w.deps.ErrorDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
	w.deps.Consumer.Rewind()
}
