package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"quoteflow/internal/domain/model"
	"quoteflow/internal/infrastructure/svc"
)

type publishCmd struct {
	ticker string
	price  string
	id     string
}

func (*publishCmd) Name() string     { return "publish" }
func (*publishCmd) Synopsis() string { return "append a quote event to the feed stream" }
func (*publishCmd) Usage() string {
	return `quotectl publish -ticker <ticker> -price <decimal> [-id <message id>]

  Appends one quote event to the configured stream. A random message id is
  used when -id is empty.
`
}

func (p *publishCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.ticker, "ticker", "", "asset ticker")
	f.StringVar(&p.price, "price", "", "decimal price")
	f.StringVar(&p.id, "id", "", "message id (random uuid when empty)")
}

func (p *publishCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if p.ticker == "" || p.price == "" {
		return usageError(f, "publish needs -ticker and -price")
	}
	price, err := decimal.NewFromString(p.price)
	if err != nil {
		return usageError(f, fmt.Sprintf("price %q: %v", p.price, err))
	}

	return run(ctx, p.Name(), func(sc *svc.ServiceContext) error {
		pub, err := sc.Publisher()
		if err != nil {
			return err
		}
		ev := &model.QuoteEvent{MessageID: p.id, AssetTicker: p.ticker, Price: price, Timestamp: time.Now().UTC()}
		entryID, err := pub.Publish(ctx, ev)
		if err != nil {
			return err
		}
		log.Info().
			Str("stream", sc.Config.Feed.Stream).
			Str("entry_id", entryID).
			Str("message_id", ev.MessageID).
			Str("ticker", ev.AssetTicker).
			Str("price", ev.Price.String()).
			Msg("quote published")
		return nil
	})
}

type latestCmd struct {
	ticker string
}

func (*latestCmd) Name() string     { return "latest" }
func (*latestCmd) Synopsis() string { return "print the cached latest price of an asset" }
func (*latestCmd) Usage() string {
	return `quotectl latest -ticker <ticker>

  Reads the latest price the worker mirrored into the redis cache. Needs
  cache.enabled = true.
`
}

func (l *latestCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.ticker, "ticker", "", "asset ticker")
}

func (l *latestCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if l.ticker == "" {
		return usageError(f, "latest needs -ticker")
	}

	return run(ctx, l.Name(), func(sc *svc.ServiceContext) error {
		cache, err := sc.Cache()
		if err != nil {
			return err
		}
		if cache == nil {
			return fmt.Errorf("latest needs cache.enabled = true")
		}
		assetID, err := sc.Store().ResolveTicker(ctx, l.ticker)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", l.ticker, err)
		}
		lp, ok, err := cache.Latest(ctx, assetID)
		if err != nil {
			return err
		}
		if !ok {
			_, err = fmt.Fprintf(stdout, "%s: no cached price\n", l.ticker)
			return err
		}
		_, err = fmt.Fprintf(stdout, "%s asset=%d price=%s at=%s\n", l.ticker, lp.AssetID, lp.Price.String(),
			time.UnixMilli(lp.Ts).UTC().Format(time.RFC3339))
		return err
	})
}
