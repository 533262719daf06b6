package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"quoteflow/internal/domain/model"
	"quoteflow/internal/infrastructure/svc"
	"quoteflow/internal/interfaces/console"
)

type seedCmd struct {
	ticker string
	name   string
	kind   string
	user   int64
	qty    string
	avg    string
}

func (*seedCmd) Name() string     { return "seed" }
func (*seedCmd) Synopsis() string { return "create an asset with a position and a matching buy" }
func (*seedCmd) Usage() string {
	return `quotectl seed -ticker <ticker> [-name <name>] [-type <type>] [-user <id>] [-qty <decimal>] [-avg <decimal>]

  Creates the asset, one position for the user and the buy operation that
  produced it.
`
}

func (s *seedCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.ticker, "ticker", "", "asset ticker")
	f.StringVar(&s.name, "name", "", "asset name (ticker when empty)")
	f.StringVar(&s.kind, "type", "STOCK", "asset type")
	f.Int64Var(&s.user, "user", 1, "user id owning the position")
	f.StringVar(&s.qty, "qty", "10", "position quantity")
	f.StringVar(&s.avg, "avg", "100", "average acquisition price")
}

func (s *seedCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if s.ticker == "" {
		return usageError(f, "seed needs -ticker")
	}
	name := s.name
	if name == "" {
		name = s.ticker
	}
	qty, err := decimal.NewFromString(s.qty)
	if err != nil {
		return usageError(f, fmt.Sprintf("qty %q: %v", s.qty, err))
	}
	avg, err := decimal.NewFromString(s.avg)
	if err != nil {
		return usageError(f, fmt.Sprintf("avg %q: %v", s.avg, err))
	}

	return run(ctx, s.Name(), func(sc *svc.ServiceContext) error {
		store := sc.Store()
		asset := &model.Asset{Ticker: s.ticker, Name: name, Type: s.kind}
		if err := store.CreateAsset(ctx, asset); err != nil {
			return fmt.Errorf("create asset: %w", err)
		}
		pos := &model.Position{UserID: s.user, AssetID: asset.ID, Quantity: qty, AveragePrice: avg}
		if err := store.CreatePosition(ctx, pos); err != nil {
			return fmt.Errorf("create position: %w", err)
		}
		op := &model.Operation{UserID: s.user, AssetID: asset.ID, Type: model.OperationBuy, Quantity: qty, Price: avg}
		if err := store.InsertOperation(ctx, op); err != nil {
			return fmt.Errorf("insert operation: %w", err)
		}

		log.Info().
			Int64("asset_id", asset.ID).
			Str("ticker", asset.Ticker).
			Int64("user_id", s.user).
			Int64("position_id", pos.ID).
			Msg("seeded")
		return nil
	})
}

type avgCmd struct {
	user   int64
	ticker string
	asJSON bool
}

func (*avgCmd) Name() string     { return "avg" }
func (*avgCmd) Synopsis() string { return "print a user's average purchase price in an asset" }
func (*avgCmd) Usage() string {
	return `quotectl avg -ticker <ticker> [-user <id>] [-json]

  Averages the price of the user's buy operations in the asset, weighted by
  quantity.
`
}

func (a *avgCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&a.user, "user", 0, "user id")
	f.StringVar(&a.ticker, "ticker", "", "asset ticker")
	f.BoolVar(&a.asJSON, "json", false, "print the report as JSON")
}

func (a *avgCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if a.ticker == "" {
		return usageError(f, "avg needs -ticker")
	}

	return run(ctx, a.Name(), func(sc *svc.ServiceContext) error {
		report, err := sc.AveragePrice().AveragePurchasePrice(ctx, a.user, a.ticker)
		if err != nil {
			return err
		}
		if a.asJSON {
			return writeJSON(report)
		}
		return console.NewSinkTo(stdout).WriteReport(report)
	})
}

type positionsCmd struct {
	user   int64
	asJSON bool
}

func (*positionsCmd) Name() string     { return "positions" }
func (*positionsCmd) Synopsis() string { return "value a user's positions at the latest stored quotes" }
func (*positionsCmd) Usage() string {
	return `quotectl positions [-user <id>] [-json]

  Lists every position of the user with market price, value and profit or
  loss taken from the newest stored quote of each asset.
`
}

func (p *positionsCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&p.user, "user", 1, "user id")
	f.BoolVar(&p.asJSON, "json", false, "print the report as JSON")
}

func (p *positionsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, p.Name(), func(sc *svc.ServiceContext) error {
		report, err := sc.Portfolio().ClientPositions(ctx, p.user)
		if err != nil {
			return err
		}
		if p.asJSON {
			return writeJSON(report)
		}
		return console.NewSinkTo(stdout).WritePortfolio(report)
	})
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
