package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"quoteflow/internal/application/port"
)

// AssetValuation is one holding valued at the latest stored quote.
type AssetValuation struct {
	AssetID      int64           `json:"asset_id"`
	Ticker       string          `json:"ticker"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	MarketPrice  decimal.Decimal `json:"market_price"`
	TotalValue   decimal.Decimal `json:"total_value"`
	ProfitOrLoss decimal.Decimal `json:"profit_or_loss"`
	// Priced is false when the asset has no quote yet; the market price is 0.
	Priced bool `json:"priced"`
}

// PortfolioReport values every position of one user.
type PortfolioReport struct {
	UserID     int64            `json:"user_id"`
	Assets     []AssetValuation `json:"assets"`
	TotalValue decimal.Decimal  `json:"total_value"`
	AsOf       time.Time        `json:"as_of"`
}

type PortfolioService struct {
	positions port.PortfolioStore
	quotes    port.QuoteReader
	now       func() time.Time
}

func NewPortfolioService(positions port.PortfolioStore, quotes port.QuoteReader) *PortfolioService {
	return &PortfolioService{positions: positions, quotes: quotes, now: time.Now}
}

// ClientPositions values the user's positions at the latest quote of each
// asset. P&L is market value minus quantity times average price.
func (s *PortfolioService) ClientPositions(ctx context.Context, userID int64) (*PortfolioReport, error) {
	positions, err := s.positions.PositionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	report := &PortfolioReport{
		UserID:     userID,
		Assets:     make([]AssetValuation, 0, len(positions)),
		TotalValue: decimal.Zero,
		AsOf:       s.now().UTC(),
	}
	if len(positions) == 0 {
		log.Info().Int64("user_id", userID).Msg("no positions found")
		return report, nil
	}

	for _, p := range positions {
		v := AssetValuation{
			AssetID:      p.AssetID,
			Ticker:       strconv.FormatInt(p.AssetID, 10),
			Quantity:     p.Quantity,
			AveragePrice: p.AveragePrice,
			MarketPrice:  decimal.Zero,
		}

		asset, err := s.positions.AssetByID(ctx, p.AssetID)
		switch {
		case err == nil:
			v.Ticker = asset.Ticker
		case !errors.Is(err, port.ErrAssetNotFound):
			return nil, fmt.Errorf("asset %d: %w", p.AssetID, err)
		}

		q, err := s.quotes.LatestQuote(ctx, p.AssetID)
		switch {
		case err == nil:
			v.MarketPrice = q.Price
			v.Priced = true
		case !errors.Is(err, port.ErrQuoteNotFound):
			return nil, fmt.Errorf("latest quote %d: %w", p.AssetID, err)
		}

		v.TotalValue = p.Quantity.Mul(v.MarketPrice)
		v.ProfitOrLoss = v.TotalValue.Sub(p.Quantity.Mul(p.AveragePrice))
		report.TotalValue = report.TotalValue.Add(v.TotalValue)
		report.Assets = append(report.Assets, v)
	}
	return report, nil
}
