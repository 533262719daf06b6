package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"quoteflow/internal/application/port"
	"quoteflow/internal/domain/model"
	domainservice "quoteflow/internal/domain/service"
)

// AveragePriceReport is the weighted average purchase price of one user in one asset.
type AveragePriceReport struct {
	UserID        int64           `json:"user_id"`
	Ticker        string          `json:"ticker"`
	AssetID       int64           `json:"asset_id"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	CalculatedAt  time.Time       `json:"calculated_at"`
}

type AveragePriceService struct {
	assets port.AssetLookup
	ops    port.OperationStore
	now    func() time.Time
}

func NewAveragePriceService(assets port.AssetLookup, ops port.OperationStore) *AveragePriceService {
	return &AveragePriceService{assets: assets, ops: ops, now: time.Now}
}

// AveragePurchasePrice averages the user's buy operations in ticker. A user
// with no buys gets a zero report.
func (s *AveragePriceService) AveragePurchasePrice(ctx context.Context, userID int64, ticker string) (*AveragePriceReport, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	assetID, err := s.assets.ResolveTicker(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ticker, err)
	}

	report := &AveragePriceReport{
		UserID:        userID,
		Ticker:        ticker,
		AssetID:       assetID,
		AveragePrice:  decimal.Zero,
		TotalQuantity: decimal.Zero,
		CalculatedAt:  s.now().UTC(),
	}

	ops, err := s.ops.ListOperations(ctx, userID, assetID)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}

	lots := make([]domainservice.Purchase, 0, len(ops))
	for _, op := range ops {
		if op.Type != model.OperationBuy {
			continue
		}
		lot, err := domainservice.NewPurchase(op.Quantity, op.Price)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", op.ID, err)
		}
		lots = append(lots, lot)
		report.TotalQuantity = report.TotalQuantity.Add(op.Quantity)
	}
	if len(lots) == 0 {
		log.Warn().Int64("user_id", userID).Str("ticker", ticker).Msg("no buy operations found")
		return report, nil
	}

	avg, err := domainservice.WeightedAveragePrice(lots)
	if err != nil {
		return nil, err
	}
	report.AveragePrice = avg
	return report, nil
}
