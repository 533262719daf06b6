package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoteflow/internal/application/port"
	"quoteflow/internal/domain/model"
)

type stubAssets map[string]int64

func (s stubAssets) ResolveTicker(ctx context.Context, ticker string) (int64, error) {
	id, ok := s[ticker]
	if !ok {
		return 0, port.ErrAssetNotFound
	}
	return id, nil
}

type stubOperations []model.Operation

func (s stubOperations) ListOperations(ctx context.Context, userID, assetID int64) ([]model.Operation, error) {
	var out []model.Operation
	for _, op := range s {
		if op.UserID == userID && op.AssetID == assetID {
			out = append(out, op)
		}
	}
	return out, nil
}

func op(id int64, typ model.OperationType, qty, price string) model.Operation {
	return model.Operation{
		ID:       id,
		UserID:   1,
		AssetID:  10,
		Type:     typ,
		Quantity: decimal.RequireFromString(qty),
		Price:    decimal.RequireFromString(price),
	}
}

func TestAveragePurchasePriceIgnoresSells(t *testing.T) {
	svc := NewAveragePriceService(
		stubAssets{"ITUB4": 10},
		stubOperations{
			op(1, model.OperationBuy, "10", "10"),
			op(2, model.OperationSell, "5", "50"),
			op(3, model.OperationBuy, "20", "12"),
		},
	)

	report, err := svc.AveragePurchasePrice(context.Background(), 1, "itub4")
	require.NoError(t, err)
	assert.Equal(t, "ITUB4", report.Ticker)
	assert.Equal(t, int64(10), report.AssetID)
	assert.True(t, report.TotalQuantity.Equal(decimal.NewFromInt(30)))
	assert.True(t, report.AveragePrice.Equal(decimal.NewFromInt(340).Div(decimal.NewFromInt(30))))
}

func TestAveragePurchasePriceNoBuys(t *testing.T) {
	svc := NewAveragePriceService(stubAssets{"VALE3": 10}, stubOperations{op(1, model.OperationSell, "1", "1")})

	report, err := svc.AveragePurchasePrice(context.Background(), 1, "VALE3")
	require.NoError(t, err)
	assert.True(t, report.AveragePrice.IsZero())
	assert.True(t, report.TotalQuantity.IsZero())
}

func TestAveragePurchasePriceUnknownTicker(t *testing.T) {
	svc := NewAveragePriceService(stubAssets{}, stubOperations{})

	_, err := svc.AveragePurchasePrice(context.Background(), 1, "NOPE3")
	assert.ErrorIs(t, err, port.ErrAssetNotFound)
}
