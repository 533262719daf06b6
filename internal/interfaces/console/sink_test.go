package console

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoteflow/internal/application/service"
)

func TestSinkWriteQuote(t *testing.T) {
	var buf bytes.Buffer
	s := NewSinkTo(&buf)
	ts := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, s.WriteQuote(ts, service.QuoteResult{AssetID: "ITUB4", Live: true, Quote: "Asset: ITUB4, Price: 30 USD"}))
	require.NoError(t, s.WriteQuote(ts, service.QuoteResult{AssetID: "ITUB4", Reason: service.ReasonCircuitOpen, Fallback: "Fallback: closed"}))

	assert.Equal(t,
		"2024-05-01 09:30:00 LIVE     Asset: ITUB4, Price: 30 USD\n"+
			"2024-05-01 09:30:00 FALLBACK Fallback: closed\n",
		buf.String())
}

func TestSinkWriteReport(t *testing.T) {
	var buf bytes.Buffer
	err := NewSinkTo(&buf).WriteReport(&service.AveragePriceReport{
		UserID:        3,
		Ticker:        "ITSA4",
		AssetID:       9,
		AveragePrice:  decimal.RequireFromString("11.3333333333333333"),
		TotalQuantity: decimal.NewFromInt(30),
		CalculatedAt:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "user=3 ticker=ITSA4 asset=9 quantity=30 average=11.3333 at=2024-05-01T00:00:00Z\n", buf.String())
}

func TestSinkWritePortfolio(t *testing.T) {
	var buf bytes.Buffer
	err := NewSinkTo(&buf).WritePortfolio(&service.PortfolioReport{
		UserID: 1,
		Assets: []service.AssetValuation{
			{
				AssetID:      1,
				Ticker:       "ITUB4",
				Quantity:     decimal.NewFromInt(10),
				AveragePrice: decimal.NewFromInt(100),
				MarketPrice:  decimal.NewFromInt(120),
				TotalValue:   decimal.NewFromInt(1200),
				ProfitOrLoss: decimal.NewFromInt(200),
				Priced:       true,
			},
			{AssetID: 2, Ticker: "VALE3", Quantity: decimal.NewFromInt(2), AveragePrice: decimal.NewFromInt(50)},
		},
		TotalValue: decimal.NewFromInt(1200),
		AsOf:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t,
		"ITUB4    qty=10 avg=100.00 price=120.00 value=1200.00 pl=200.00\n"+
			"VALE3    qty=2 avg=50.00 price=- value=- pl=-\n"+
			"user=1 positions=2 total=1200.00 at=2024-05-01T00:00:00Z\n",
		buf.String())
}
