package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"quoteflow/internal/application/service"
)

// Sink prints human readable lines for the command line tools.
type Sink struct {
	out io.Writer
}

func NewSink() *Sink { return &Sink{out: os.Stdout} }

func NewSinkTo(w io.Writer) *Sink { return &Sink{out: w} }

// WriteQuote prints one gateway result, live or fallback.
func (s *Sink) WriteQuote(ts time.Time, res service.QuoteResult) error {
	tag := "LIVE"
	if res.IsFallback() {
		tag = "FALLBACK"
	}
	_, err := fmt.Fprintf(s.out, "%s %-8s %s\n", ts.Format("2006-01-02 15:04:05"), tag, res.String())
	return err
}

func (s *Sink) WriteReport(r *service.AveragePriceReport) error {
	_, err := fmt.Fprintf(s.out, "user=%d ticker=%s asset=%d quantity=%s average=%s at=%s\n",
		r.UserID, r.Ticker, r.AssetID, r.TotalQuantity.String(), r.AveragePrice.StringFixed(4),
		r.CalculatedAt.Format(time.RFC3339))
	return err
}

// WritePortfolio prints one line per holding and a total line. Holdings with
// no quote show "-" for price, value and P&L.
func (s *Sink) WritePortfolio(r *service.PortfolioReport) error {
	for _, a := range r.Assets {
		price, value, pl := "-", "-", "-"
		if a.Priced {
			price, value, pl = a.MarketPrice.StringFixed(2), a.TotalValue.StringFixed(2), a.ProfitOrLoss.StringFixed(2)
		}
		if _, err := fmt.Fprintf(s.out, "%-8s qty=%s avg=%s price=%s value=%s pl=%s\n",
			a.Ticker, a.Quantity.String(), a.AveragePrice.StringFixed(2), price, value, pl); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(s.out, "user=%d positions=%d total=%s at=%s\n",
		r.UserID, len(r.Assets), r.TotalValue.StringFixed(2), r.AsOf.Format(time.RFC3339))
	return err
}
