package quotesource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quoteflow/internal/application/port"
)

// maxBody bounds how much of an upstream reply is read.
const maxBody = 64 << 10

// HTTP fetches quotes with GET {baseURL}/quotes/{assetID}. Any transport
// failure or non-2xx status is reported as port.ErrRequest.
type HTTP struct {
	baseURL string
	client  *http.Client
}

func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) FetchQuote(ctx context.Context, assetID string) (string, error) {
	endpoint := h.baseURL + "/quotes/" + url.PathEscape(assetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain, application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %w", port.ErrRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %w", port.ErrRequest, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s returned %d", port.ErrRequest, endpoint, resp.StatusCode)
	}
	return strings.TrimSpace(string(body)), nil
}

var _ port.QuoteSource = (*HTTP)(nil)
