// Package feed supplies token prices to the monitor, either from a REST
// endpoint, a streaming WebSocket feed, or a cache-fronted combination.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexbotio/dexbot/internal/domain"
)

// HTTPPriceFeed implements domain.PriceFeed against a JSON price endpoint.
// Each lookup issues GET {baseURL}/price?token={address} and expects a body
// of the form {"token": "0x..", "price": 0.0012}.
type HTTPPriceFeed struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPriceFeed creates a feed against the given base URL.
func NewHTTPPriceFeed(baseURL string, timeout time.Duration) *HTTPPriceFeed {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPriceFeed{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// CurrentPrice fetches the latest price for a token. Transport failures are
// reported as NetworkError so callers can distinguish outages from bad data.
func (f *HTTPPriceFeed) CurrentPrice(ctx context.Context, token common.Address) (float64, error) {
	u := fmt.Sprintf("%s/price?token=%s", f.baseURL, url.QueryEscape(token.Hex()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("feed: build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, &domain.NetworkError{Op: "price fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("feed: %s: %w", token.Hex(), domain.ErrPriceUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &domain.NetworkError{
			Op:  "price fetch",
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var body struct {
		Price float64 `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("feed: decode price response: %w", err)
	}
	if body.Price <= 0 {
		return 0, fmt.Errorf("feed: %s: non-positive price %g: %w", token.Hex(), body.Price, domain.ErrPriceUnavailable)
	}
	return body.Price, nil
}

var _ domain.PriceFeed = (*HTTPPriceFeed)(nil)
