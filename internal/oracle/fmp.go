package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/paperledger/internal/domain"
	"golang.org/x/time/rate"
)

// DefaultFMPBaseURL is the Financial Modeling Prep API root.
const DefaultFMPBaseURL = "https://financialmodelingprep.com"

// FMPClient fetches quotes from Financial Modeling Prep.
type FMPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewFMPClient creates a quote client allowing perMinute requests.
func NewFMPClient(baseURL, apiKey string, timeout time.Duration, perMinute int) *FMPClient {
	if baseURL == "" {
		baseURL = DefaultFMPBaseURL
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	return &FMPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

type fmpQuote struct {
	Symbol string   `json:"symbol"`
	Price  *float64 `json:"price"`
}

// Quote returns the latest price for symbol. It never waits on the limiter;
// an exhausted budget returns domain.ErrRateLimited.
func (c *FMPClient) Quote(ctx context.Context, symbol string) (float64, error) {
	if !c.limiter.Allow() {
		return 0, fmt.Errorf("fmp: quote %s: %w", symbol, domain.ErrRateLimited)
	}

	u := fmt.Sprintf("%s/api/v3/quote/%s?apikey=%s", c.baseURL, url.PathEscape(symbol), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("fmp: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fmp: quote %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, fmt.Errorf("fmp: quote %s: %w", symbol, domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("fmp: quote %s: status %d: %s", symbol, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var quotes []fmpQuote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return 0, fmt.Errorf("fmp: decode %s: %w", symbol, err)
	}
	if len(quotes) == 0 || quotes[0].Price == nil {
		return 0, fmt.Errorf("fmp: quote %s: %w", symbol, domain.ErrPriceUnavailable)
	}
	p := *quotes[0].Price
	if p < 0 {
		return 0, fmt.Errorf("fmp: quote %s: negative price %v", symbol, p)
	}
	return p, nil
}
