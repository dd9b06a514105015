package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/companywatch/companywatch/internal/observ"
)

const alphaVantageBase = "https://www.alphavantage.co/query"

// AlphaVantage fetches GLOBAL_QUOTE data with rate limiting and a
// short TTL cache (the free tier allows 5 requests/minute).
type AlphaVantage struct {
	apiKey      string
	macroTicker string
	httpClient  *http.Client
	limiter     *rate.Limiter
	cacheTTL    time.Duration

	mu    sync.Mutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	quote     Quote
	fetchedAt time.Time
}

type AlphaVantageConfig struct {
	APIKey             string
	MacroTicker        string
	RateLimitPerMinute int
	CacheTTLSeconds    int
	TimeoutSeconds     int
}

func NewAlphaVantage(cfg AlphaVantageConfig) (*AlphaVantage, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("alpha vantage: API key is required")
	}
	if cfg.MacroTicker == "" {
		cfg.MacroTicker = "SPY"
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 5
	}
	if cfg.CacheTTLSeconds <= 0 {
		cfg.CacheTTLSeconds = 60
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 15
	}
	return &AlphaVantage{
		apiKey:      cfg.APIKey,
		macroTicker: cfg.MacroTicker,
		httpClient:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
		cacheTTL:    time.Duration(cfg.CacheTTLSeconds) * time.Second,
		cache:       map[string]cachedQuote{},
	}, nil
}

func (av *AlphaVantage) GetQuote(ctx context.Context, ticker string) (*Quote, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("%w: empty ticker", ErrDataUnavailable)
	}

	av.mu.Lock()
	if c, ok := av.cache[ticker]; ok && time.Since(c.fetchedAt) < av.cacheTTL {
		q := c.quote
		av.mu.Unlock()
		return &q, nil
	}
	av.mu.Unlock()

	if err := av.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate wait: %v", ErrDataUnavailable, err)
	}

	q, err := av.fetch(ctx, ticker)
	if err != nil {
		observ.IncCounter("quote_errors_total", map[string]string{"ticker": ticker})
		return nil, err
	}
	observ.IncCounter("quote_fetches_total", map[string]string{"ticker": ticker})

	av.mu.Lock()
	av.cache[ticker] = cachedQuote{quote: *q, fetchedAt: time.Now()}
	av.mu.Unlock()
	return q, nil
}

func (av *AlphaVantage) GetMacroQuote(ctx context.Context) (*Quote, error) {
	return av.GetQuote(ctx, av.macroTicker)
}

func (av *AlphaVantage) fetch(ctx context.Context, ticker string) (*Quote, error) {
	u, _ := url.Parse(alphaVantageBase)
	qs := u.Query()
	qs.Set("function", "GLOBAL_QUOTE")
	qs.Set("symbol", ticker)
	qs.Set("apikey", av.apiKey)
	u.RawQuery = qs.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	resp, err := av.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDataUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	var payload struct {
		Note        string            `json:"Note"`
		Information string            `json:"Information"`
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: bad response: %v", ErrDataUnavailable, err)
	}
	if payload.Note != "" || payload.Information != "" {
		// Rate-limit notice comes back as 200 with a prose body.
		return nil, fmt.Errorf("%w: provider throttled", ErrDataUnavailable)
	}
	gq := payload.GlobalQuote
	if len(gq) == 0 || gq["05. price"] == "" {
		return nil, fmt.Errorf("%w: no quote for %s", ErrDataUnavailable, ticker)
	}

	q := &Quote{
		Ticker:    ticker,
		Price:     parseFloat(gq["05. price"]),
		Open:      parseFloat(gq["02. open"]),
		High:      parseFloat(gq["03. high"]),
		Low:       parseFloat(gq["04. low"]),
		Volume:    parseFloat(gq["06. volume"]),
		ChangePct: parseFloat(strings.TrimSuffix(gq["10. change percent"], "%")),
		Timestamp: time.Now().UTC(),
	}
	if q.Price <= 0 {
		return nil, fmt.Errorf("%w: invalid price for %s", ErrDataUnavailable, ticker)
	}
	return q, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
