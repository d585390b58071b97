package dexscreener

// Market data from the public DexScreener API.
// Requests pass the shared market rate limiter, a circuit breaker and retry on 429/5xx.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"buybot/internal/infra/faults"
	log "buybot/internal/infra/log"
	"buybot/internal/infra/retry"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.dexscreener.com"

// ErrNoPairs means the token has no listed pair yet.
var ErrNoPairs = errors.New("no pairs listed for token")

// Acquirer is the rate limiter the client waits on before each request.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

type Client struct {
	baseURL         string
	httpClient      *http.Client
	limiter         Acquirer
	circuitBreaker  *gobreaker.CircuitBreaker
	retry           retry.Options
	maxResponseSize int64
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Limiter    Acquirer // nil disables rate limiting
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "DexScreenerAPI",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		limiter:        opts.Limiter,
		circuitBreaker: cb,
		retry: retry.Options{
			MaxRetries: opts.MaxRetries,
			BaseDelay:  300 * time.Millisecond,
			MaxDelay:   3 * time.Second,
		},
		maxResponseSize: 2 * 1024 * 1024,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

// Snapshot is the market view of the tracked token at one moment.
type Snapshot struct {
	PriceUSD         float64
	MarketCapUSD     float64 // 0 when the API does not report it
	LiquidityUSD     float64
	Volume24hUSD     float64
	QuotePriceUSD    float64 // USD value of one quote unit, 0 when unknown
	TokenName        string
	TokenSymbol      string
	QuoteTokenSymbol string
	PairURL          string
	PairAddress      string
	ChainID          string
}

type tokensResponse struct {
	Pairs []pair `json:"pairs"`
}

type pair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	URL         string `json:"url"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	QuoteToken struct {
		Symbol string `json:"symbol"`
	} `json:"quoteToken"`
	PriceNative string `json:"priceNative"`
	PriceUSD    string `json:"priceUsd"`
	Volume      struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	Liquidity *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	FDV       float64 `json:"fdv"`
	MarketCap float64 `json:"marketCap"`
}

// FetchSnapshot returns data for the most liquid pair where the token is the base asset.
func (c *Client) FetchSnapshot(ctx context.Context, tokenAddress string) (*Snapshot, error) {
	endpoint := "/latest/dex/tokens/" + url.PathEscape(tokenAddress)

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp tokensResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pairs response: %w", err)
	}

	best := pickPair(resp.Pairs, tokenAddress)
	if best == nil {
		return nil, fmt.Errorf("%s: %w", tokenAddress, ErrNoPairs)
	}
	return best.snapshot(), nil
}

func pickPair(pairs []pair, tokenAddress string) *pair {
	var best *pair
	for i := range pairs {
		p := &pairs[i]
		if !strings.EqualFold(p.BaseToken.Address, tokenAddress) {
			continue
		}
		if best == nil || p.liquidityUSD() > best.liquidityUSD() {
			best = p
		}
	}
	return best
}

func (p *pair) liquidityUSD() float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.USD
}

func (p *pair) snapshot() *Snapshot {
	priceUSD := parseFloat(p.PriceUSD)
	priceNative := parseFloat(p.PriceNative)

	s := &Snapshot{
		PriceUSD:         priceUSD,
		MarketCapUSD:     p.MarketCap,
		LiquidityUSD:     p.liquidityUSD(),
		Volume24hUSD:     p.Volume.H24,
		TokenName:        p.BaseToken.Name,
		TokenSymbol:      p.BaseToken.Symbol,
		QuoteTokenSymbol: p.QuoteToken.Symbol,
		PairURL:          p.URL,
		PairAddress:      p.PairAddress,
		ChainID:          p.ChainID,
	}
	if s.MarketCapUSD == 0 {
		s.MarketCapUSD = p.FDV
	}
	if priceNative > 0 {
		s.QuotePriceUSD = priceUSD / priceNative
	}
	return s
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	requestID := log.GenerateRequestID()
	startTime := time.Now()

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	var body []byte
	err := retry.Do(ctx, c.retry, func() error {
		out, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.doRequest(ctx, requestID, endpoint, startTime)
		})
		if err != nil {
			return err
		}
		body = out.([]byte)
		return nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.LogWarn("Circuit breaker rejected market request", zap.String("request_id", requestID), zap.Error(err))
		}
		return nil, fmt.Errorf("%w: market data: %v", faults.ErrTransientIO, err)
	}
	return body, nil
}

func (c *Client) doRequest(ctx context.Context, requestID, endpoint string, startTime time.Time) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	log.LogRequest(requestID, http.MethodGet, endpoint)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.LogResponse(requestID, 0, time.Since(startTime).Milliseconds(), zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize))
	duration := time.Since(startTime).Milliseconds()
	if err != nil {
		log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       body,
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}
