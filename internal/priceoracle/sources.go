package priceoracle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	coingeckoURL = "https://api.coingecko.com"
	coinbaseURL  = "https://api.coinbase.com"
	krakenURL    = "https://api.kraken.com"
)

type Source interface {
	Name() string
	FetchUSD(ctx context.Context) (decimal.Decimal, error)
}

func newRestClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

// Coingecko queries the simple price endpoint.
type Coingecko struct {
	client *resty.Client
}

func NewCoingecko(baseURL string, timeout time.Duration) *Coingecko {
	if baseURL == "" {
		baseURL = coingeckoURL
	}
	return &Coingecko{client: newRestClient(baseURL, timeout)}
}

func (s *Coingecko) Name() string { return "coingecko" }

func (s *Coingecko) FetchUSD(ctx context.Context) (decimal.Decimal, error) {
	var out struct {
		Bitcoin struct {
			USD decimal.Decimal `json:"usd"`
		} `json:"bitcoin"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ids":           "bitcoin",
			"vs_currencies": "usd",
		}).
		SetResult(&out).
		Get("/api/v3/simple/price")
	if err != nil {
		return decimal.Zero, err
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("http %s", resp.Status())
	}

	return positive(out.Bitcoin.USD)
}

// Coinbase queries the BTC-USD spot price.
type Coinbase struct {
	client *resty.Client
}

func NewCoinbase(baseURL string, timeout time.Duration) *Coinbase {
	if baseURL == "" {
		baseURL = coinbaseURL
	}
	return &Coinbase{client: newRestClient(baseURL, timeout)}
}

func (s *Coinbase) Name() string { return "coinbase" }

func (s *Coinbase) FetchUSD(ctx context.Context) (decimal.Decimal, error) {
	var out struct {
		Data struct {
			Amount decimal.Decimal `json:"amount"`
		} `json:"data"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v2/prices/BTC-USD/spot")
	if err != nil {
		return decimal.Zero, err
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("http %s", resp.Status())
	}

	return positive(out.Data.Amount)
}

// Kraken queries the XBTUSD ticker and uses the last trade price.
type Kraken struct {
	client *resty.Client
}

func NewKraken(baseURL string, timeout time.Duration) *Kraken {
	if baseURL == "" {
		baseURL = krakenURL
	}
	return &Kraken{client: newRestClient(baseURL, timeout)}
}

func (s *Kraken) Name() string { return "kraken" }

func (s *Kraken) FetchUSD(ctx context.Context) (decimal.Decimal, error) {
	var out struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			LastTrade []string `json:"c"`
		} `json:"result"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("pair", "XBTUSD").
		SetResult(&out).
		Get("/0/public/Ticker")
	if err != nil {
		return decimal.Zero, err
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("http %s", resp.Status())
	}
	if len(out.Error) > 0 {
		return decimal.Zero, fmt.Errorf("kraken: %v", out.Error)
	}

	for _, ticker := range out.Result {
		if len(ticker.LastTrade) == 0 {
			continue
		}
		price, err := decimal.NewFromString(ticker.LastTrade[0])
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse last trade: %w", err)
		}
		return positive(price)
	}

	return decimal.Zero, fmt.Errorf("kraken: empty ticker")
}

// Static always answers with a fixed price. Used when the price is pinned
// by configuration.
type Static struct {
	Price decimal.Decimal
}

func (s Static) Name() string { return "static" }

func (s Static) FetchUSD(context.Context) (decimal.Decimal, error) {
	return positive(s.Price)
}

func positive(d decimal.Decimal) (decimal.Decimal, error) {
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %v", d)
	}
	return d, nil
}
