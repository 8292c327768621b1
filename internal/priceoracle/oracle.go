// Package priceoracle resolves a BTC/USD rate from public quote sources,
// never failing: total upstream failure degrades to a cached or
// hardcoded rate.
package priceoracle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultTTL           = 60 * time.Second
	DefaultStaleTTL      = 10 * time.Minute
	DefaultSourceTimeout = 5 * time.Second

	sourceFallback = "fallback"
)

var (
	// FallbackUSDPerBTC is served when no source answers and nothing
	// usable is cached.
	FallbackUSDPerBTC = decimal.NewFromInt(42000)
)

type Quote struct {
	USDPerBTC decimal.Decimal `json:"usd_per_btc"`
	FetchedAt time.Time       `json:"fetched_at"`
	Source    string          `json:"source"`
}

type Options struct {
	// Pinned, if positive, replaces every network source.
	Pinned        decimal.Decimal
	TTL           time.Duration
	StaleTTL      time.Duration
	SourceTimeout time.Duration
	Fallback      decimal.Decimal
}

type Oracle struct {
	sources  []Source
	cache    *Cache
	fallback decimal.Decimal
	now      func() time.Time
}

// New builds an oracle over the public sources, tried in order
// coingecko, coinbase, kraken.
func New(opts Options) *Oracle {
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = DefaultSourceTimeout
	}

	var sources []Source
	if opts.Pinned.IsPositive() {
		sources = []Source{Static{Price: opts.Pinned}}
	} else {
		sources = []Source{
			NewCoingecko("", opts.SourceTimeout),
			NewCoinbase("", opts.SourceTimeout),
			NewKraken("", opts.SourceTimeout),
		}
	}

	return NewWithSources(opts, sources...)
}

func NewWithSources(opts Options, sources ...Source) *Oracle {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.StaleTTL <= 0 {
		opts.StaleTTL = DefaultStaleTTL
	}
	if !opts.Fallback.IsPositive() {
		opts.Fallback = FallbackUSDPerBTC
	}

	return &Oracle{
		sources:  sources,
		cache:    NewCache(opts.TTL, opts.StaleTTL),
		fallback: opts.Fallback,
		now:      time.Now,
	}
}

// Price returns the current BTC/USD quote.
func (o *Oracle) Price(ctx context.Context) Quote {
	q, err := o.cache.GetOrRefresh(ctx, o.fetch)
	if err != nil {
		log.Printf("priceoracle: using fallback %v: %v", o.fallback, err)
		return Quote{
			USDPerBTC: o.fallback,
			FetchedAt: o.now(),
			Source:    sourceFallback,
		}
	}
	return q
}

func (o *Oracle) fetch(ctx context.Context) (Quote, error) {
	var errs []error
	for _, src := range o.sources {
		price, err := src.FetchUSD(ctx)
		if err == nil {
			price, err = positive(price)
		}
		if err != nil {
			log.Printf("priceoracle: %s: %v", src.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}

		return Quote{
			USDPerBTC: price,
			FetchedAt: o.now(),
			Source:    src.Name(),
		}, nil
	}

	if len(errs) == 0 {
		return Quote{}, errors.New("no price sources")
	}
	return Quote{}, errors.Join(errs...)
}
