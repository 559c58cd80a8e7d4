package universe

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// QuoteProvider fetches live quotes. Tickers it cannot price are omitted.
type QuoteProvider interface {
	Quotes(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error)
}

// PriceSource serves latest prices from a TTL cache, then the quote
// provider, then the last price stored in the security master.
type PriceSource struct {
	securities *SecurityRepository
	quotes     QuoteProvider // optional
	cache      *cache.Cache
	log        zerolog.Logger
}

// NewPriceSource creates a cached price source. quotes may be nil.
func NewPriceSource(securities *SecurityRepository, quotes QuoteProvider, ttl time.Duration, log zerolog.Logger) *PriceSource {
	return &PriceSource{
		securities: securities,
		quotes:     quotes,
		cache:      cache.New(ttl, 2*ttl),
		log:        log.With().Str("component", "price_source").Logger(),
	}
}

// LatestPrices returns prices for the tickers it can price. A failing quote
// provider is logged and the stored last prices are used instead.
func (p *PriceSource) LatestPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(tickers))
	var missing []string
	for _, t := range tickers {
		if v, ok := p.cache.Get(t); ok {
			out[t] = v.(decimal.Decimal)
			continue
		}
		missing = append(missing, t)
	}
	if len(missing) == 0 {
		return out, nil
	}

	if p.quotes != nil {
		quotes, err := p.quotes.Quotes(ctx, missing)
		if err != nil {
			p.log.Warn().Err(err).Int("tickers", len(missing)).Msg("Quote provider failed, using stored prices")
		}
		var still []string
		for _, t := range missing {
			price, ok := quotes[t]
			if !ok || !price.IsPositive() {
				still = append(still, t)
				continue
			}
			out[t] = price
			p.cache.Set(t, price, cache.DefaultExpiration)
			if err := p.securities.UpdateLastPrice(ctx, t, price); err != nil && !errors.Is(err, ErrSecurityNotFound) {
				p.log.Warn().Err(err).Str("ticker", t).Msg("Failed to persist quote")
			}
		}
		missing = still
	}
	if len(missing) == 0 {
		return out, nil
	}

	securities, err := p.securities.Securities(ctx)
	if err != nil {
		return nil, err
	}
	stored := make(map[string]decimal.Decimal, len(securities))
	for _, sec := range securities {
		if sec.LastPrice != nil && sec.LastPrice.IsPositive() {
			stored[sec.Ticker] = *sec.LastPrice
		}
	}
	for _, t := range missing {
		if price, ok := stored[t]; ok {
			out[t] = price
		}
	}
	return out, nil
}

// SetPrice records a price in the cache and the security master
func (p *PriceSource) SetPrice(ctx context.Context, ticker string, price decimal.Decimal) error {
	if err := p.securities.UpdateLastPrice(ctx, ticker, price); err != nil {
		return err
	}
	p.cache.Set(ticker, price, cache.DefaultExpiration)
	return nil
}

// Invalidate drops every cached price
func (p *PriceSource) Invalidate() {
	p.cache.Flush()
}
