package pricing

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
)

// ErrNoSources is returned by a feed constructed without sources.
var ErrNoSources = errors.New("pricing: no price sources configured")

// Feed averages the USD price reported by several sources. Sources that fail are
// skipped; an asset no source could price is reported as zero.
type Feed struct {
	sources []Source
	logger  *slog.Logger
}

// FeedOption customises a Feed.
type FeedOption func(*Feed)

// WithLogger sets the logger used to report failing sources.
func WithLogger(logger *slog.Logger) FeedOption {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFeed builds a feed over the provided sources.
func NewFeed(sources []Source, opts ...FeedOption) (*Feed, error) {
	filtered := make([]Source, 0, len(sources))
	for _, src := range sources {
		if src != nil {
			filtered = append(filtered, src)
		}
	}
	if len(filtered) == 0 {
		return nil, ErrNoSources
	}
	f := &Feed{sources: filtered, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// DefaultFeed returns a feed over CoinGecko and Coinbase using the public endpoints.
func DefaultFeed(client HTTPDoer, opts ...FeedOption) *Feed {
	f, _ := NewFeed([]Source{NewCoinGecko(client, "", nil), NewCoinbase(client, "")}, opts...)
	return f
}

// Price returns the averaged USD price for one asset.
func (f *Feed) Price(ctx context.Context, asset string) *big.Rat {
	type result struct {
		rate *big.Rat
		err  error
	}
	results := make([]result, len(f.sources))
	var wg sync.WaitGroup
	for i, src := range f.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			quote, err := src.Price(ctx, asset)
			results[i] = result{rate: quote.Rate, err: err}
		}(i, src)
	}
	wg.Wait()

	sum := new(big.Rat)
	count := 0
	for i, res := range results {
		if res.err != nil || res.rate == nil {
			f.logger.Debug("price source failed",
				slog.String("source", f.sources[i].Name()),
				slog.String("asset", normaliseSymbol(asset)),
				slog.Any("error", res.err))
			continue
		}
		sum.Add(sum, res.rate)
		count++
	}
	if count == 0 {
		return new(big.Rat)
	}
	return sum.Quo(sum, new(big.Rat).SetInt64(int64(count)))
}

// Prices resolves the averaged price of every asset. The only error it reports is
// context cancellation; individual source failures degrade to zero.
func (f *Feed) Prices(ctx context.Context, assets []string) (map[string]*big.Rat, error) {
	out := make(map[string]*big.Rat, len(assets))
	for _, asset := range assets {
		sym := normaliseSymbol(asset)
		if sym == "" {
			continue
		}
		if _, done := out[sym]; done {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[sym] = f.Price(ctx, sym)
	}
	return out, nil
}

// Normalize converts a locked amount in base units into its USD value:
// locked / 10^decimals * price. Unknown assets are valued at zero.
func Normalize(prices map[string]*big.Rat, asset string, locked *big.Int, decimals int) *big.Rat {
	if locked == nil || locked.Sign() == 0 {
		return new(big.Rat)
	}
	price, ok := prices[normaliseSymbol(asset)]
	if !ok || price == nil || price.Sign() == 0 {
		return new(big.Rat)
	}
	if decimals < 0 {
		decimals = 0
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value := new(big.Rat).SetFrac(locked, scale)
	return value.Mul(value, price)
}
