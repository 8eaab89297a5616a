// Package shards picks the signing shard that should custody a new deposit.
package shards

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	"mintgate/network"
	"mintgate/observability"
	"mintgate/pricing"
)

var (
	// ErrNoShards is returned when the network reports no primary shard.
	ErrNoShards = errors.New("shards: no shards found")
	// ErrNoGateway is returned when no primary shard backs the requested asset.
	ErrNoGateway = errors.New("shards: no gateway for the asset")
)

// ShardQuerier lists the network's shards.
type ShardQuerier interface {
	QueryShards(ctx context.Context) ([]network.Shard, error)
}

// PriceLookup resolves USD prices for a set of assets.
type PriceLookup interface {
	Prices(ctx context.Context, assets []string) (map[string]*big.Rat, error)
}

// DecimalsFunc reports how many decimals an asset's base unit carries.
type DecimalsFunc func(asset string) int

var defaultDecimals = map[string]int{
	"BTC":  8,
	"BCH":  8,
	"ZEC":  8,
	"DOGE": 8,
	"DGB":  8,
	"LUNA": 6,
	"FIL":  18,
	"ETH":  18,
	"DAI":  18,
	"REN":  18,
}

// DefaultDecimals covers the assets the network custodies. Unknown assets use 18.
func DefaultDecimals(asset string) int {
	if d, ok := defaultDecimals[strings.ToUpper(strings.TrimSpace(asset))]; ok {
		return d
	}
	return 18
}

// Selector ranks primary shards by the USD value they already custody.
type Selector struct {
	shards   ShardQuerier
	prices   PriceLookup
	decimals DecimalsFunc
	logger   *slog.Logger
	metrics  *observability.ShardMetrics
}

// Option customises a Selector.
type Option func(*Selector)

// WithLogger sets the selector logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records selection outcomes.
func WithMetrics(m *observability.ShardMetrics) Option {
	return func(s *Selector) {
		s.metrics = m
	}
}

// New builds a selector. A nil decimals function falls back to DefaultDecimals.
func New(querier ShardQuerier, prices PriceLookup, decimals DecimalsFunc, opts ...Option) *Selector {
	if decimals == nil {
		decimals = DefaultDecimals
	}
	s := &Selector{
		shards:   querier,
		prices:   prices,
		decimals: decimals,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SelectPublicKey returns the raw public key of the gateway for asset on the
// least loaded primary shard.
func (s *Selector) SelectPublicKey(ctx context.Context, asset string) ([]byte, error) {
	_, gw, err := s.SelectShard(ctx, asset)
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(gw.PubKey))
	if err != nil {
		return nil, fmt.Errorf("shards: decode gateway key: %w", err)
	}
	return key, nil
}

// SelectShard returns the least loaded primary shard backing asset and its gateway.
func (s *Selector) SelectShard(ctx context.Context, asset string) (shard network.Shard, gw network.Gateway, err error) {
	defer func() { s.metrics.RecordSelection(asset, err) }()

	all, err := s.shards.QueryShards(ctx)
	if err != nil {
		return network.Shard{}, network.Gateway{}, fmt.Errorf("shards: query: %w", err)
	}
	primaries := make([]network.Shard, 0, len(all))
	for _, sh := range all {
		if sh.Primary {
			primaries = append(primaries, sh)
		}
	}
	if len(primaries) == 0 {
		return network.Shard{}, network.Gateway{}, ErrNoShards
	}

	prices := s.lookupPrices(ctx, asset, primaries)

	type ranked struct {
		shard network.Shard
		total *big.Rat
	}
	candidates := make([]ranked, 0, len(primaries))
	for _, sh := range primaries {
		if _, ok := sh.Gateway(asset); !ok {
			continue
		}
		candidates = append(candidates, ranked{shard: sh, total: s.lockedValue(prices, sh)})
	}
	if len(candidates) == 0 {
		return network.Shard{}, network.Gateway{}, fmt.Errorf("%w %s", ErrNoGateway, strings.ToUpper(asset))
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].total.Cmp(candidates[j].total) < 0
	})
	best := candidates[0].shard
	gw, _ = best.Gateway(asset)
	return best, gw, nil
}

func (s *Selector) lookupPrices(ctx context.Context, asset string, primaries []network.Shard) map[string]*big.Rat {
	seen := make(map[string]struct{})
	assets := make([]string, 0)
	for _, sh := range primaries {
		for _, g := range sh.Gateways {
			sym := strings.ToUpper(strings.TrimSpace(g.Asset))
			if _, ok := seen[sym]; ok || sym == "" {
				continue
			}
			seen[sym] = struct{}{}
			assets = append(assets, sym)
		}
	}
	if s.prices == nil {
		s.metrics.RecordPriceFallback(asset)
		return map[string]*big.Rat{}
	}
	prices, err := s.prices.Prices(ctx, assets)
	if err != nil {
		// Ranking still proceeds; every shard values at zero and the first backing shard wins.
		s.logger.Warn("price lookup failed, ranking shards without prices",
			slog.String("asset", strings.ToUpper(asset)),
			slog.Any("error", err))
		s.metrics.RecordPriceFallback(asset)
		return map[string]*big.Rat{}
	}
	return prices
}

func (s *Selector) lockedValue(prices map[string]*big.Rat, sh network.Shard) *big.Rat {
	total := new(big.Rat)
	for _, g := range sh.Gateways {
		total.Add(total, pricing.Normalize(prices, g.Asset, g.LockedAmount(), s.decimals(g.Asset)))
	}
	return total
}
