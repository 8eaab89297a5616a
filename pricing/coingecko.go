package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// DefaultCoinGeckoIDs maps asset symbols to CoinGecko identifiers.
var DefaultCoinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ZEC":  "zcash",
	"BCH":  "bitcoin-cash",
	"DAI":  "dai",
	"ETH":  "ethereum",
	"REN":  "republic-protocol",
	"FIL":  "filecoin",
	"DOGE": "dogecoin",
	"DGB":  "digibyte",
	"LUNA": "terra-luna",
}

// CoinGecko adapts the public CoinGecko simple price API.
type CoinGecko struct {
	client   HTTPDoer
	endpoint string
	idMap    map[string]string
}

// NewCoinGecko constructs a CoinGecko source. idMap overrides or extends DefaultCoinGeckoIDs.
func NewCoinGecko(client HTTPDoer, endpoint string, idMap map[string]string) *CoinGecko {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = defaultClient()
	}
	mapped := make(map[string]string, len(DefaultCoinGeckoIDs)+len(idMap))
	for k, v := range DefaultCoinGeckoIDs {
		mapped[k] = v
	}
	for k, v := range idMap {
		mapped[normaliseSymbol(k)] = strings.TrimSpace(v)
	}
	return &CoinGecko{client: client, endpoint: ep, idMap: mapped}
}

func (o *CoinGecko) Name() string { return "coingecko" }

// Price fetches the USD price of asset.
func (o *CoinGecko) Price(ctx context.Context, asset string) (Quote, error) {
	sym := normaliseSymbol(asset)
	id, ok := o.idMap[sym]
	if !ok || id == "" {
		return Quote{}, fmt.Errorf("coingecko: %w %s", ErrUnknownAsset, sym)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", "usd")
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := o.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("coingecko: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("coingecko: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return Quote{}, fmt.Errorf("coingecko: quote missing for %s", sym)
	}
	priceStr := strings.TrimSpace(entry["usd"].String())
	if priceStr == "" {
		return Quote{}, fmt.Errorf("coingecko: empty price for %s", sym)
	}
	rat, ok := new(big.Rat).SetString(priceStr)
	if !ok || rat.Sign() < 0 {
		return Quote{}, fmt.Errorf("coingecko: invalid rate %q", priceStr)
	}
	ts := time.Now().UTC()
	if raw, exists := entry["last_updated_at"]; exists {
		if parsed, err := strconv.ParseInt(raw.String(), 10, 64); err == nil && parsed > 0 {
			ts = time.Unix(parsed, 0).UTC()
		}
	}
	return Quote{Rate: rat, Timestamp: ts, Source: o.Name()}, nil
}
