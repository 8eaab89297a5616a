package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

const defaultCoinbaseEndpoint = "https://api.coinbase.com/v2/prices"

// Coinbase reads the buy price from the Coinbase public prices API.
type Coinbase struct {
	client   HTTPDoer
	endpoint string
}

// NewCoinbase constructs a Coinbase source.
func NewCoinbase(client HTTPDoer, endpoint string) *Coinbase {
	ep := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if ep == "" {
		ep = defaultCoinbaseEndpoint
	}
	if client == nil {
		client = defaultClient()
	}
	return &Coinbase{client: client, endpoint: ep}
}

func (o *Coinbase) Name() string { return "coinbase" }

// Price fetches the USD buy price of asset.
func (o *Coinbase) Price(ctx context.Context, asset string) (Quote, error) {
	sym := normaliseSymbol(asset)
	if sym == "" {
		return Quote{}, fmt.Errorf("coinbase: %w", ErrUnknownAsset)
	}
	endpoint := fmt.Sprintf("%s/%s-USD/buy", o.endpoint, sym)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("coinbase: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Data struct {
			Base     string `json:"base"`
			Currency string `json:"currency"`
			Amount   string `json:"amount"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("coinbase: decode: %w", err)
	}
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(payload.Data.Amount))
	if !ok || rat.Sign() < 0 {
		return Quote{}, fmt.Errorf("coinbase: invalid amount %q", payload.Data.Amount)
	}
	return Quote{Rate: rat, Timestamp: time.Now().UTC(), Source: o.Name()}, nil
}
