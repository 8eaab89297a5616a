package pricing

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// ErrUnknownAsset is returned by a source that has no mapping for the requested symbol.
var ErrUnknownAsset = errors.New("pricing: unknown asset")

// Quote captures a USD price reported by one source.
type Quote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Source resolves the USD price of an asset symbol.
type Source interface {
	Name() string
	Price(ctx context.Context, asset string) (Quote, error)
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultTimeout bounds each price request.
const DefaultTimeout = 5 * time.Second

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func defaultClient() HTTPDoer {
	return &http.Client{Timeout: DefaultTimeout}
}
