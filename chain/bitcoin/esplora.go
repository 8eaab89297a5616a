// Package bitcoin implements the lock chain capability for Bitcoin against an
// Esplora compatible explorer API.
package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcutil"

	"mintgate/chain"
	"mintgate/crypto"
)

const (
	// Decimals is the number of satoshi decimals in one bitcoin.
	Decimals = 8
	// DefaultTargetConfirmations is the confirmation target for new deposits.
	DefaultTargetConfirmations = 6

	defaultTimeout = 30 * time.Second
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Params selects the bitcoin network parameters by name.
func Params(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(network)) {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest", "localnet":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("bitcoin: unknown network %q", network)
	}
}

// Esplora is a LockChain and Indexer backed by an Esplora REST endpoint.
type Esplora struct {
	endpoint string
	params   *chaincfg.Params
	client   HTTPDoer
	target   int
	logger   *slog.Logger
}

// Option customises an Esplora adapter.
type Option func(*Esplora)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c HTTPDoer) Option {
	return func(e *Esplora) {
		if c != nil {
			e.client = c
		}
	}
}

// WithTargetConfirmations overrides the confirmation target.
func WithTargetConfirmations(n int) Option {
	return func(e *Esplora) {
		if n > 0 {
			e.target = n
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Esplora) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an Esplora adapter for the given network parameters.
func New(endpoint string, params *chaincfg.Params, opts ...Option) (*Esplora, error) {
	ep := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if ep == "" {
		return nil, fmt.Errorf("bitcoin: esplora endpoint required")
	}
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	e := &Esplora{
		endpoint: ep,
		params:   params,
		client:   &http.Client{Timeout: defaultTimeout},
		target:   DefaultTargetConfirmations,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

func (e *Esplora) Name() string { return "Bitcoin" }

// AssetDecimals reports 8 for BTC.
func (e *Esplora) AssetDecimals(asset string) (int, error) {
	if !strings.EqualFold(strings.TrimSpace(asset), "BTC") {
		return 0, fmt.Errorf("bitcoin: unsupported asset %q", asset)
	}
	return Decimals, nil
}

// AddressFromDerivedPoint encodes the P2PKH address of a derived gateway key.
func (e *Esplora) AddressFromDerivedPoint(pub []byte) (string, error) {
	key, err := crypto.ParsePublicKey(pub)
	if err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(key.Compressed()), e.params)
	if err != nil {
		return "", fmt.Errorf("bitcoin: encode address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// AddressEncoder adapts AddressFromDerivedPoint to crypto.AddressEncoder.
func (e *Esplora) AddressEncoder() crypto.AddressEncoder {
	return func(pub *crypto.PublicKey) (string, error) {
		return e.AddressFromDerivedPoint(pub.Compressed())
	}
}

// ValidateAddress checks that addr decodes for the configured network.
func (e *Esplora) ValidateAddress(addr string) bool {
	decoded, err := btcutil.DecodeAddress(strings.TrimSpace(addr), e.params)
	if err != nil {
		return false
	}
	return decoded.IsForNet(e.params)
}

type txStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
}

type utxo struct {
	TxID   string   `json:"txid"`
	Vout   uint32   `json:"vout"`
	Value  int64    `json:"value"`
	Status txStatus `json:"status"`
}

type explorerTx struct {
	TxID string `json:"txid"`
	Vout []struct {
		Address string `json:"scriptpubkey_address"`
		Value   int64  `json:"value"`
	} `json:"vout"`
	Status txStatus `json:"status"`
}

// TransactionID returns the txid in internal byte order, the reverse of how
// explorers display it.
func (e *Esplora) TransactionID(tx chain.DepositTx) ([]byte, error) {
	h, err := chainhash.NewHashFromStr(tx.TxID)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: txid %q: %w", tx.TxID, err)
	}
	return h.CloneBytes(), nil
}

// Deposits lists the unspent outputs paying address.
func (e *Esplora) Deposits(ctx context.Context, asset, address string) ([]chain.DepositTx, error) {
	if _, err := e.AssetDecimals(asset); err != nil {
		return nil, err
	}
	var utxos []utxo
	if err := e.getJSON(ctx, "/address/"+address+"/utxo", &utxos); err != nil {
		return nil, err
	}
	tip, err := e.tipHeight(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]chain.DepositTx, 0, len(utxos))
	for _, u := range utxos {
		raw, _ := json.Marshal(u)
		out = append(out, chain.DepositTx{
			TxID:          u.TxID,
			Index:         u.Vout,
			Amount:        big.NewInt(u.Value),
			Confirmations: confirmations(u.Status, tip),
			Raw:           raw,
		})
	}
	return out, nil
}

// TransactionConfidence reports the current confirmations of tx against the target.
func (e *Esplora) TransactionConfidence(ctx context.Context, tx chain.DepositTx) (chain.Confidence, error) {
	var status txStatus
	if err := e.getJSON(ctx, "/tx/"+tx.TxID+"/status", &status); err != nil {
		return chain.Confidence{}, err
	}
	tip, err := e.tipHeight(ctx)
	if err != nil {
		return chain.Confidence{}, err
	}
	return chain.Confidence{Current: confirmations(status, tip), Target: e.target}, nil
}

// History pages through confirmed transactions paying address. The cursor is the
// last txid seen; Esplora returns 25 transactions per page.
func (e *Esplora) History(ctx context.Context, asset, address, cursor string) ([]chain.DepositTx, string, error) {
	if _, err := e.AssetDecimals(asset); err != nil {
		return nil, "", err
	}
	path := "/address/" + address + "/txs/chain"
	if cursor != "" {
		path += "/" + cursor
	}
	var txs []explorerTx
	if err := e.getJSON(ctx, path, &txs); err != nil {
		return nil, "", err
	}
	tip, err := e.tipHeight(ctx)
	if err != nil {
		return nil, "", err
	}
	var page []chain.DepositTx
	for _, tx := range txs {
		for i, vout := range tx.Vout {
			if vout.Address != address {
				continue
			}
			raw, _ := json.Marshal(utxo{TxID: tx.TxID, Vout: uint32(i), Value: vout.Value, Status: tx.Status})
			page = append(page, chain.DepositTx{
				TxID:          tx.TxID,
				Index:         uint32(i),
				Amount:        big.NewInt(vout.Value),
				Confirmations: confirmations(tx.Status, tip),
				Raw:           raw,
			})
		}
	}
	next := ""
	if len(txs) >= 25 {
		next = txs[len(txs)-1].TxID
	}
	return page, next, nil
}

func confirmations(status txStatus, tip int64) int {
	if !status.Confirmed || status.BlockHeight <= 0 || tip < status.BlockHeight {
		return 0
	}
	return int(tip-status.BlockHeight) + 1
}

func (e *Esplora) tipHeight(ctx context.Context) (int64, error) {
	body, err := e.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bitcoin: parse tip height: %w", err)
	}
	return height, nil
}

func (e *Esplora) getJSON(ctx context.Context, path string, out any) error {
	body, err := e.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("bitcoin: decode %s: %w", path, err)
	}
	return nil
}

func (e *Esplora) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		e.logger.Debug("esplora request failed", slog.String("path", path), slog.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("bitcoin: %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
