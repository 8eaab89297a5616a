// Package chain declares the capabilities the transfer engine needs from the
// source (lock) and destination (mint) chains.
package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotSupported is returned by adapters for capabilities they do not provide.
var ErrNotSupported = errors.New("chain: capability not supported")

// DepositTx is a transaction observed at a gateway address.
type DepositTx struct {
	TxID          string          `json:"txid"`
	Index         uint32          `json:"index"`
	Amount        *big.Int        `json:"amount"`
	Confirmations int             `json:"confirmations"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// ID identifies the deposit as txid:index.
func (d DepositTx) ID() string {
	return fmt.Sprintf("%s:%d", d.TxID, d.Index)
}

// Confidence is the confirmation progress of a deposit.
type Confidence struct {
	Current int
	Target  int
}

// Confirmed reports whether the deposit has passed its target. The comparison is
// strict: a deposit sitting exactly at its target is still settling.
func (c Confidence) Confirmed() bool {
	return c.Current > c.Target
}

// LockChain is implemented by source chain adapters.
type LockChain interface {
	Name() string
	AssetDecimals(asset string) (int, error)
	Deposits(ctx context.Context, asset, address string) ([]DepositTx, error)
	TransactionConfidence(ctx context.Context, tx DepositTx) (Confidence, error)
	AddressFromDerivedPoint(pub []byte) (string, error)
	ValidateAddress(addr string) bool
}

// Indexer pages through the historical transactions of an address. An empty
// next cursor marks the last page.
type Indexer interface {
	History(ctx context.Context, asset, address, cursor string) (page []DepositTx, next string, err error)
}

// ClaimRequest carries everything a mint chain needs to mint a signed deposit.
type ClaimRequest struct {
	Asset     string
	PHash     common.Hash
	Amount    *big.Int
	NHash     common.Hash
	SigHash   common.Hash
	Signature []byte
	To        common.Address
}

// MintTx is a mint observed on the destination chain.
type MintTx struct {
	Hash          string
	SigHash       common.Hash
	Amount        *big.Int
	Confirmations uint64
}

// MintChain is implemented by destination chain adapters.
type MintChain interface {
	Name() string
	SubmitClaim(ctx context.Context, req ClaimRequest) (string, error)
	FindBySignatureHash(ctx context.Context, asset string, sigHash common.Hash) (*MintTx, error)
	ResolveTokenAddress(asset string) (common.Address, error)
}

// TxIDEncoder is implemented by lock chains whose transaction ids are displayed
// in a different byte order than the network expects. Chains without it have
// their hex txid decoded as-is.
type TxIDEncoder interface {
	TransactionID(tx DepositTx) ([]byte, error)
}

// TransactionID returns the network encoding of tx's id on lock.
func TransactionID(lock LockChain, tx DepositTx) ([]byte, error) {
	if enc, ok := lock.(TxIDEncoder); ok {
		return enc.TransactionID(tx)
	}
	b, err := hex.DecodeString(strings.TrimPrefix(tx.TxID, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: txid %q: %w", tx.TxID, err)
	}
	return b, nil
}
