package chain

import (
	"context"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
)

// FuncLockChain adapts callback functions to the LockChain interface. Unset
// callbacks return zero values so tests only wire what they exercise.
type FuncLockChain struct {
	ChainName      string
	DecimalsFunc   func(asset string) (int, error)
	DepositsFunc   func(ctx context.Context, asset, address string) ([]DepositTx, error)
	ConfidenceFunc func(ctx context.Context, tx DepositTx) (Confidence, error)
	AddressFunc    func(pub []byte) (string, error)
	ValidateFunc   func(addr string) bool
}

func (c FuncLockChain) Name() string { return c.ChainName }

// AssetDecimals delegates to the configured callback.
func (c FuncLockChain) AssetDecimals(asset string) (int, error) {
	if c.DecimalsFunc == nil {
		return 8, nil
	}
	return c.DecimalsFunc(asset)
}

// Deposits delegates to the configured callback.
func (c FuncLockChain) Deposits(ctx context.Context, asset, address string) ([]DepositTx, error) {
	if c.DepositsFunc == nil {
		return nil, nil
	}
	return c.DepositsFunc(ctx, asset, address)
}

// TransactionConfidence delegates to the configured callback, defaulting to the
// confirmations carried on the deposit.
func (c FuncLockChain) TransactionConfidence(ctx context.Context, tx DepositTx) (Confidence, error) {
	if c.ConfidenceFunc == nil {
		return Confidence{Current: tx.Confirmations}, nil
	}
	return c.ConfidenceFunc(ctx, tx)
}

// AddressFromDerivedPoint delegates to the configured callback, defaulting to hex.
func (c FuncLockChain) AddressFromDerivedPoint(pub []byte) (string, error) {
	if c.AddressFunc == nil {
		return hex.EncodeToString(pub), nil
	}
	return c.AddressFunc(pub)
}

// ValidateAddress delegates to the configured callback.
func (c FuncLockChain) ValidateAddress(addr string) bool {
	if c.ValidateFunc == nil {
		return addr != ""
	}
	return c.ValidateFunc(addr)
}

// FuncMintChain adapts callback functions to the MintChain interface.
type FuncMintChain struct {
	ChainName  string
	SubmitFunc func(ctx context.Context, req ClaimRequest) (string, error)
	FindFunc   func(ctx context.Context, asset string, sigHash common.Hash) (*MintTx, error)
	TokenFunc  func(asset string) (common.Address, error)
}

func (c FuncMintChain) Name() string { return c.ChainName }

// SubmitClaim delegates to the configured callback.
func (c FuncMintChain) SubmitClaim(ctx context.Context, req ClaimRequest) (string, error) {
	if c.SubmitFunc == nil {
		return "", ErrNotSupported
	}
	return c.SubmitFunc(ctx, req)
}

// FindBySignatureHash delegates to the configured callback.
func (c FuncMintChain) FindBySignatureHash(ctx context.Context, asset string, sigHash common.Hash) (*MintTx, error) {
	if c.FindFunc == nil {
		return nil, nil
	}
	return c.FindFunc(ctx, asset, sigHash)
}

// ResolveTokenAddress delegates to the configured callback.
func (c FuncMintChain) ResolveTokenAddress(asset string) (common.Address, error) {
	if c.TokenFunc == nil {
		return common.Address{}, nil
	}
	return c.TokenFunc(asset)
}
