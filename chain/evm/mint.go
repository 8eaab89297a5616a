// Package evm implements the mint chain capability against an Ethereum JSON-RPC node.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"mintgate/chain"
	"mintgate/crypto"
)

const gatewayABI = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[
		{"name":"_pHash","type":"bytes32"},
		{"name":"_amountUnderlying","type":"uint256"},
		{"name":"_nHash","type":"bytes32"},
		{"name":"_sig","type":"bytes"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"LogMint","anonymous":false,"inputs":[
		{"name":"_to","type":"address","indexed":true},
		{"name":"_amount","type":"uint256","indexed":false},
		{"name":"_n","type":"uint256","indexed":true},
		{"name":"_signedMessageHash","type":"bytes32","indexed":true}]}
]`

var (
	// ErrUnknownAsset is returned for assets without a configured gateway.
	ErrUnknownAsset = errors.New("evm: no gateway configured for asset")

	parsedABI   abi.ABI
	logMintSig  = gethcrypto.Keccak256Hash([]byte("LogMint(address,uint256,uint256,bytes32)"))
	gasHeadroom = uint64(20)
)

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(gatewayABI))
	if err != nil {
		panic(err)
	}
}

// Client is the subset of ethclient.Client used by the adapter.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Dial opens an ethclient connection.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Asset binds an asset symbol to its gateway and token contracts.
type Asset struct {
	Symbol  string
	Gateway common.Address
	Token   common.Address
}

// MintChain submits claims to gateway contracts and looks up past mints.
type MintChain struct {
	name      string
	client    Client
	signer    *crypto.PrivateKey
	assets    map[string]Asset
	fromBlock *big.Int
	logger    *slog.Logger
}

// Option customises a MintChain.
type Option func(*MintChain)

// WithName overrides the chain name reported by Name.
func WithName(name string) Option {
	return func(m *MintChain) {
		if strings.TrimSpace(name) != "" {
			m.name = strings.TrimSpace(name)
		}
	}
}

// WithFromBlock bounds log queries to blocks at or after n.
func WithFromBlock(n uint64) Option {
	return func(m *MintChain) {
		m.fromBlock = new(big.Int).SetUint64(n)
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *MintChain) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New builds a mint chain adapter. signer may be nil for read-only use.
func New(client Client, signer *crypto.PrivateKey, assets []Asset, opts ...Option) (*MintChain, error) {
	if client == nil {
		return nil, fmt.Errorf("evm: client required")
	}
	m := &MintChain{
		name:   "Ethereum",
		client: client,
		signer: signer,
		assets: make(map[string]Asset, len(assets)),
		logger: slog.Default(),
	}
	for _, a := range assets {
		sym := strings.ToUpper(strings.TrimSpace(a.Symbol))
		if sym == "" || (a.Gateway == common.Address{}) {
			return nil, fmt.Errorf("evm: asset %q requires a gateway address", a.Symbol)
		}
		a.Symbol = sym
		m.assets[sym] = a
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

func (m *MintChain) Name() string { return m.name }

func (m *MintChain) asset(symbol string) (Asset, error) {
	a, ok := m.assets[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Asset{}, fmt.Errorf("%w %s", ErrUnknownAsset, symbol)
	}
	return a, nil
}

// ResolveTokenAddress returns the token contract minted for asset.
func (m *MintChain) ResolveTokenAddress(symbol string) (common.Address, error) {
	a, err := m.asset(symbol)
	if err != nil {
		return common.Address{}, err
	}
	return a.Token, nil
}

// PackMint encodes the gateway mint call.
func PackMint(req chain.ClaimRequest) ([]byte, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("evm: amount must be positive")
	}
	if len(req.Signature) != 65 {
		return nil, fmt.Errorf("evm: signature must be 65 bytes, got %d", len(req.Signature))
	}
	return parsedABI.Pack("mint", [32]byte(req.PHash), req.Amount, [32]byte(req.NHash), req.Signature)
}

// SubmitClaim signs and broadcasts a dynamic fee mint transaction and returns its hash.
func (m *MintChain) SubmitClaim(ctx context.Context, req chain.ClaimRequest) (string, error) {
	if m.signer == nil {
		return "", fmt.Errorf("evm: %w: no signer configured", chain.ErrNotSupported)
	}
	a, err := m.asset(req.Asset)
	if err != nil {
		return "", err
	}
	data, err := PackMint(req)
	if err != nil {
		return "", err
	}
	from := m.signer.PubKey().Address()
	chainID, err := m.client.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("evm: chain id: %w", err)
	}
	nonce, err := m.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("evm: nonce: %w", err)
	}
	tip, err := m.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("evm: gas tip: %w", err)
	}
	head, err := m.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("evm: head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gateway := a.Gateway
	gas, err := m.client.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &gateway,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Data:      data,
	})
	if err != nil {
		return "", fmt.Errorf("evm: estimate gas: %w", err)
	}
	gas += gas * gasHeadroom / 100

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &gateway,
		Data:      data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), m.signer.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("evm: sign: %w", err)
	}
	if err := m.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("evm: send: %w", err)
	}
	m.logger.Info("submitted mint",
		slog.String("asset", a.Symbol),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce))
	return signed.Hash().Hex(), nil
}

// FindBySignatureHash returns the mint that consumed sigHash, or nil when none exists.
func (m *MintChain) FindBySignatureHash(ctx context.Context, symbol string, sigHash common.Hash) (*chain.MintTx, error) {
	a, err := m.asset(symbol)
	if err != nil {
		return nil, err
	}
	logs, err := m.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: m.fromBlock,
		Addresses: []common.Address{a.Gateway},
		Topics:    [][]common.Hash{{logMintSig}, nil, nil, {sigHash}},
	})
	if err != nil {
		return nil, fmt.Errorf("evm: filter logs: %w", err)
	}
	for _, lg := range logs {
		if lg.Removed || len(lg.Topics) < 4 || lg.Topics[3] != sigHash {
			continue
		}
		return &chain.MintTx{
			Hash:    lg.TxHash.Hex(),
			SigHash: sigHash,
			Amount:  new(big.Int).SetBytes(lg.Data),
		}, nil
	}
	return nil, nil
}

// Confirmations reports how many blocks include the transaction, zero while pending.
func (m *MintChain) Confirmations(ctx context.Context, txHash common.Hash) (uint64, error) {
	receipt, err := m.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("evm: receipt: %w", err)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return 0, nil
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return 0, fmt.Errorf("evm: transaction %s reverted", txHash.Hex())
	}
	head, err := m.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("evm: head: %w", err)
	}
	if head == nil || head.Number == nil || head.Number.Cmp(receipt.BlockNumber) < 0 {
		return 0, nil
	}
	confirmed := new(big.Int).Sub(head.Number, receipt.BlockNumber)
	return confirmed.Uint64() + 1, nil
}
