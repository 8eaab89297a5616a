package network

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	mcrypto "mintgate/crypto"
)

// JSON-RPC method names exposed by the signing network.
const (
	MethodSubmitTx      = "ren_submitTx"
	MethodQueryTx       = "ren_queryTx"
	MethodQueryShards   = "ren_queryShards"
	MethodQueryPeers    = "ren_queryPeers"
	MethodQueryNumPeers = "ren_queryNumPeers"
	MethodQueryStat     = "ren_queryStat"
	MethodQueryBlock    = "ren_queryBlock"
	MethodQueryBlocks   = "ren_queryBlocks"
	MethodQueryEpoch    = "ren_queryEpoch"
)

// TxStatus is the lifecycle status the network reports for a transaction.
type TxStatus string

const (
	TxStatusNil        TxStatus = "nil"
	TxStatusConfirming TxStatus = "confirming"
	TxStatusPending    TxStatus = "pending"
	TxStatusExecuting  TxStatus = "executing"
	TxStatusDone       TxStatus = "done"
	TxStatusReverted   TxStatus = "reverted"
)

var txStatusRank = map[TxStatus]int{
	TxStatusNil:        0,
	TxStatusConfirming: 1,
	TxStatusPending:    2,
	TxStatusExecuting:  3,
	TxStatusReverted:   4,
	TxStatusDone:       5,
}

// AtLeast reports whether s has progressed to other or beyond.
func (s TxStatus) AtLeast(other TxStatus) bool {
	return txStatusRank[s] >= txStatusRank[other]
}

// Terminal reports whether no further status changes are expected.
func (s TxStatus) Terminal() bool {
	return s == TxStatusDone || s == TxStatusReverted
}

// Arg is a named, typed value as it appears in a network transaction.
type Arg struct {
	Name  string          `json:"name"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Args is an ordered argument list with name lookup.
type Args []Arg

// Get returns the raw value of the named argument.
func (a Args) Get(name string) (json.RawMessage, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// Bytes decodes a base64 encoded binary argument.
func (a Args) Bytes(name string) ([]byte, error) {
	raw, ok := a.Get(name)
	if !ok {
		return nil, fmt.Errorf("network: missing argument %q", name)
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("network: argument %q: %w", name, err)
	}
	return mcrypto.DecodeBytes(encoded)
}

// Hash decodes a 32-byte argument.
func (a Args) Hash(name string) (common.Hash, error) {
	b, err := a.Bytes(name)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("network: argument %q has %d bytes, want 32", name, len(b))
	}
	return common.BytesToHash(b), nil
}

// Address decodes a 20-byte argument.
func (a Args) Address(name string) (common.Address, error) {
	b, err := a.Bytes(name)
	if err != nil {
		return common.Address{}, err
	}
	if len(b) != common.AddressLength {
		return common.Address{}, fmt.Errorf("network: argument %q has %d bytes, want 20", name, len(b))
	}
	return common.BytesToAddress(b), nil
}

// Uint decodes an unsigned integer argument encoded either as a decimal string or a number.
func (a Args) Uint(name string) (*big.Int, error) {
	raw, ok := a.Get(name)
	if !ok {
		return nil, fmt.Errorf("network: missing argument %q", name)
	}
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, ok := new(big.Int).SetString(text, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("network: argument %q is not an unsigned integer: %s", name, text)
	}
	return n, nil
}

// BytesArg builds a base64 binary argument.
func BytesArg(name, typ string, value []byte) Arg {
	raw, _ := json.Marshal(mcrypto.EncodeBytes(value))
	return Arg{Name: name, Type: typ, Value: raw}
}

// UintArg builds a decimal string integer argument.
func UintArg(name, typ string, value *big.Int) Arg {
	raw, _ := json.Marshal(value.String())
	return Arg{Name: name, Type: typ, Value: raw}
}

// Tx is a network transaction as submitted and returned by the query endpoints.
type Tx struct {
	Hash    string `json:"hash"`
	To      string `json:"to"`
	In      Args   `json:"in"`
	Autogen Args   `json:"autogen,omitempty"`
	Out     Args   `json:"out,omitempty"`
}

// UTXO references a lock-chain output inside a mint transaction.
type UTXO struct {
	TxHash string `json:"txHash"`
	VOut   string `json:"vOut"`
}

// MintResult is the decoded view of a signed mint transaction.
type MintResult struct {
	PHash     common.Hash
	GHash     common.Hash
	NHash     common.Hash
	SigHash   common.Hash
	Amount    *big.Int
	Token     common.Address
	To        common.Address
	Signature *mcrypto.Signature
}

// DecodeMint extracts the signing inputs and, once present, the signature from a mint transaction.
func (tx Tx) DecodeMint() (MintResult, error) {
	var res MintResult
	var err error
	if res.PHash, err = tx.In.Hash("phash"); err != nil {
		return res, err
	}
	if res.Token, err = tx.In.Address("token"); err != nil {
		return res, err
	}
	if res.To, err = tx.In.Address("to"); err != nil {
		return res, err
	}
	if len(tx.Autogen) == 0 {
		return res, nil
	}
	if res.GHash, err = tx.Autogen.Hash("ghash"); err != nil {
		return res, err
	}
	if res.NHash, err = tx.Autogen.Hash("nhash"); err != nil {
		return res, err
	}
	if res.SigHash, err = tx.Autogen.Hash("sighash"); err != nil {
		return res, err
	}
	if res.Amount, err = tx.Autogen.Uint("amount"); err != nil {
		return res, err
	}
	if len(tx.Out) == 0 {
		return res, nil
	}
	r, err := tx.Out.Hash("r")
	if err != nil {
		return res, err
	}
	s, err := tx.Out.Hash("s")
	if err != nil {
		return res, err
	}
	v, err := tx.Out.Uint("v")
	if err != nil {
		return res, err
	}
	if !v.IsUint64() || v.Uint64() > 255 {
		return res, fmt.Errorf("network: recovery id %s out of range", v)
	}
	res.Signature = &mcrypto.Signature{R: r, S: s, V: byte(v.Uint64())}
	return res, nil
}

// TxResponse is returned by submit and query.
type TxResponse struct {
	Tx       Tx       `json:"tx"`
	TxStatus TxStatus `json:"txStatus"`
}

// Gateway is an asset custodied by a shard.
type Gateway struct {
	Asset  string   `json:"asset"`
	Hosts  []string `json:"hosts"`
	Locked string   `json:"locked"`
	Origin string   `json:"origin"`
	PubKey string   `json:"pubKey"`
}

// LockedAmount parses the locked value in the asset's smallest unit.
func (g Gateway) LockedAmount() *big.Int {
	n, ok := new(big.Int).SetString(strings.TrimSpace(g.Locked), 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

// Shard is a signing group and the gateways it backs.
type Shard struct {
	DarknodesRootHash string    `json:"darknodesRootHash"`
	GatewaysRootHash  string    `json:"gatewaysRootHash"`
	Primary           bool      `json:"primary"`
	PubKey            string    `json:"pubKey"`
	Gateways          []Gateway `json:"gateways"`
}

// Gateway returns the shard's gateway for asset.
func (s Shard) Gateway(asset string) (Gateway, bool) {
	for _, g := range s.Gateways {
		if strings.EqualFold(g.Asset, asset) {
			return g, true
		}
	}
	return Gateway{}, false
}

// ShardsResponse is the payload of ren_queryShards.
type ShardsResponse struct {
	Shards []Shard `json:"shards"`
}

// PeersResponse is the payload of ren_queryPeers.
type PeersResponse struct {
	Peers []string `json:"peers"`
}

// NumPeersResponse is the payload of ren_queryNumPeers.
type NumPeersResponse struct {
	NumPeers int `json:"numPeers"`
}

// StatResponse is the payload of ren_queryStat.
type StatResponse struct {
	Version      string `json:"version"`
	MultiAddress string `json:"multiAddress"`
	CPUs         []struct {
		Cores     int    `json:"cores"`
		ClockRate int    `json:"clockRate"`
		CacheSize int    `json:"cacheSize"`
		ModelName string `json:"modelName"`
	} `json:"cpus"`
	RAM       int `json:"ram"`
	Disk      int `json:"disk"`
	Bandwidth int `json:"bandwidth"`
}

// Block is a network block header with its transaction hashes.
type Block struct {
	Hash     string            `json:"hash"`
	Height   uint64            `json:"height"`
	Round    uint64            `json:"round"`
	Kind     string            `json:"kind"`
	Txs      []json.RawMessage `json:"txs"`
	Previous string            `json:"previousHash"`
}

// BlockResponse is the payload of ren_queryBlock.
type BlockResponse struct {
	Block Block `json:"block"`
}

// BlocksResponse is the payload of ren_queryBlocks.
type BlocksResponse struct {
	Blocks []Block `json:"blocks"`
}

// EpochResponse is the payload of ren_queryEpoch.
type EpochResponse struct {
	Epoch struct {
		Hash      string   `json:"hash"`
		Number    uint64   `json:"number"`
		Darknodes []string `json:"darknodes"`
	} `json:"epoch"`
}

var contractPattern = regexp.MustCompile(`^([A-Za-z]+)0([A-Za-z]+)2([A-Za-z]+)$`)

// Contract names a transfer direction, e.g. BTC0Btc2Eth mints BTC from Bitcoin onto Ethereum.
type Contract struct {
	Asset string
	From  string
	To    string
}

// ParseContract decodes "<ASSET>0<From>2<To>".
func ParseContract(s string) (Contract, error) {
	m := contractPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Contract{}, fmt.Errorf("network: malformed contract %q", s)
	}
	return Contract{Asset: strings.ToUpper(m[1]), From: m[2], To: m[3]}, nil
}

// MintContract builds the contract name for locking asset on from and minting on to.
func MintContract(asset, from, to string) Contract {
	return Contract{Asset: strings.ToUpper(asset), From: chainTitle(from), To: chainTitle(to)}
}

func (c Contract) String() string {
	return c.Asset + "0" + c.From + "2" + c.To
}

var nativeChains = map[string]string{
	"BTC":  "Btc",
	"ZEC":  "Zec",
	"BCH":  "Bch",
	"FIL":  "Fil",
	"DOGE": "Doge",
	"DGB":  "Dgb",
	"LUNA": "Luna",
}

// IsMint reports whether the contract moves the asset away from its native chain.
func (c Contract) IsMint() bool {
	if native, ok := nativeChains[c.Asset]; ok {
		return strings.EqualFold(c.From, native)
	}
	return !strings.EqualFold(c.From, "Eth")
}

func chainTitle(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	short := map[string]string{"bitcoin": "Btc", "ethereum": "Eth", "zcash": "Zec", "bitcoincash": "Bch", "filecoin": "Fil"}
	if v, ok := short[strings.ToLower(s)]; ok {
		return v
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func formatVOut(index uint32) string {
	return strconv.FormatUint(uint64(index), 10)
}
