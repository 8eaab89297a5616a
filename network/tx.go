package network

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	mcrypto "mintgate/crypto"
)

// MintParams are the inputs needed to build a mint transaction for one lock-chain output.
type MintParams struct {
	Contract Contract
	PHash    common.Hash
	Token    common.Address
	To       common.Address
	Nonce    common.Hash
	UTXOTxID []byte
	VOut     uint32
}

// GatewayHash returns the gateway hash the mint is bound to.
func (p MintParams) GatewayHash() common.Hash {
	return mcrypto.GatewayHash(p.PHash, p.Token, p.To, p.Nonce)
}

// TxID returns the deterministic network identifier of the mint.
func (p MintParams) TxID() common.Hash {
	return mcrypto.MintTxID(p.Contract.String(), p.GatewayHash(), p.UTXOTxID, p.VOut)
}

// NewMintTx builds the submit-tx payload for a lock-chain deposit.
func NewMintTx(p MintParams) Tx {
	utxo, _ := json.Marshal(UTXO{TxHash: mcrypto.EncodeBytes(p.UTXOTxID), VOut: formatVOut(p.VOut)})
	return Tx{
		Hash: mcrypto.EncodeID(p.TxID()),
		To:   p.Contract.String(),
		In: Args{
			BytesArg("phash", "b32", p.PHash.Bytes()),
			BytesArg("token", "b20", p.Token.Bytes()),
			BytesArg("to", "b20", p.To.Bytes()),
			BytesArg("n", "b32", p.Nonce.Bytes()),
			{Name: "utxo", Type: "ext_btcCompatUTXO", Value: utxo},
		},
	}
}
