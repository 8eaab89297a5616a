package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MintTxID derives the network transaction identifier for a lock-chain deposit. The
// preimage is "txHash_<contract>_<b64 gHash>_<b64 utxo txid>_<output index>".
func MintTxID(contract string, gHash common.Hash, utxoTxID []byte, index uint32) common.Hash {
	preimage := fmt.Sprintf("txHash_%s_%s_%s_%d",
		contract,
		base64.StdEncoding.EncodeToString(gHash.Bytes()),
		base64.StdEncoding.EncodeToString(utxoTxID),
		index,
	)
	return crypto.Keccak256Hash([]byte(preimage))
}

// BurnTxID derives the network transaction identifier for a release: "txHash_<contract>_<b64 gHash>".
func BurnTxID(contract string, gHash common.Hash) common.Hash {
	preimage := fmt.Sprintf("txHash_%s_%s", contract, base64.StdEncoding.EncodeToString(gHash.Bytes()))
	return crypto.Keccak256Hash([]byte(preimage))
}

// EncodeID renders a 32-byte network identifier in the base64 form the network uses on the wire.
func EncodeID(id common.Hash) string {
	return base64.StdEncoding.EncodeToString(id.Bytes())
}

// EncodeBytes renders binary data in the network's base64 wire form.
func EncodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeID parses a network identifier given as base64 or hex.
func DecodeID(s string) (common.Hash, error) {
	if len(s) == 2*common.HashLength {
		if raw, err := hex.DecodeString(s); err == nil {
			return common.BytesToHash(raw), nil
		}
	}
	raw, err := DecodeBytes(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto: decode id %q: %w", s, err)
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("crypto: id %q has %d bytes, want %d", s, len(raw), common.HashLength)
	}
	return common.BytesToHash(raw), nil
}
