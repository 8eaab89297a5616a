package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrPointAtInfinity is returned when the derived gateway key degenerates to the identity element.
	ErrPointAtInfinity = errors.New("crypto: derived point is at infinity")
	// ErrInvalidScalar is returned for a gateway hash that is zero or not below the curve order.
	ErrInvalidScalar = errors.New("crypto: gateway hash is not a valid scalar")
)

// AddressEncoder renders a derived gateway key in a lock chain's address format.
type AddressEncoder func(pub *PublicKey) (string, error)

// DeriveGatewayKey returns P_shard + gHash·G. Only holders of the shard's key shares can
// reconstruct the matching private key, so funds sent to the result are spendable by the
// network alone.
func DeriveGatewayKey(shard *PublicKey, gHash common.Hash) (*PublicKey, error) {
	if shard == nil || shard.PublicKey == nil {
		return nil, ErrInvalidPublicKey
	}
	curve := crypto.S256()
	if !curve.IsOnCurve(shard.X, shard.Y) {
		return nil, ErrPointNotOnCurve
	}
	k := new(big.Int).SetBytes(gHash.Bytes())
	if k.Sign() == 0 || k.Cmp(curve.Params().N) >= 0 {
		return nil, ErrInvalidScalar
	}
	gx, gy := curve.ScalarBaseMult(k.FillBytes(make([]byte, 32)))
	x, y := curve.Add(shard.X, shard.Y, gx, gy)
	if x.Sign() == 0 && y.Sign() == 0 {
		return nil, ErrPointAtInfinity
	}
	if !curve.IsOnCurve(x, y) {
		return nil, ErrPointNotOnCurve
	}
	return &PublicKey{&ecdsa.PublicKey{Curve: curve, X: x, Y: y}}, nil
}

// GatewayAddress derives the per-transfer deposit address from a shard key and gateway hash.
func GatewayAddress(shardKey []byte, gHash common.Hash, encode AddressEncoder) (string, error) {
	if encode == nil {
		return "", errors.New("crypto: address encoder is required")
	}
	shard, err := ParsePublicKey(shardKey)
	if err != nil {
		return "", fmt.Errorf("crypto: shard key: %w", err)
	}
	derived, err := DeriveGatewayKey(shard, gHash)
	if err != nil {
		return "", err
	}
	return encode(derived)
}

// EthereumAddressEncoder encodes a derived key as a checksummed 20-byte account address.
func EthereumAddressEncoder(pub *PublicKey) (string, error) {
	return pub.Address().Hex(), nil
}
