package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrPointNotOnCurve is returned when a public key does not describe a point on secp256k1.
	ErrPointNotOnCurve = errors.New("crypto: point is not on the secp256k1 curve")
	// ErrInvalidPublicKey is returned for encodings that are neither compressed nor uncompressed points.
	ErrInvalidPublicKey = errors.New("crypto: invalid public key encoding")
)

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

// PublicKey is a secp256k1 point that has been checked to lie on the curve.
type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address returns the Ethereum-style address controlled by the key.
func (k *PublicKey) Address() common.Address {
	return crypto.PubkeyToAddress(*k.PublicKey)
}

// Compressed returns the 33-byte SEC1 compressed encoding.
func (k *PublicKey) Compressed() []byte {
	return crypto.CompressPubkey(k.PublicKey)
}

// Uncompressed returns the 65-byte SEC1 uncompressed encoding.
func (k *PublicKey) Uncompressed() []byte {
	return crypto.FromECDSAPub(k.PublicKey)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// ParsePublicKey decodes a compressed (33 byte) or uncompressed (65 byte) secp256k1 point.
// Points that do not satisfy the curve equation are rejected.
func ParsePublicKey(b []byte) (*PublicKey, error) {
	switch len(b) {
	case 33:
		pub, err := crypto.DecompressPubkey(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPointNotOnCurve, err)
		}
		return &PublicKey{pub}, nil
	case 65:
		if b[0] != 0x04 {
			return nil, ErrInvalidPublicKey
		}
		curve := crypto.S256()
		x, y := new(big.Int).SetBytes(b[1:33]), new(big.Int).SetBytes(b[33:])
		if !curve.IsOnCurve(x, y) {
			return nil, ErrPointNotOnCurve
		}
		return &PublicKey{&ecdsa.PublicKey{Curve: curve, X: x, Y: y}}, nil
	default:
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(b))
	}
}

// RandomNonce returns 32 cryptographically random bytes.
func RandomNonce() (common.Hash, error) {
	var nonce common.Hash
	if _, err := rand.Read(nonce[:]); err != nil {
		return common.Hash{}, fmt.Errorf("crypto: read nonce: %w", err)
	}
	return nonce, nil
}
