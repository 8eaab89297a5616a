package crypto

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// ErrInvalidSignature is returned when neither recovery id recovers the authority address.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

var (
	secp256k1N     = uint256.MustFromBig(crypto.S256().Params().N)
	secp256k1HalfN = new(uint256.Int).Rsh(secp256k1N, 1)
)

// Signature is a recoverable secp256k1 signature with V in {27, 28}.
type Signature struct {
	R common.Hash `json:"r"`
	S common.Hash `json:"s"`
	V byte        `json:"v"`
}

// ParseSignature decodes a 65-byte r || s || v signature.
func ParseSignature(b []byte) (Signature, error) {
	if len(b) != crypto.SignatureLength {
		return Signature{}, fmt.Errorf("crypto: signature must be %d bytes, got %d", crypto.SignatureLength, len(b))
	}
	return Signature{
		R: common.BytesToHash(b[:32]),
		S: common.BytesToHash(b[32:64]),
		V: b[64],
	}, nil
}

// Bytes returns the 65-byte r || s || v form accepted by mint contracts.
func (s Signature) Bytes() []byte {
	out := make([]byte, 0, crypto.SignatureLength)
	out = append(out, s.R.Bytes()...)
	out = append(out, s.S.Bytes()...)
	return append(out, s.V)
}

func (s Signature) String() string {
	return hexutil.Encode(s.Bytes())
}

func normalizeV(v byte) byte {
	return v%27 + 27
}

func flipV(v byte) byte {
	if v == 27 {
		return 28
	}
	return 27
}

// Normalize maps V into {27, 28} and, when s lies in the upper half of the curve order,
// replaces it with n - s and flips V. The result always carries a low s and applying
// Normalize again is a no-op.
func Normalize(sig Signature) Signature {
	out := Signature{R: sig.R, S: sig.S, V: normalizeV(sig.V)}
	s := new(uint256.Int).SetBytes32(sig.S.Bytes())
	if s.Gt(secp256k1HalfN) {
		s.Sub(secp256k1N, s)
		out.S = common.Hash(s.Bytes32())
		out.V = flipV(out.V)
	}
	return out
}

// Recover returns the address that produced sig over hash. V must be 27 or 28.
func Recover(sig Signature, hash common.Hash) (common.Address, error) {
	raw := sig.Bytes()
	raw[64] = sig.V - 27
	pub, err := crypto.SigToPub(hash.Bytes(), raw)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ValidateSignature normalizes sig and returns the variant whose recovered signer is the
// authority. Both recovery ids are tried because nodes have been seen to report the wrong one.
func ValidateSignature(sig Signature, sigHash common.Hash, authority common.Address) (Signature, error) {
	normalized := Normalize(sig)
	for _, v := range []byte{normalized.V, flipV(normalized.V)} {
		candidate := Signature{R: normalized.R, S: normalized.S, V: v}
		recovered, err := Recover(candidate, sigHash)
		if err != nil {
			continue
		}
		if recovered == authority {
			return candidate, nil
		}
	}
	return Signature{}, fmt.Errorf("%w: unable to recover authority %s", ErrInvalidSignature, authority.Hex())
}

// CheckSignatureHash compares the locally recomputed signature hash with the one reported by
// the network. A mismatch is logged and otherwise ignored; the signature check is authoritative.
func CheckSignatureHash(logger *slog.Logger, expected, reported common.Hash) bool {
	if expected == reported {
		return true
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("network returned unexpected signature hash",
		slog.String("expected", expected.Hex()),
		slog.String("reported", reported.Hex()))
	return false
}
