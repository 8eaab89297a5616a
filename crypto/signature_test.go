package crypto

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func signDigest(t *testing.T, key *PrivateKey, digest common.Hash) Signature {
	t.Helper()
	raw, err := crypto.Sign(digest.Bytes(), key.PrivateKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig, err := ParseSignature(raw)
	if err != nil {
		t.Fatalf("parse signature: %v", err)
	}
	return sig
}

func highS(sig Signature) Signature {
	n := crypto.S256().Params().N
	s := new(big.Int).Sub(n, new(big.Int).SetBytes(sig.S.Bytes()))
	return Signature{R: sig.R, S: common.BytesToHash(s.Bytes()), V: flipV(normalizeV(sig.V))}
}

func TestNormalizeProducesLowSAndIsIdempotent(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sig := signDigest(t, key, common.HexToHash("0x1234"))
	low := Normalize(sig)
	if low.V != 27 && low.V != 28 {
		t.Fatalf("unexpected v %d", low.V)
	}

	flipped := highS(sig)
	normalized := Normalize(flipped)
	if normalized != low {
		t.Fatalf("high-s signature did not normalize back: got %+v want %+v", normalized, low)
	}
	if again := Normalize(normalized); again != normalized {
		t.Fatalf("normalize is not idempotent")
	}
	halfN := new(big.Int).Rsh(crypto.S256().Params().N, 1)
	if new(big.Int).SetBytes(normalized.S.Bytes()).Cmp(halfN) > 0 {
		t.Fatalf("normalized s is above n/2")
	}
}

func TestValidateSignatureRecoversAuthority(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	authority := key.PubKey().Address()
	digest := common.HexToHash("0xfeedface")
	sig := signDigest(t, key, digest)

	cases := map[string]Signature{
		"raw":    sig,
		"high-s": highS(sig),
		"wrong-v": {
			R: sig.R,
			S: sig.S,
			V: flipV(normalizeV(sig.V)),
		},
	}
	for name, candidate := range cases {
		t.Run(name, func(t *testing.T) {
			validated, err := ValidateSignature(candidate, digest, authority)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			recovered, err := Recover(validated, digest)
			if err != nil || recovered != authority {
				t.Fatalf("validated signature does not recover authority: %v", err)
			}
		})
	}
}

func TestValidateSignatureRejectsTamperedR(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	digest := common.HexToHash("0xabcdef")
	sig := signDigest(t, key, digest)
	sig.R[31] ^= 0x01

	if _, err := ValidateSignature(sig, digest, key.PubKey().Address()); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestValidateSignatureRejectsOtherSigner(t *testing.T) {
	signer, _ := GeneratePrivateKey()
	other, _ := GeneratePrivateKey()
	digest := common.HexToHash("0x01")
	sig := signDigest(t, signer, digest)
	if _, err := ValidateSignature(sig, digest, other.PubKey().Address()); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestCheckSignatureHash(t *testing.T) {
	if !CheckSignatureHash(nil, common.HexToHash("0x01"), common.HexToHash("0x01")) {
		t.Fatalf("matching hashes reported as mismatch")
	}
	if CheckSignatureHash(nil, common.HexToHash("0x01"), common.HexToHash("0x02")) {
		t.Fatalf("mismatch not reported")
	}
}
