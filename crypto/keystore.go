package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrNoSignerKey is returned when neither a raw key nor a keystore was configured.
var ErrNoSignerKey = errors.New("crypto: no signer key configured")

// SignerSource describes where the mint-chain signing key lives. Exactly one of
// HexKey, HexKeyEnv or KeystorePath is expected.
type SignerSource struct {
	HexKey        string
	HexKeyEnv     string
	KeystorePath  string
	Passphrase    string
	PassphraseEnv string
}

// LoadSigner resolves the signing key described by src.
func LoadSigner(src SignerSource) (*PrivateKey, error) {
	raw := strings.TrimSpace(src.HexKey)
	if raw == "" && src.HexKeyEnv != "" {
		raw = strings.TrimSpace(os.Getenv(src.HexKeyEnv))
	}
	if raw != "" {
		if !strings.HasPrefix(raw, "0x") {
			raw = "0x" + raw
		}
		b, err := hexutil.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("crypto: decode signer key: %w", err)
		}
		return PrivateKeyFromBytes(b)
	}
	if path := strings.TrimSpace(src.KeystorePath); path != "" {
		pass := src.Passphrase
		if pass == "" && src.PassphraseEnv != "" {
			pass = os.Getenv(src.PassphraseEnv)
		}
		return LoadFromKeystore(path, pass)
	}
	return nil, ErrNoSignerKey
}

// SaveToKeystore writes key as an Ethereum v3 keystore file at path, creating the
// parent directory with 0700 permissions.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	ks := keystore.NewKeyStore(tmpDir, keystore.LightScryptN, keystore.LightScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return err
	}
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("crypto: failed to create keystore file")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(filepath.Join(tmpDir, entries[0].Name()), path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts a v3 keystore file.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
