package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Arg is a single typed contract-call argument folded into the payload hash.
// Type uses Solidity ABI names such as "address", "uint256", "bytes32" or "bytes".
type Arg struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

var (
	bytes32Type = mustType("bytes32")
	addressType = mustType("address")
	uint256Type = mustType("uint256")

	gatewayHashArgs   = abi.Arguments{{Type: bytes32Type}, {Type: addressType}, {Type: addressType}, {Type: bytes32Type}}
	signatureHashArgs = abi.Arguments{{Type: bytes32Type}, {Type: uint256Type}, {Type: addressType}, {Type: addressType}, {Type: bytes32Type}}
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// PayloadHash returns keccak256(abi.encode(args...)). An empty argument list hashes to the zero value.
func PayloadHash(args []Arg) (common.Hash, error) {
	if len(args) == 0 {
		return common.Hash{}, nil
	}
	arguments := make(abi.Arguments, 0, len(args))
	values := make([]any, 0, len(args))
	for _, arg := range args {
		t, err := abi.NewType(arg.Type, "", nil)
		if err != nil {
			return common.Hash{}, fmt.Errorf("crypto: argument %q: %w", arg.Name, err)
		}
		value, err := coerceArg(t, arg.Value)
		if err != nil {
			return common.Hash{}, fmt.Errorf("crypto: argument %q: %w", arg.Name, err)
		}
		arguments = append(arguments, abi.Argument{Name: arg.Name, Type: t})
		values = append(values, value)
	}
	packed, err := arguments.Pack(values...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto: encode payload: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// GatewayHash binds the payload, token, recipient and nonce of a transfer:
// keccak256(abi.encode(bytes32 pHash, address token, address to, bytes32 nonce)).
func GatewayHash(pHash common.Hash, token, to common.Address, nonce common.Hash) common.Hash {
	packed, err := gatewayHashArgs.Pack([32]byte(pHash), token, to, [32]byte(nonce))
	if err != nil {
		panic(fmt.Sprintf("crypto: encode gateway hash: %v", err))
	}
	return crypto.Keccak256Hash(packed)
}

// SignatureHash is the digest the network signs to authorise a mint:
// keccak256(abi.encode(bytes32 pHash, uint256 amount, address token, address to, bytes32 nHash)).
func SignatureHash(pHash common.Hash, amount *big.Int, token, to common.Address, nHash common.Hash) (common.Hash, error) {
	if amount == nil || amount.Sign() < 0 {
		return common.Hash{}, errors.New("crypto: amount must be a non-negative integer")
	}
	packed, err := signatureHashArgs.Pack([32]byte(pHash), amount, token, to, [32]byte(nHash))
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto: encode signature hash: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

func coerceArg(t abi.Type, value any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		switch v := value.(type) {
		case common.Address:
			return v, nil
		case string:
			if !common.IsHexAddress(v) {
				return nil, fmt.Errorf("invalid address %q", v)
			}
			return common.HexToAddress(v), nil
		}
	case abi.UintTy, abi.IntTy:
		switch v := value.(type) {
		case *big.Int:
			if t.Size > 64 {
				return v, nil
			}
			return fitInteger(t, v)
		case string:
			n, ok := new(big.Int).SetString(v, 0)
			if !ok {
				return nil, fmt.Errorf("invalid integer %q", v)
			}
			if t.Size > 64 {
				return n, nil
			}
			return fitInteger(t, n)
		case uint64:
			if t.Size > 64 {
				return new(big.Int).SetUint64(v), nil
			}
			return fitInteger(t, new(big.Int).SetUint64(v))
		case int:
			if t.Size > 64 {
				return big.NewInt(int64(v)), nil
			}
			return fitInteger(t, big.NewInt(int64(v)))
		}
	case abi.FixedBytesTy:
		raw, err := bytesValue(value)
		if err != nil {
			return nil, err
		}
		if len(raw) > t.Size {
			return nil, fmt.Errorf("value of %d bytes exceeds bytes%d", len(raw), t.Size)
		}
		return fixedBytes(t.Size, raw), nil
	case abi.BytesTy:
		return bytesValue(value)
	case abi.StringTy:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case abi.BoolTy:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	}
	return value, nil
}

func fitInteger(t abi.Type, n *big.Int) (any, error) {
	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, fmt.Errorf("value %s overflows uint%d", n, t.Size)
		}
		u := n.Uint64()
		switch t.Size {
		case 8:
			return uint8(u), nil
		case 16:
			return uint16(u), nil
		case 32:
			return uint32(u), nil
		case 64:
			return u, nil
		}
		return n, nil
	}
	if !n.IsInt64() {
		return nil, fmt.Errorf("value %s overflows int%d", n, t.Size)
	}
	i := n.Int64()
	switch t.Size {
	case 8:
		return int8(i), nil
	case 16:
		return int16(i), nil
	case 32:
		return int32(i), nil
	case 64:
		return i, nil
	}
	return n, nil
}

// fixedBytes right-pads raw into the [size]byte array type the ABI packer expects.
func fixedBytes(size int, raw []byte) any {
	arr := reflect.New(reflect.ArrayOf(size, reflect.TypeOf(byte(0)))).Elem()
	reflect.Copy(arr, reflect.ValueOf(raw))
	return arr.Interface()
}

func bytesValue(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case common.Hash:
		return v.Bytes(), nil
	case [32]byte:
		return v[:], nil
	case string:
		return DecodeBytes(v)
	}
	return nil, fmt.Errorf("unsupported bytes value %T", value)
}

// DecodeBytes accepts 0x-prefixed hex or standard base64, which is how the network
// serialises binary fields.
func DecodeBytes(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return hex.DecodeString(s[2:])
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return hex.DecodeString(s)
}
