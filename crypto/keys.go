package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	// AccountPrefix tags user and module accounts.
	AccountPrefix AddressPrefix = "dsc"
	// AssetPrefix tags collateral and debt token contracts.
	AssetPrefix AddressPrefix = "dsct"
)

// AddressLength is the byte length of every address.
const AddressLength = 20

// Address represents a 20-byte address with a human-readable prefix. The value
// is comparable so it can key ledger maps directly.
type Address struct {
	prefix AddressPrefix
	bytes  [AddressLength]byte
}

// NewAddress builds an address from exactly 20 bytes.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes long, got %d", AddressLength, len(b))
	}
	addr := Address{prefix: prefix}
	copy(addr.bytes[:], b)
	return addr, nil
}

// MustNewAddress is like NewAddress but panics on malformed input.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

// DeriveAddress deterministically maps a label onto an address using the last
// 20 bytes of its keccak256 digest.
func DeriveAddress(prefix AddressPrefix, label string) Address {
	digest := crypto.Keccak256([]byte(label))
	return MustNewAddress(prefix, digest[len(digest)-AddressLength:])
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Hex renders the raw address bytes as a checksummed 0x-prefixed string.
func (a Address) Hex() string {
	return common.BytesToAddress(a.bytes[:]).Hex()
}

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether every address byte is zero.
func (a Address) IsZero() bool {
	return a.bytes == [AddressLength]byte{}
}

// WithPrefix returns a copy of the address carrying a different prefix.
func (a Address) WithPrefix(prefix AddressPrefix) Address {
	a.prefix = prefix
	return a
}

// MarshalText renders the bech32 form so addresses serialise as JSON strings.
func (a Address) MarshalText() ([]byte, error) {
	if a.prefix == "" {
		return []byte(a.Hex()), nil
	}
	return []byte(a.String()), nil
}

// UnmarshalText accepts either bech32 or hex encodings.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text), AccountPrefix)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// ParseAddress decodes a bech32 address or, for 0x-prefixed input, a hex
// address tagged with the fallback prefix.
func ParseAddress(raw string, fallback AddressPrefix) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}, fmt.Errorf("address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return Address{}, fmt.Errorf("invalid hex address %q", trimmed)
		}
		return NewAddress(fallback, common.HexToAddress(trimmed).Bytes())
	}
	return DecodeAddress(trimmed)
}

// ParseAccount is ParseAddress restricted to AccountPrefix. Bech32 input
// carrying any other prefix is rejected.
func ParseAccount(raw string) (Address, error) {
	addr, err := ParseAddress(raw, AccountPrefix)
	if err != nil {
		return Address{}, err
	}
	if addr.prefix != AccountPrefix {
		return Address{}, fmt.Errorf("address %q is not an account (prefix %q, want %q)", strings.TrimSpace(raw), addr.prefix, AccountPrefix)
	}
	return addr, nil
}

// --- Operator keys ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

// GeneratePrivateKey creates a fresh secp256k1 key.
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

// Address derives the account controlled by the key.
func (k *PublicKey) Address() Address {
	return MustNewAddress(AccountPrefix, crypto.PubkeyToAddress(*k.PublicKey).Bytes())
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
