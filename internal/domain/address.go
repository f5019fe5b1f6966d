package domain

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressLen is the byte length of a ledger account address (an ed25519
// public key).
const AddressLen = 32

// Address is a ledger account address. The zero value is the documented
// default for absent identity fields in legacy account layouts.
type Address [AddressLen]byte

// ZeroAddress is the all-zero identity used as the decode default for
// identity fields that are not present in older account versions.
var ZeroAddress Address

// ParseAddress decodes a base58-encoded ledger address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("domain: parse address %q: %w", s, err)
	}
	if len(raw) != AddressLen {
		return a, fmt.Errorf("domain: parse address %q: expected %d bytes, got %d", s, AddressLen, len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// MustAddress is like ParseAddress but panics on error. Intended for
// fixtures and configuration defaults only.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the address in base58.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether the address is the all-zero identity.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// MarshalText implements encoding.TextMarshaler so addresses serialize as
// base58 strings in JSON payloads and map keys.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
