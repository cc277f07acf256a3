package domain

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeySize is the byte length of every account identity.
const PubkeySize = 32

var ErrInvalidPubkey = errors.New("invalid pubkey")

// Pubkey identifies an account: either an ed25519 public key held by a user,
// or an address derived by DeriveAddress that no one holds a key for.
type Pubkey [PubkeySize]byte

// PubkeyFromBytes copies a 32-byte slice into a Pubkey.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var p Pubkey
	if len(b) != PubkeySize {
		return p, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPubkey, PubkeySize, len(b))
	}
	copy(p[:], b)
	return p, nil
}

// PubkeyFromPublicKey converts an ed25519 public key.
func PubkeyFromPublicKey(pub ed25519.PublicKey) Pubkey {
	var p Pubkey
	copy(p[:], pub)
	return p
}

// ParsePubkey decodes the base58 text form.
func ParsePubkey(s string) (Pubkey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
	}
	return PubkeyFromBytes(b)
}

// MustParsePubkey is ParsePubkey for constants; it panics on bad input.
func MustParsePubkey(s string) Pubkey {
	p, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

func (p Pubkey) Bytes() []byte {
	return p[:]
}

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// PublicKey returns the identity as an ed25519 verification key.
func (p Pubkey) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(p[:])
}

// Compare orders pubkeys bytewise. Used for deterministic iteration.
func (p Pubkey) Compare(o Pubkey) int {
	return bytes.Compare(p[:], o[:])
}

func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pubkey) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = Pubkey{}
		return nil
	}
	parsed, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
