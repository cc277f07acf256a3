// Package identity manages ed25519 keypairs and signed transaction
// envelopes. A user's public key is their account address on the ledger;
// every command reaching the sequencer carries a signature by that key.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"marketplace_go/internal/domain"
)

// Identity is a user's signing keypair.
type Identity struct {
	privateKey ed25519.PrivateKey
	pubkey     domain.Pubkey
}

// NewIdentity creates an Identity from a private key.
func NewIdentity(priv ed25519.PrivateKey) *Identity {
	return &Identity{
		privateKey: priv,
		pubkey:     domain.PubkeyFromPublicKey(priv.Public().(ed25519.PublicKey)),
	}
}

// Generate creates a fresh random identity.
func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewIdentity(priv), nil
}

// Sign signs msg with the identity's private key.
func (i *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(i.privateKey, msg)
}

// Pubkey returns the account address of the identity.
func (i *Identity) Pubkey() domain.Pubkey {
	return i.pubkey
}

// LoadOrCreate loads the key at keyPath, generating and saving one if the
// file is missing or empty.
func LoadOrCreate(keyPath string) (*Identity, error) {
	info, err := os.Stat(keyPath)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		id, err := Generate()
		if err != nil {
			return nil, err
		}
		if err := Save(id, keyPath); err != nil {
			return nil, err
		}
		return id, nil
	}
	if err != nil {
		return nil, err
	}
	return Load(keyPath)
}

// Save writes the private key as a PKCS8 PEM file readable only by the owner.
func Save(id *Identity, keyPath string) error {
	der, err := x509.MarshalPKCS8PrivateKey(id.privateKey)
	if err != nil {
		return fmt.Errorf("failed to encode key: %w", err)
	}

	file, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer file.Close()

	return pem.Encode(file, &pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// Load reads a PKCS8 PEM ed25519 key.
func Load(keyPath string) (*Identity, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block from key file")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("key is not an ed25519 private key")
	}
	return NewIdentity(priv), nil
}
