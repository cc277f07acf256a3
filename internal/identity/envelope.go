package identity

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/event"
)

var ErrBadSignature = errors.New("signature verification failed")

const signingDomain = "marketplace-tx:v1"

// Envelope is a signed command as submitted by a client.
type Envelope struct {
	Signer    domain.Pubkey   `json:"signer"`
	Type      string          `json:"type" validate:"required"`
	Nonce     uint64          `json:"nonce" validate:"gt=0"`
	Payload   json.RawMessage `json:"payload" validate:"required"`
	Signature string          `json:"signature" validate:"required"`
}

// signingBytes is the exact byte string covered by the signature.
func signingBytes(t event.Type, signer domain.Pubkey, nonce uint64, payload []byte) []byte {
	msg := make([]byte, 0, len(signingDomain)+2+domain.PubkeySize+8+len(payload))
	msg = append(msg, signingDomain...)
	msg = binary.BigEndian.AppendUint16(msg, uint16(t))
	msg = append(msg, signer[:]...)
	msg = binary.BigEndian.AppendUint64(msg, nonce)
	return append(msg, payload...)
}

// Seal signs ev with id under the given nonce.
func Seal(id *Identity, nonce uint64, ev event.Event) (*Envelope, error) {
	base := ev.Base()
	*base = event.BaseEvent{Signer: id.Pubkey(), Nonce: nonce}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", ev.GetType(), err)
	}
	sig := id.Sign(signingBytes(ev.GetType(), id.Pubkey(), nonce, payload))

	return &Envelope{
		Signer:    id.Pubkey(),
		Type:      ev.GetType().String(),
		Nonce:     nonce,
		Payload:   payload,
		Signature: base58.Encode(sig),
	}, nil
}

// Open verifies the signature and decodes the command. Signer and Nonce are
// taken from the envelope; Seq and Ts are left for the sequencer to stamp.
func (e *Envelope) Open() (event.Event, error) {
	t, err := event.ParseType(e.Type)
	if err != nil {
		return nil, err
	}
	sig, err := base58.Decode(e.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}
	if !ed25519.Verify(e.Signer.PublicKey(), signingBytes(t, e.Signer, e.Nonce, e.Payload), sig) {
		return nil, ErrBadSignature
	}

	ev, err := event.Decode(t, e.Payload)
	if err != nil {
		return nil, err
	}
	*ev.Base() = event.BaseEvent{Signer: e.Signer, Nonce: e.Nonce}
	return ev, nil
}
