package event

import (
	"encoding/json"
	"fmt"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/market"
	"marketplace_go/pkg/quant"
)

// Type defines the type of event. Values are persisted in the WAL and must
// never be renumbered.
type Type uint16

const (
	EvInit Type = iota + 1
	EvList
	EvDelist
	EvPurchase
	EvDeposit
	EvMintAsset
	EvVerifyCollection
)

var typeNames = map[Type]string{
	EvInit:             "init",
	EvList:             "list",
	EvDelist:           "delist",
	EvPurchase:         "purchase",
	EvDeposit:          "deposit",
	EvMintAsset:        "mint_asset",
	EvVerifyCollection: "verify_collection",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint16(t))
}

// ParseType resolves a type from its name.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", name)
}

// Event is the interface for all sequencer events.
type Event interface {
	GetSeq() uint64
	GetTs() quant.TimeStamp
	GetType() Type
	GetSigner() domain.Pubkey
	GetNonce() uint64
	Base() *BaseEvent
}

// BaseEvent contains common fields for all events. Seq and Ts are stamped
// by the sequencer; Signer and Nonce come from the signed envelope.
type BaseEvent struct {
	Seq    uint64          `json:"seq"`
	Ts     quant.TimeStamp `json:"ts"`
	Signer domain.Pubkey   `json:"signer"`
	Nonce  uint64          `json:"nonce"`
}

func (e *BaseEvent) GetSeq() uint64           { return e.Seq }
func (e *BaseEvent) GetTs() quant.TimeStamp   { return e.Ts }
func (e *BaseEvent) GetSigner() domain.Pubkey { return e.Signer }
func (e *BaseEvent) GetNonce() uint64         { return e.Nonce }
func (e *BaseEvent) Base() *BaseEvent         { return e }

// Context converts the event metadata into the program's execution context.
func (e *BaseEvent) Context() market.Context {
	return market.Context{Signer: e.Signer, Seq: e.Seq, Ts: e.Ts}
}

// InitEvent creates a marketplace.
type InitEvent struct {
	BaseEvent
	market.InitArgs
}

func (e *InitEvent) GetType() Type { return EvInit }

// ListEvent escrows an asset for sale.
type ListEvent struct {
	BaseEvent
	market.ListArgs
}

func (e *ListEvent) GetType() Type { return EvList }

// DelistEvent withdraws a listing.
type DelistEvent struct {
	BaseEvent
	market.DelistArgs
}

func (e *DelistEvent) GetType() Type { return EvDelist }

// PurchaseEvent buys a listed asset.
type PurchaseEvent struct {
	BaseEvent
	market.PurchaseArgs
}

func (e *PurchaseEvent) GetType() Type { return EvPurchase }

// DepositEvent airdrops lamports into an account.
type DepositEvent struct {
	BaseEvent
	To     domain.Pubkey  `json:"to"`
	Amount quant.Lamports `json:"amount,string"`
}

func (e *DepositEvent) GetType() Type { return EvDeposit }

// MintAssetEvent creates a new asset owned by the signer.
type MintAssetEvent struct {
	BaseEvent
	Asset      domain.Pubkey `json:"asset"`
	Name       string        `json:"name"`
	URI        string        `json:"uri,omitempty"`
	Collection domain.Pubkey `json:"collection,omitempty"`
}

func (e *MintAssetEvent) GetType() Type { return EvMintAsset }

// VerifyCollectionEvent confirms an asset's collection membership.
// The signer must be the collection's creator.
type VerifyCollectionEvent struct {
	BaseEvent
	Asset domain.Pubkey `json:"asset"`
}

func (e *VerifyCollectionEvent) GetType() Type { return EvVerifyCollection }

// New returns an empty event of the given type.
func New(t Type) (Event, error) {
	switch t {
	case EvInit:
		return &InitEvent{}, nil
	case EvList:
		return &ListEvent{}, nil
	case EvDelist:
		return &DelistEvent{}, nil
	case EvPurchase:
		return &PurchaseEvent{}, nil
	case EvDeposit:
		return &DepositEvent{}, nil
	case EvMintAsset:
		return &MintAssetEvent{}, nil
	case EvVerifyCollection:
		return &VerifyCollectionEvent{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %d", uint16(t))
	}
}

// Decode unmarshals a JSON payload into an event of the given type.
func Decode(t Type, payload []byte) (Event, error) {
	ev, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", t, err)
	}
	return ev, nil
}
