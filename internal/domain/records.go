package domain

import "marketplace_go/pkg/quant"

// MaxNameLen bounds the marketplace name. The name is a derivation seed,
// so it shares the seed length limit.
const MaxNameLen = MaxSeedLen

// Marketplace is the singleton configuration record of one marketplace.
// It is written once by Init and never mutated.
type Marketplace struct {
	Address        Pubkey            `json:"address"`
	Authority      Pubkey            `json:"authority"`
	Name           string            `json:"name"`
	FeeBasisPoints quant.BasisPoints `json:"fee_bps"`
	FeeRecipient   Pubkey            `json:"fee_recipient"`
	Treasury       Pubkey            `json:"treasury"`
	Rewards        Pubkey            `json:"rewards"`
	CreatedSeq     uint64            `json:"created_seq"`
	CreatedUnixM   quant.TimeStamp   `json:"created_unix,string"`
}

// Listing asserts that an escrowed asset is for sale. The Vault holds
// exactly one unit of Asset for as long as the Listing exists.
type Listing struct {
	Address     Pubkey          `json:"address"`
	Marketplace Pubkey          `json:"marketplace"`
	Seller      Pubkey          `json:"seller"`
	Asset       Pubkey          `json:"asset"`
	Vault       Pubkey          `json:"vault"`
	Price       quant.Lamports  `json:"price,string"`
	Collection  Pubkey          `json:"collection,omitempty"`
	ListedSeq   uint64          `json:"listed_seq"`
	ListedUnixM quant.TimeStamp `json:"listed_unix,string"`
}

// Asset is a mint. User-minted assets are single indivisible tradeable
// units; program mints such as marketplace rewards carry Decimals.
type Asset struct {
	ID         Pubkey `json:"id"`
	Name       string `json:"name"`
	URI        string `json:"uri,omitempty"`
	Creator    Pubkey `json:"creator"`
	Collection Pubkey `json:"collection,omitempty"`
	// Verified is set once the collection's creator confirms membership.
	Verified   bool   `json:"verified"`
	// Decimals is non-zero only for fungible program mints.
	Decimals   uint8  `json:"decimals,omitempty"`
	MintedSeq  uint64 `json:"minted_seq"`
}

// InCollection reports whether the asset claims membership of a collection.
func (a *Asset) InCollection() bool {
	return !a.Collection.IsZero()
}
