// Package ledger is the accounting layer under the marketplace program:
// lamport balances, asset holdings, program-owned accounts and program
// records. Mutation happens only through a Txn, which commits all of its
// writes or none of them.
package ledger

import (
	"cmp"
	"slices"

	"marketplace_go/internal/domain"
	"marketplace_go/pkg/quant"
)

// HoldingKey addresses the amount of one asset held by one account.
type HoldingKey struct {
	Owner domain.Pubkey
	Asset domain.Pubkey
}

// Account is a program-owned token account (e.g. a custody vault).
// Only Program may move value out of it.
type Account struct {
	Address domain.Pubkey `json:"address"`
	Program domain.Pubkey `json:"program"`
	Asset   domain.Pubkey `json:"asset"`
}

// State is the committed ledger. It is not safe for concurrent mutation;
// the sequencer is its only writer.
type State struct {
	lamports     map[domain.Pubkey]quant.Lamports
	holdings     map[HoldingKey]uint64
	accounts     map[domain.Pubkey]Account
	assets       map[domain.Pubkey]domain.Asset
	marketplaces map[domain.Pubkey]domain.Marketplace
	listings     map[domain.Pubkey]domain.Listing
	nonces       map[domain.Pubkey]uint64
}

// NewState returns an empty ledger.
func NewState() *State {
	return &State{
		lamports:     make(map[domain.Pubkey]quant.Lamports),
		holdings:     make(map[HoldingKey]uint64),
		accounts:     make(map[domain.Pubkey]Account),
		assets:       make(map[domain.Pubkey]domain.Asset),
		marketplaces: make(map[domain.Pubkey]domain.Marketplace),
		listings:     make(map[domain.Pubkey]domain.Listing),
		nonces:       make(map[domain.Pubkey]uint64),
	}
}

// Begin opens a transaction over the committed state.
func (s *State) Begin() *Txn {
	return &Txn{
		state:        s,
		lamports:     newOverlay(s.lamports),
		holdings:     newOverlay(s.holdings),
		accounts:     newOverlay(s.accounts),
		assets:       newOverlay(s.assets),
		marketplaces: newOverlay(s.marketplaces),
		listings:     newOverlay(s.listings),
	}
}

// Nonce returns the last accepted nonce of a signer (0 if none).
func (s *State) Nonce(signer domain.Pubkey) uint64 {
	return s.nonces[signer]
}

// AdvanceNonce records that the signer's next nonce was consumed.
// Nonces advance whether or not the command itself succeeded.
func (s *State) AdvanceNonce(signer domain.Pubkey) uint64 {
	s.nonces[signer]++
	return s.nonces[signer]
}

func (s *State) Lamports(owner domain.Pubkey) quant.Lamports {
	return s.lamports[owner]
}

func (s *State) Holding(owner, asset domain.Pubkey) uint64 {
	return s.holdings[HoldingKey{Owner: owner, Asset: asset}]
}

func (s *State) Asset(id domain.Pubkey) (domain.Asset, bool) {
	a, ok := s.assets[id]
	return a, ok
}

func (s *State) Account(addr domain.Pubkey) (Account, bool) {
	a, ok := s.accounts[addr]
	return a, ok
}

func (s *State) Marketplace(addr domain.Pubkey) (domain.Marketplace, bool) {
	m, ok := s.marketplaces[addr]
	return m, ok
}

// Listing looks up the live listing of an asset in a marketplace.
func (s *State) Listing(marketplace, asset domain.Pubkey) (domain.Listing, bool) {
	l, ok := s.listings[domain.ListingAddress(marketplace, asset)]
	return l, ok
}

// Listings returns the live listings of a marketplace, oldest first.
func (s *State) Listings(marketplace domain.Pubkey) []domain.Listing {
	out := make([]domain.Listing, 0)
	for _, l := range s.listings {
		if l.Marketplace == marketplace {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b domain.Listing) int {
		if c := cmp.Compare(a.ListedSeq, b.ListedSeq); c != 0 {
			return c
		}
		return a.Address.Compare(b.Address)
	})
	return out
}

// ListingCount returns the number of live listings across all marketplaces.
func (s *State) ListingCount() int {
	return len(s.listings)
}

// Marketplaces returns every initialized marketplace ordered by creation.
func (s *State) Marketplaces() []domain.Marketplace {
	out := make([]domain.Marketplace, 0, len(s.marketplaces))
	for _, m := range s.marketplaces {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b domain.Marketplace) int {
		return cmp.Compare(a.CreatedSeq, b.CreatedSeq)
	})
	return out
}

// Holdings lists every non-zero asset holding of an owner.
func (s *State) Holdings(owner domain.Pubkey) []Holding {
	out := make([]Holding, 0)
	for k, amount := range s.holdings {
		if k.Owner == owner && amount > 0 {
			out = append(out, Holding{Owner: k.Owner, Asset: k.Asset, Amount: amount})
		}
	}
	slices.SortFunc(out, func(a, b Holding) int { return a.Asset.Compare(b.Asset) })
	return out
}

// VerifyInvariants panics if escrow bookkeeping is inconsistent:
// every listing has a vault holding exactly one unit of its asset, and every
// vault belongs to a live listing. Called after each commit.
func (s *State) VerifyInvariants() {
	vaults := make(map[domain.Pubkey]struct{}, len(s.listings))
	for addr, l := range s.listings {
		acct, ok := s.accounts[l.Vault]
		if !ok {
			panic("INVARIANT_VIOLATION: listing " + addr.String() + " has no vault")
		}
		if acct.Asset != l.Asset {
			panic("INVARIANT_VIOLATION: vault " + l.Vault.String() + " holds the wrong asset")
		}
		if s.Holding(l.Vault, l.Asset) != 1 {
			panic("INVARIANT_VIOLATION: vault " + l.Vault.String() + " does not hold exactly one unit")
		}
		vaults[l.Vault] = struct{}{}
	}
	for addr := range s.accounts {
		if _, ok := vaults[addr]; !ok {
			panic("INVARIANT_VIOLATION: orphan vault " + addr.String())
		}
	}
}
