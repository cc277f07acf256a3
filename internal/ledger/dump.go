package ledger

import (
	"cmp"
	"slices"

	"marketplace_go/internal/domain"
	"marketplace_go/pkg/quant"
)

// LamportBalance is one row of the lamports table.
type LamportBalance struct {
	Owner  domain.Pubkey  `json:"owner"`
	Amount quant.Lamports `json:"amount,string"`
}

// NonceEntry is one row of the nonce table.
type NonceEntry struct {
	Signer domain.Pubkey `json:"signer"`
	Nonce  uint64        `json:"nonce"`
}

// Dump is the serializable form of State, with every table sorted so the
// same state always encodes to the same bytes.
type Dump struct {
	Lamports     []LamportBalance     `json:"lamports"`
	Holdings     []Holding            `json:"holdings"`
	Accounts     []Account            `json:"accounts"`
	Assets       []domain.Asset       `json:"assets"`
	Marketplaces []domain.Marketplace `json:"marketplaces"`
	Listings     []domain.Listing     `json:"listings"`
	Nonces       []NonceEntry         `json:"nonces"`
}

// Dump copies the committed state.
func (s *State) Dump() Dump {
	d := Dump{
		Lamports:     make([]LamportBalance, 0, len(s.lamports)),
		Holdings:     make([]Holding, 0, len(s.holdings)),
		Accounts:     make([]Account, 0, len(s.accounts)),
		Assets:       make([]domain.Asset, 0, len(s.assets)),
		Marketplaces: make([]domain.Marketplace, 0, len(s.marketplaces)),
		Listings:     make([]domain.Listing, 0, len(s.listings)),
		Nonces:       make([]NonceEntry, 0, len(s.nonces)),
	}

	for owner, amount := range s.lamports {
		d.Lamports = append(d.Lamports, LamportBalance{Owner: owner, Amount: amount})
	}
	for k, amount := range s.holdings {
		if amount == 0 {
			continue
		}
		d.Holdings = append(d.Holdings, Holding{Owner: k.Owner, Asset: k.Asset, Amount: amount})
	}
	for _, a := range s.accounts {
		d.Accounts = append(d.Accounts, a)
	}
	for _, a := range s.assets {
		d.Assets = append(d.Assets, a)
	}
	for _, m := range s.marketplaces {
		d.Marketplaces = append(d.Marketplaces, m)
	}
	for _, l := range s.listings {
		d.Listings = append(d.Listings, l)
	}
	for signer, n := range s.nonces {
		d.Nonces = append(d.Nonces, NonceEntry{Signer: signer, Nonce: n})
	}

	slices.SortFunc(d.Lamports, func(a, b LamportBalance) int { return a.Owner.Compare(b.Owner) })
	slices.SortFunc(d.Holdings, func(a, b Holding) int {
		if c := a.Owner.Compare(b.Owner); c != 0 {
			return c
		}
		return a.Asset.Compare(b.Asset)
	})
	slices.SortFunc(d.Accounts, func(a, b Account) int { return a.Address.Compare(b.Address) })
	slices.SortFunc(d.Assets, func(a, b domain.Asset) int { return a.ID.Compare(b.ID) })
	slices.SortFunc(d.Marketplaces, func(a, b domain.Marketplace) int { return cmp.Compare(a.CreatedSeq, b.CreatedSeq) })
	slices.SortFunc(d.Listings, func(a, b domain.Listing) int { return a.Address.Compare(b.Address) })
	slices.SortFunc(d.Nonces, func(a, b NonceEntry) int { return a.Signer.Compare(b.Signer) })
	return d
}

// Restore rebuilds a State from a Dump.
func Restore(d Dump) *State {
	s := NewState()
	for _, row := range d.Lamports {
		s.lamports[row.Owner] = row.Amount
	}
	for _, row := range d.Holdings {
		s.holdings[HoldingKey{Owner: row.Owner, Asset: row.Asset}] = row.Amount
	}
	for _, a := range d.Accounts {
		s.accounts[a.Address] = a
	}
	for _, a := range d.Assets {
		s.assets[a.ID] = a
	}
	for _, m := range d.Marketplaces {
		s.marketplaces[m.Address] = m
	}
	for _, l := range d.Listings {
		s.listings[l.Address] = l
	}
	for _, row := range d.Nonces {
		s.nonces[row.Signer] = row.Nonce
	}
	return s
}
