package ledger

import (
	"fmt"

	"marketplace_go/internal/domain"
	"marketplace_go/pkg/quant"
	"marketplace_go/pkg/safe"
)

// Holding is one (owner, asset, amount) row.
type Holding struct {
	Owner  domain.Pubkey `json:"owner"`
	Asset  domain.Pubkey `json:"asset"`
	Amount uint64        `json:"amount"`
}

// Txn is an all-or-nothing unit of ledger mutation. Nothing is visible in
// the committed State until Commit; an abandoned Txn leaves no trace.
type Txn struct {
	state     *State
	committed bool

	lamports     *overlay[domain.Pubkey, quant.Lamports]
	holdings     *overlay[HoldingKey, uint64]
	accounts     *overlay[domain.Pubkey, Account]
	assets       *overlay[domain.Pubkey, domain.Asset]
	marketplaces *overlay[domain.Pubkey, domain.Marketplace]
	listings     *overlay[domain.Pubkey, domain.Listing]
}

// Commit applies every buffered write. A Txn commits at most once.
func (t *Txn) Commit() {
	if t.committed {
		panic("LEDGER_TXN_DOUBLE_COMMIT")
	}
	t.committed = true
	t.lamports.commit()
	t.holdings.commit()
	t.accounts.commit()
	t.assets.commit()
	t.marketplaces.commit()
	t.listings.commit()
}

func (t *Txn) Lamports(owner domain.Pubkey) quant.Lamports {
	v, _ := t.lamports.get(owner)
	return v
}

// Credit adds lamports to an account.
func (t *Txn) Credit(owner domain.Pubkey, amount quant.Lamports) error {
	next, err := safe.Add(uint64(t.Lamports(owner)), uint64(amount))
	if err != nil {
		return fmt.Errorf("%w: crediting %s", ErrBalanceOverflow, owner)
	}
	t.lamports.put(owner, quant.Lamports(next))
	return nil
}

// TransferLamports moves lamports between user accounts. The signer must
// be the source account. Paying oneself only checks the balance.
func (t *Txn) TransferLamports(signer, from, to domain.Pubkey, amount quant.Lamports) error {
	if signer != from {
		return fmt.Errorf("%w: %s", ErrNotAccountOwner, from)
	}
	bal := t.Lamports(from)
	rest, err := safe.Sub(uint64(bal), uint64(amount))
	if err != nil {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, amount, bal)
	}
	if amount == 0 || from == to {
		return nil
	}
	if err := t.Credit(to, amount); err != nil {
		return err
	}
	t.lamports.put(from, quant.Lamports(rest))
	return nil
}

func (t *Txn) Holding(owner, asset domain.Pubkey) uint64 {
	v, _ := t.holdings.get(HoldingKey{Owner: owner, Asset: asset})
	return v
}

// TransferAsset moves units of an asset. A user source requires the user
// as signer; a program-owned source requires its owning program.
func (t *Txn) TransferAsset(signer, from, to, asset domain.Pubkey, amount uint64) error {
	if acct, ok := t.accounts.get(from); ok {
		if signer != acct.Program {
			return fmt.Errorf("%w: %s is owned by program %s", ErrNotAccountOwner, from, acct.Program)
		}
	} else if signer != from {
		return fmt.Errorf("%w: %s", ErrNotAccountOwner, from)
	}
	if from == to {
		return ErrSelfTransfer
	}
	if acct, ok := t.accounts.get(to); ok && acct.Asset != asset {
		return fmt.Errorf("%w: %s only holds %s", ErrAccountInUse, to, acct.Asset)
	}

	have := t.Holding(from, asset)
	rest, err := safe.Sub(have, amount)
	if err != nil {
		return fmt.Errorf("%w: %s holds %d of %s", ErrInsufficientHolding, from, have, asset)
	}
	got, err := safe.Add(t.Holding(to, asset), amount)
	if err != nil {
		return fmt.Errorf("%w: holding of %s", ErrBalanceOverflow, asset)
	}

	t.holdings.put(HoldingKey{Owner: from, Asset: asset}, rest)
	t.holdings.put(HoldingKey{Owner: to, Asset: asset}, got)
	return nil
}

// CreateProgramAccount opens a token account owned by program for one asset.
func (t *Txn) CreateProgramAccount(program, addr, asset domain.Pubkey) error {
	if _, ok := t.accounts.get(addr); ok {
		return fmt.Errorf("%w: %s", ErrAccountInUse, addr)
	}
	if t.Holding(addr, asset) != 0 {
		return fmt.Errorf("%w: %s", ErrAccountInUse, addr)
	}
	t.accounts.put(addr, Account{Address: addr, Program: program, Asset: asset})
	return nil
}

// CloseProgramAccount removes an empty program-owned account.
func (t *Txn) CloseProgramAccount(program, addr domain.Pubkey) error {
	acct, ok := t.accounts.get(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if acct.Program != program {
		return fmt.Errorf("%w: %s", ErrNotAccountOwner, addr)
	}
	if t.Holding(addr, acct.Asset) != 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotEmpty, addr)
	}
	t.accounts.del(addr)
	t.holdings.del(HoldingKey{Owner: addr, Asset: acct.Asset})
	return nil
}

func (t *Txn) Account(addr domain.Pubkey) (Account, bool) {
	return t.accounts.get(addr)
}

func (t *Txn) Asset(id domain.Pubkey) (domain.Asset, bool) {
	return t.assets.get(id)
}

func (t *Txn) Marketplace(addr domain.Pubkey) (domain.Marketplace, bool) {
	return t.marketplaces.get(addr)
}

func (t *Txn) PutMarketplace(m domain.Marketplace) {
	t.marketplaces.put(m.Address, m)
}

func (t *Txn) Listing(addr domain.Pubkey) (domain.Listing, bool) {
	return t.listings.get(addr)
}

func (t *Txn) PutListing(l domain.Listing) {
	t.listings.put(l.Address, l)
}

func (t *Txn) DeleteListing(addr domain.Pubkey) {
	t.listings.del(addr)
}
