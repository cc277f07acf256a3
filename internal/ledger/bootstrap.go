package ledger

import (
	"fmt"

	"marketplace_go/internal/domain"
	"marketplace_go/pkg/quant"
)

// Deposit airdrops lamports into an account.
func (t *Txn) Deposit(to domain.Pubkey, amount quant.Lamports) error {
	return t.Credit(to, amount)
}

// MintAsset creates a new single-unit asset held by owner.
func (t *Txn) MintAsset(asset domain.Asset, owner domain.Pubkey) error {
	if _, ok := t.assets.get(asset.ID); ok {
		return fmt.Errorf("%w: %s", ErrAssetExists, asset.ID)
	}
	if _, ok := t.accounts.get(asset.ID); ok {
		return fmt.Errorf("%w: %s", ErrAccountInUse, asset.ID)
	}
	if asset.InCollection() {
		if _, ok := t.assets.get(asset.Collection); !ok {
			return fmt.Errorf("%w: collection %s", ErrAssetNotFound, asset.Collection)
		}
	}
	asset.Verified = false

	t.assets.put(asset.ID, asset)
	t.holdings.put(HoldingKey{Owner: owner, Asset: asset.ID}, 1)
	return nil
}

// RegisterMint records a program-owned mint. No holdings are created; the
// supply starts at zero.
func (t *Txn) RegisterMint(asset domain.Asset) error {
	if _, ok := t.assets.get(asset.ID); ok {
		return fmt.Errorf("%w: %s", ErrAssetExists, asset.ID)
	}
	if _, ok := t.accounts.get(asset.ID); ok {
		return fmt.Errorf("%w: %s", ErrAccountInUse, asset.ID)
	}
	asset.Collection = domain.Pubkey{}
	asset.Verified = false
	t.assets.put(asset.ID, asset)
	return nil
}

// VerifyCollection marks an asset's collection membership as verified.
// Only the creator of the collection asset may do so.
func (t *Txn) VerifyCollection(signer, id domain.Pubkey) error {
	asset, ok := t.assets.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	if !asset.InCollection() {
		return fmt.Errorf("%w: %s", ErrNoCollection, id)
	}
	collection, ok := t.assets.get(asset.Collection)
	if !ok {
		return fmt.Errorf("%w: collection %s", ErrAssetNotFound, asset.Collection)
	}
	if collection.Creator != signer {
		return fmt.Errorf("%w: %s", ErrNotCollectionOwner, asset.Collection)
	}

	asset.Verified = true
	t.assets.put(id, asset)
	return nil
}
