// Package market implements the escrow marketplace program: Init, List,
// Delist and Purchase. Each operation runs inside one ledger.Txn; the caller
// commits it only when the operation returns nil, so a failure at any step
// leaves no partial effect.
package market

import (
	"errors"
	"fmt"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/ledger"
	"marketplace_go/pkg/quant"
	"marketplace_go/pkg/safe"
)

// RewardsDecimals is the precision of every marketplace rewards mint.
const RewardsDecimals = 6

// Context carries the sequencing metadata of the command being executed.
type Context struct {
	Signer domain.Pubkey
	Seq    uint64
	Ts     quant.TimeStamp
}

type InitArgs struct {
	Name           string  `json:"name"`
	FeeBasisPoints FeeRate `json:"fee_bps"`
	// FeeRecipient defaults to the marketplace treasury when zero.
	FeeRecipient domain.Pubkey `json:"fee_recipient"`
}

type ListArgs struct {
	Marketplace domain.Pubkey  `json:"marketplace"`
	Asset       domain.Pubkey  `json:"asset"`
	Price       quant.Lamports `json:"price,string"`
}

type DelistArgs struct {
	Marketplace domain.Pubkey `json:"marketplace"`
	Asset       domain.Pubkey `json:"asset"`
}

type PurchaseArgs struct {
	Marketplace domain.Pubkey `json:"marketplace"`
	Asset       domain.Pubkey `json:"asset"`
}

// Receipt describes a completed purchase.
type Receipt struct {
	Listing  domain.Listing `json:"listing"`
	Buyer    domain.Pubkey  `json:"buyer"`
	Fee      quant.Lamports `json:"fee,string"`
	Proceeds quant.Lamports `json:"proceeds,string"`
	FeeTo    domain.Pubkey  `json:"fee_recipient"`
}

// Program is the marketplace program. It holds no state of its own.
type Program struct {
	id domain.Pubkey
}

func NewProgram() *Program {
	return &Program{id: domain.ProgramID}
}

// ID returns the program identity that owns every custody vault.
func (p *Program) ID() domain.Pubkey {
	return p.id
}

// Fee computes floor(price * bps / 10000) and the seller's share.
func Fee(price quant.Lamports, bps quant.BasisPoints) (fee, proceeds quant.Lamports, err error) {
	f, err := safe.MulDiv(uint64(price), uint64(bps), uint64(quant.MaxBasisPoints))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: price %d at %d bps", ErrFeeOverflow, price, bps)
	}
	rest, err := safe.Sub(uint64(price), f)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: fee %d exceeds price %d", ErrFeeOverflow, f, price)
	}
	return quant.Lamports(f), quant.Lamports(rest), nil
}

// Init creates the marketplace configuration record. The record address is
// derived from the name, so a second Init of the same name collides.
func (p *Program) Init(tx *ledger.Txn, ctx Context, args InitArgs) (domain.Marketplace, error) {
	if len(args.Name) == 0 {
		return domain.Marketplace{}, ErrEmptyName
	}
	if len(args.Name) > domain.MaxNameLen {
		return domain.Marketplace{}, fmt.Errorf("%w: %d bytes, max %d", ErrNameTooLong, len(args.Name), domain.MaxNameLen)
	}
	bps, ok := args.FeeBasisPoints.BasisPoints()
	if !ok {
		return domain.Marketplace{}, fmt.Errorf("%w: %d bps, max %d", ErrInvalidFeeRate, args.FeeBasisPoints, quant.MaxBasisPoints)
	}

	addr, err := domain.MarketplaceAddress(args.Name)
	if err != nil {
		return domain.Marketplace{}, fmt.Errorf("%w: %w", ErrNameTooLong, err)
	}
	if _, exists := tx.Marketplace(addr); exists {
		return domain.Marketplace{}, fmt.Errorf("%w: %s", ErrMarketplaceAlreadyInitialized, addr)
	}

	treasury := domain.TreasuryAddress(addr)
	rewards := domain.RewardsAddress(addr)
	err = tx.RegisterMint(domain.Asset{
		ID:        rewards,
		Name:      args.Name + " rewards",
		Creator:   p.id,
		Decimals:  RewardsDecimals,
		MintedSeq: ctx.Seq,
	})
	if err != nil {
		return domain.Marketplace{}, fmt.Errorf("%w: rewards mint: %w", ErrMarketplaceAlreadyInitialized, err)
	}

	recipient := args.FeeRecipient
	if recipient.IsZero() {
		recipient = treasury
	}

	m := domain.Marketplace{
		Address:        addr,
		Authority:      ctx.Signer,
		Name:           args.Name,
		FeeBasisPoints: bps,
		FeeRecipient:   recipient,
		Treasury:       treasury,
		Rewards:        rewards,
		CreatedSeq:     ctx.Seq,
		CreatedUnixM:   ctx.Ts,
	}
	tx.PutMarketplace(m)
	return m, nil
}

// List moves one unit of the asset from the seller into a fresh custody
// vault and records the listing.
func (p *Program) List(tx *ledger.Txn, ctx Context, args ListArgs) (domain.Listing, error) {
	if _, ok := tx.Marketplace(args.Marketplace); !ok {
		return domain.Listing{}, fmt.Errorf("%w: %s", ErrMarketplaceNotFound, args.Marketplace)
	}

	addr := domain.ListingAddress(args.Marketplace, args.Asset)
	if _, exists := tx.Listing(addr); exists {
		return domain.Listing{}, fmt.Errorf("%w: %s", ErrListingAlreadyExists, args.Asset)
	}

	var collection domain.Pubkey
	if asset, ok := tx.Asset(args.Asset); ok && asset.InCollection() {
		if !asset.Verified {
			return domain.Listing{}, fmt.Errorf("%w: %s", ErrCollectionNotVerified, asset.Collection)
		}
		collection = asset.Collection
	}

	vault := domain.VaultAddress(addr, args.Asset)
	if err := tx.CreateProgramAccount(p.id, vault, args.Asset); err != nil {
		return domain.Listing{}, fmt.Errorf("%w: vault %s: %w", ErrListingAlreadyExists, vault, err)
	}
	if err := tx.TransferAsset(ctx.Signer, ctx.Signer, vault, args.Asset, 1); err != nil {
		return domain.Listing{}, transferError(err)
	}

	l := domain.Listing{
		Address:     addr,
		Marketplace: args.Marketplace,
		Seller:      ctx.Signer,
		Asset:       args.Asset,
		Vault:       vault,
		Price:       args.Price,
		Collection:  collection,
		ListedSeq:   ctx.Seq,
		ListedUnixM: ctx.Ts,
	}
	tx.PutListing(l)
	return l, nil
}

// Delist returns the escrowed unit to the seller and destroys the listing
// and its vault. Only the seller may delist.
func (p *Program) Delist(tx *ledger.Txn, ctx Context, args DelistArgs) (domain.Listing, error) {
	l, ok := tx.Listing(domain.ListingAddress(args.Marketplace, args.Asset))
	if !ok {
		return domain.Listing{}, fmt.Errorf("%w: %s", ErrListingNotFound, args.Asset)
	}
	if ctx.Signer != l.Seller {
		return domain.Listing{}, fmt.Errorf("%w: %s", ErrUnauthorized, ctx.Signer)
	}

	if err := p.release(tx, l, l.Seller); err != nil {
		return domain.Listing{}, err
	}
	return l, nil
}

// Purchase pays the fee and the seller from the buyer's balance, hands the
// escrowed unit to the buyer and destroys the listing and its vault.
func (p *Program) Purchase(tx *ledger.Txn, ctx Context, args PurchaseArgs) (Receipt, error) {
	// A listing address is derived from its marketplace, so an unknown
	// marketplace surfaces as a missing listing, as it does for Delist.
	l, ok := tx.Listing(domain.ListingAddress(args.Marketplace, args.Asset))
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrListingNotFound, args.Asset)
	}
	m, ok := tx.Marketplace(l.Marketplace)
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrMarketplaceNotFound, l.Marketplace)
	}

	fee, proceeds, err := Fee(l.Price, m.FeeBasisPoints)
	if err != nil {
		return Receipt{}, err
	}

	buyer := ctx.Signer
	if have := tx.Lamports(buyer); have < l.Price {
		return Receipt{}, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, l.Price, have)
	}
	if err := tx.TransferLamports(buyer, buyer, m.FeeRecipient, fee); err != nil {
		return Receipt{}, transferError(err)
	}
	if err := tx.TransferLamports(buyer, buyer, l.Seller, proceeds); err != nil {
		return Receipt{}, transferError(err)
	}
	if err := p.release(tx, l, buyer); err != nil {
		return Receipt{}, err
	}

	return Receipt{
		Listing:  l,
		Buyer:    buyer,
		Fee:      fee,
		Proceeds: proceeds,
		FeeTo:    m.FeeRecipient,
	}, nil
}

// release moves the escrowed unit to recipient, closes the vault and
// deletes the listing.
func (p *Program) release(tx *ledger.Txn, l domain.Listing, recipient domain.Pubkey) error {
	if err := tx.TransferAsset(p.id, l.Vault, recipient, l.Asset, 1); err != nil {
		return transferError(err)
	}
	if err := tx.CloseProgramAccount(p.id, l.Vault); err != nil {
		return fmt.Errorf("%w: closing vault %s: %w", ErrAssetTransferFailed, l.Vault, err)
	}
	tx.DeleteListing(l.Address)
	return nil
}

// transferError maps an accounting-layer failure onto the program taxonomy
// while keeping the original error in the chain.
func transferError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return fmt.Errorf("%w: %w", ErrBalanceOverflow, err)
	default:
		return fmt.Errorf("%w: %w", ErrAssetTransferFailed, err)
	}
}
