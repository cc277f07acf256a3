package market

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/ledger"
	"marketplace_go/pkg/quant"
)

func key(b byte) domain.Pubkey {
	var p domain.Pubkey
	p[0] = b
	p[31] = 0xAA
	return p
}

// fixture is a ledger with one marketplace, a seller owning one asset and a
// funded buyer.
type fixture struct {
	t      *testing.T
	state  *ledger.State
	prog   *Program
	seq    uint64
	market domain.Marketplace

	authority, seller, buyer, asset domain.Pubkey
}

func newFixture(t *testing.T, bps quant.BasisPoints) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		state:     ledger.NewState(),
		prog:      NewProgram(),
		authority: key(1),
		seller:    key(2),
		buyer:     key(3),
		asset:     key(4),
	}
	f.must(f.exec(func(tx *ledger.Txn) error {
		if err := tx.MintAsset(domain.Asset{ID: f.asset, Name: "Ape #1", Creator: f.seller}, f.seller); err != nil {
			return err
		}
		return tx.Deposit(f.buyer, 10_000)
	}))

	f.must(f.run(f.authority, func(tx *ledger.Txn, ctx Context) error {
		m, err := f.prog.Init(tx, ctx, InitArgs{Name: "bazaar", FeeBasisPoints: FeeRate(bps)})
		f.market = m
		return err
	}))
	return f
}

func (f *fixture) must(err error) {
	f.t.Helper()
	if err != nil {
		f.t.Fatalf("unexpected error: %v", err)
	}
}

// exec runs fn in one transaction and commits only on success.
func (f *fixture) exec(fn func(tx *ledger.Txn) error) error {
	tx := f.state.Begin()
	if err := fn(tx); err != nil {
		return err
	}
	tx.Commit()
	f.state.VerifyInvariants()
	return nil
}

func (f *fixture) run(signer domain.Pubkey, fn func(tx *ledger.Txn, ctx Context) error) error {
	f.seq++
	ctx := Context{Signer: signer, Seq: f.seq, Ts: quant.TimeStamp(f.seq * 1000)}
	return f.exec(func(tx *ledger.Txn) error { return fn(tx, ctx) })
}

func (f *fixture) list(signer domain.Pubkey, price quant.Lamports) error {
	return f.run(signer, func(tx *ledger.Txn, ctx Context) error {
		_, err := f.prog.List(tx, ctx, ListArgs{Marketplace: f.market.Address, Asset: f.asset, Price: price})
		return err
	})
}

func (f *fixture) delist(signer domain.Pubkey) error {
	return f.run(signer, func(tx *ledger.Txn, ctx Context) error {
		_, err := f.prog.Delist(tx, ctx, DelistArgs{Marketplace: f.market.Address, Asset: f.asset})
		return err
	})
}

func (f *fixture) purchase(signer domain.Pubkey) (Receipt, error) {
	var r Receipt
	err := f.run(signer, func(tx *ledger.Txn, ctx Context) error {
		var err error
		r, err = f.prog.Purchase(tx, ctx, PurchaseArgs{Marketplace: f.market.Address, Asset: f.asset})
		return err
	})
	return r, err
}

func TestInit(t *testing.T) {
	f := newFixture(t, 250)

	want, _ := domain.MarketplaceAddress("bazaar")
	got, ok := f.state.Marketplace(want)
	if !ok {
		t.Fatal("marketplace record not written")
	}
	if got.Authority != f.authority || got.FeeBasisPoints != 250 {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.FeeRecipient != got.Treasury || got.Treasury != domain.TreasuryAddress(want) {
		t.Errorf("fee recipient should default to treasury: %+v", got)
	}

	err := f.run(key(9), func(tx *ledger.Txn, ctx Context) error {
		_, err := f.prog.Init(tx, ctx, InitArgs{Name: "bazaar", FeeBasisPoints: 10})
		return err
	})
	if !errors.Is(err, ErrMarketplaceAlreadyInitialized) {
		t.Fatalf("expected ErrMarketplaceAlreadyInitialized, got %v", err)
	}
	if m, _ := f.state.Marketplace(want); m.Authority != f.authority {
		t.Error("second Init overwrote the record")
	}
}

func TestInit_Validation(t *testing.T) {
	tests := []struct {
		name    string
		args    InitArgs
		wantErr error
	}{
		{"empty name", InitArgs{Name: ""}, ErrEmptyName},
		{"name too long", InitArgs{Name: "abcdefghijklmnopqrstuvwxyz0123456"}, ErrNameTooLong},
		{"fee above 100%", InitArgs{Name: "x", FeeBasisPoints: 10001}, ErrInvalidFeeRate},
		{"fee beyond uint16", InitArgs{Name: "x", FeeBasisPoints: 65536}, ErrInvalidFeeRate},
		{"fee far beyond uint16", InitArgs{Name: "x", FeeBasisPoints: 70000}, ErrInvalidFeeRate},
		{"negative fee", InitArgs{Name: "x", FeeBasisPoints: -1}, ErrInvalidFeeRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ledger.NewState()
			tx := s.Begin()
			_, err := NewProgram().Init(tx, Context{Signer: key(1)}, tt.args)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if len(s.Marketplaces()) != 0 {
				t.Error("rejected Init wrote a record")
			}
		})
	}

	// Exactly MaxNameLen bytes is accepted.
	s := ledger.NewState()
	name := "abcdefghijklmnopqrstuvwxyz012345"
	if _, err := NewProgram().Init(s.Begin(), Context{Signer: key(1)}, InitArgs{Name: name, FeeBasisPoints: 10000}); err != nil {
		t.Fatalf("32-byte name rejected: %v", err)
	}
}

func TestInit_RewardsMint(t *testing.T) {
	f := newFixture(t, 250)

	rewards := domain.RewardsAddress(f.market.Address)
	if f.market.Rewards != rewards {
		t.Errorf("Rewards = %s; want %s", f.market.Rewards, rewards)
	}
	mint, ok := f.state.Asset(rewards)
	if !ok {
		t.Fatal("rewards mint not registered")
	}
	if mint.Creator != f.prog.ID() || mint.Decimals != RewardsDecimals || mint.Name != "bazaar rewards" {
		t.Errorf("unexpected rewards mint: %+v", mint)
	}
	if f.state.Holding(f.authority, rewards) != 0 {
		t.Error("rewards mint should start with no supply")
	}
}

func TestInit_RewardsAddressTaken(t *testing.T) {
	s := ledger.NewState()
	addr, _ := domain.MarketplaceAddress("x")
	tx := s.Begin()
	if err := tx.MintAsset(domain.Asset{ID: domain.RewardsAddress(addr), Creator: key(2)}, key(2)); err != nil {
		t.Fatal(err)
	}
	tx.Commit()

	tx = s.Begin()
	_, err := NewProgram().Init(tx, Context{Signer: key(1)}, InitArgs{Name: "x", FeeBasisPoints: 5})
	if !errors.Is(err, ErrMarketplaceAlreadyInitialized) || !errors.Is(err, ledger.ErrAssetExists) {
		t.Fatalf("expected ErrMarketplaceAlreadyInitialized wrapping ErrAssetExists, got %v", err)
	}
}

func TestFeeRate_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in    string
		want  FeeRate
		valid bool
	}{
		{`250`, 250, true},
		{`10000`, 10000, true},
		{`10001`, 10001, false},
		{`70000`, 70000, false},
		{`-1`, -1, false},
		{`2.5`, -1, false},
		{`1e30`, math.MaxInt64, false},
		{`-1e30`, math.MinInt64, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var args InitArgs
			if err := json.Unmarshal([]byte(`{"name":"x","fee_bps":`+tt.in+`}`), &args); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if args.FeeBasisPoints != tt.want {
				t.Errorf("FeeBasisPoints = %d; want %d", args.FeeBasisPoints, tt.want)
			}
			if _, ok := args.FeeBasisPoints.BasisPoints(); ok != tt.valid {
				t.Errorf("BasisPoints() ok = %v; want %v", ok, tt.valid)
			}
		})
	}

	var r FeeRate
	if err := json.Unmarshal([]byte(`"250"`), &r); err == nil {
		t.Error("string fee rate should not decode")
	}
}

func TestInit_ExplicitFeeRecipient(t *testing.T) {
	s := ledger.NewState()
	tx := s.Begin()
	m, err := NewProgram().Init(tx, Context{Signer: key(1)}, InitArgs{Name: "x", FeeBasisPoints: 5, FeeRecipient: key(7)})
	if err != nil {
		t.Fatal(err)
	}
	if m.FeeRecipient != key(7) {
		t.Errorf("expected explicit fee recipient, got %s", m.FeeRecipient)
	}
}

func TestListDelist_RoundTrip(t *testing.T) {
	f := newFixture(t, 250)

	f.must(f.list(f.seller, 1000))

	l, ok := f.state.Listing(f.market.Address, f.asset)
	if !ok {
		t.Fatal("listing not recorded")
	}
	if l.Seller != f.seller || l.Price != 1000 {
		t.Errorf("unexpected listing: %+v", l)
	}
	if f.state.Holding(f.seller, f.asset) != 0 || f.state.Holding(l.Vault, f.asset) != 1 {
		t.Fatal("asset was not moved into custody")
	}
	acct, ok := f.state.Account(l.Vault)
	if !ok || acct.Program != domain.ProgramID {
		t.Fatalf("vault not owned by program: %+v", acct)
	}

	f.must(f.delist(f.seller))

	if _, ok := f.state.Listing(f.market.Address, f.asset); ok {
		t.Error("listing survived delist")
	}
	if _, ok := f.state.Account(l.Vault); ok {
		t.Error("vault survived delist")
	}
	if f.state.Holding(f.seller, f.asset) != 1 {
		t.Error("asset not returned to seller")
	}

	// Relisting after delist reuses the same derived addresses.
	f.must(f.list(f.seller, 500))
}

func TestList_Errors(t *testing.T) {
	f := newFixture(t, 250)
	f.must(f.list(f.seller, 1000))

	if err := f.list(f.seller, 2000); !errors.Is(err, ErrListingAlreadyExists) {
		t.Errorf("expected ErrListingAlreadyExists, got %v", err)
	}

	g := newFixture(t, 250)
	if err := g.list(g.buyer, 1000); !errors.Is(err, ErrAssetTransferFailed) {
		t.Errorf("expected ErrAssetTransferFailed for non-holder, got %v", err)
	}
	if _, ok := g.state.Listing(g.market.Address, g.asset); ok {
		t.Error("failed List left a listing")
	}
	if len(g.state.Listings(g.market.Address)) != 0 {
		t.Error("failed List left state behind")
	}

	err := g.run(g.seller, func(tx *ledger.Txn, ctx Context) error {
		_, err := g.prog.List(tx, ctx, ListArgs{Marketplace: key(99), Asset: g.asset, Price: 1})
		return err
	})
	if !errors.Is(err, ErrMarketplaceNotFound) {
		t.Errorf("expected ErrMarketplaceNotFound, got %v", err)
	}
}

func TestList_CollectionVerification(t *testing.T) {
	f := newFixture(t, 0)
	creator, collection, member := key(20), key(21), key(22)

	f.must(f.exec(func(tx *ledger.Txn) error {
		if err := tx.MintAsset(domain.Asset{ID: collection, Creator: creator}, creator); err != nil {
			return err
		}
		return tx.MintAsset(domain.Asset{ID: member, Creator: f.seller, Collection: collection}, f.seller)
	}))

	listMember := func() error {
		return f.run(f.seller, func(tx *ledger.Txn, ctx Context) error {
			_, err := f.prog.List(tx, ctx, ListArgs{Marketplace: f.market.Address, Asset: member, Price: 10})
			return err
		})
	}

	if err := listMember(); !errors.Is(err, ErrCollectionNotVerified) {
		t.Fatalf("expected ErrCollectionNotVerified, got %v", err)
	}

	f.must(f.exec(func(tx *ledger.Txn) error { return tx.VerifyCollection(creator, member) }))
	f.must(listMember())

	l, _ := f.state.Listing(f.market.Address, member)
	if l.Collection != collection {
		t.Errorf("listing collection = %s; want %s", l.Collection, collection)
	}
}

func TestDelist_Unauthorized(t *testing.T) {
	f := newFixture(t, 250)
	f.must(f.list(f.seller, 1000))
	before := f.state.Dump()

	if err := f.delist(f.buyer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	after := f.state.Dump()
	if len(after.Listings) != len(before.Listings) || len(after.Holdings) != len(before.Holdings) {
		t.Error("rejected delist changed state")
	}

	g := newFixture(t, 250)
	if err := g.delist(g.seller); !errors.Is(err, ErrListingNotFound) {
		t.Errorf("expected ErrListingNotFound, got %v", err)
	}
}

func TestPurchase(t *testing.T) {
	f := newFixture(t, 250)
	f.must(f.list(f.seller, 1000))
	l, _ := f.state.Listing(f.market.Address, f.asset)

	r, err := f.purchase(f.buyer)
	if err != nil {
		t.Fatal(err)
	}

	if r.Fee != 25 || r.Proceeds != 975 {
		t.Errorf("fee/proceeds = %d/%d; want 25/975", r.Fee, r.Proceeds)
	}
	if got := f.state.Lamports(f.buyer); got != 10_000-1000 {
		t.Errorf("buyer balance = %d; want 9000", got)
	}
	if got := f.state.Lamports(f.seller); got != 975 {
		t.Errorf("seller balance = %d; want 975", got)
	}
	if got := f.state.Lamports(f.market.Treasury); got != 25 {
		t.Errorf("treasury balance = %d; want 25", got)
	}
	if f.state.Holding(f.buyer, f.asset) != 1 {
		t.Error("buyer did not receive the asset")
	}
	if _, ok := f.state.Listing(f.market.Address, f.asset); ok {
		t.Error("listing survived purchase")
	}
	if _, ok := f.state.Account(l.Vault); ok {
		t.Error("vault survived purchase")
	}

	if _, err := f.purchase(key(5)); !errors.Is(err, ErrListingNotFound) {
		t.Errorf("second purchase: expected ErrListingNotFound, got %v", err)
	}
}

func TestPurchase_InsufficientFunds(t *testing.T) {
	f := newFixture(t, 250)
	f.must(f.list(f.seller, 10_001))

	if _, err := f.purchase(f.buyer); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if f.state.Lamports(f.buyer) != 10_000 || f.state.Lamports(f.seller) != 0 {
		t.Error("failed purchase moved lamports")
	}
	if _, ok := f.state.Listing(f.market.Address, f.asset); !ok {
		t.Error("failed purchase removed the listing")
	}
}

func TestPurchase_UnknownMarketplace(t *testing.T) {
	f := newFixture(t, 250)
	f.must(f.list(f.seller, 1000))

	err := f.run(f.buyer, func(tx *ledger.Txn, ctx Context) error {
		_, err := f.prog.Purchase(tx, ctx, PurchaseArgs{Marketplace: key(99), Asset: f.asset})
		return err
	})
	if !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
	if f.state.Lamports(f.buyer) != 10_000 {
		t.Error("failed purchase moved lamports")
	}
}

func TestPurchase_OwnListing(t *testing.T) {
	f := newFixture(t, 250)
	f.must(f.exec(func(tx *ledger.Txn) error { return tx.Deposit(f.seller, 1000) }))
	f.must(f.list(f.seller, 1000))

	if _, err := f.purchase(f.seller); err != nil {
		t.Fatalf("self purchase failed: %v", err)
	}
	if got := f.state.Lamports(f.seller); got != 975 {
		t.Errorf("seller balance = %d; want 975", got)
	}
	if f.state.Holding(f.seller, f.asset) != 1 {
		t.Error("asset not returned to seller")
	}
}

func TestPurchase_FeeOverflow(t *testing.T) {
	f := newFixture(t, 0)
	f.must(f.list(f.seller, quant.Lamports(math.MaxUint64)))

	// A fee rate that Init would never accept.
	f.must(f.exec(func(tx *ledger.Txn) error {
		m := f.market
		m.FeeBasisPoints = math.MaxUint16
		tx.PutMarketplace(m)
		return nil
	}))

	if _, err := f.purchase(f.buyer); !errors.Is(err, ErrFeeOverflow) {
		t.Fatalf("expected ErrFeeOverflow, got %v", err)
	}
	if _, ok := f.state.Listing(f.market.Address, f.asset); !ok {
		t.Error("failed purchase removed the listing")
	}
}

func TestFee(t *testing.T) {
	tests := []struct {
		price    quant.Lamports
		bps      quant.BasisPoints
		fee      quant.Lamports
		proceeds quant.Lamports
	}{
		{1000, 250, 25, 975},
		{1000, 0, 0, 1000},
		{1000, 10000, 1000, 0},
		{39, 250, 0, 39},
		{0, 500, 0, 0},
		{math.MaxUint64, 10000, math.MaxUint64, 0},
		{math.MaxUint64, 1, 1844674407370955, 18444899399302180660},
	}

	for _, tt := range tests {
		fee, proceeds, err := Fee(tt.price, tt.bps)
		if err != nil {
			t.Fatalf("Fee(%d, %d) error: %v", tt.price, tt.bps, err)
		}
		if fee != tt.fee || proceeds != tt.proceeds {
			t.Errorf("Fee(%d, %d) = %d/%d; want %d/%d", tt.price, tt.bps, fee, proceeds, tt.fee, tt.proceeds)
		}
		if fee+proceeds != tt.price {
			t.Errorf("Fee(%d, %d) does not conserve value", tt.price, tt.bps)
		}
	}

	if _, _, err := Fee(100, 20000); !errors.Is(err, ErrFeeOverflow) {
		t.Errorf("expected ErrFeeOverflow for fee above price, got %v", err)
	}
}

func TestErrorCodes(t *testing.T) {
	if Code(ErrListingNotFound) != 6101 {
		t.Errorf("unexpected code %d", Code(ErrListingNotFound))
	}
	wrapped := transferError(ledger.ErrInsufficientFunds)
	if Code(wrapped) != ErrInsufficientFunds.Code {
		t.Errorf("wrapped code = %d", Code(wrapped))
	}
	if !errors.Is(wrapped, ledger.ErrInsufficientFunds) {
		t.Error("original cause lost")
	}
	if e, ok := ErrorByCode(6300); !ok || e != ErrFeeOverflow {
		t.Errorf("ErrorByCode(6300) = %v, %v", e, ok)
	}
	if Code(errors.New("other")) != 0 {
		t.Error("foreign error should have code 0")
	}
}
