package domain

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	// MaxSeedLen bounds a single derivation seed.
	MaxSeedLen = 32
	// MaxSeeds bounds the number of seeds per derivation.
	MaxSeeds = 16

	derivedAddressMarker = "ProgramDerivedAddress"
)

var (
	ErrSeedTooLong  = errors.New("derivation seed exceeds 32 bytes")
	ErrTooManySeeds = errors.New("too many derivation seeds")
)

// ProgramID is the identity of the marketplace program. Every custody and
// record address is derived under it.
var ProgramID = MustParsePubkey("MktEscrow1111111111111111111111111111111111")

var (
	seedMarketplace = []byte("marketplace")
	seedTreasury    = []byte("treasury")
	seedVault       = []byte("vault")
	seedRewards     = []byte("rewards")
)

// DeriveAddress hashes the seeds together with the owning program id.
// Each seed is length-prefixed, so distinct seed lists never share a preimage.
// The result has no corresponding private key; only the owning program can
// move value out of it.
func DeriveAddress(program Pubkey, seeds ...[]byte) (Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return Pubkey{}, ErrTooManySeeds
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Pubkey{}, fmt.Errorf("%w: %d bytes", ErrSeedTooLong, len(seed))
		}
		h.Write([]byte{byte(len(seed))})
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write([]byte(derivedAddressMarker))

	var addr Pubkey
	copy(addr[:], h.Sum(nil))
	return addr, nil
}

// mustDerive is used where every seed is a fixed-size pubkey or constant tag.
func mustDerive(seeds ...[]byte) Pubkey {
	addr, err := DeriveAddress(ProgramID, seeds...)
	if err != nil {
		panic(fmt.Sprintf("ADDRESS_DERIVATION_FAILED: %v", err))
	}
	return addr
}

// MarketplaceAddress derives the config record address from the marketplace name.
func MarketplaceAddress(name string) (Pubkey, error) {
	return DeriveAddress(ProgramID, seedMarketplace, []byte(name))
}

// TreasuryAddress derives the default fee recipient of a marketplace.
func TreasuryAddress(marketplace Pubkey) Pubkey {
	return mustDerive(seedTreasury, marketplace[:])
}

// RewardsAddress derives the program-owned rewards mint of a marketplace.
func RewardsAddress(marketplace Pubkey) Pubkey {
	return mustDerive(seedRewards, marketplace[:])
}

// ListingAddress derives the listing record address. One asset maps to one
// address per marketplace, which is what makes a second live listing collide.
func ListingAddress(marketplace, asset Pubkey) Pubkey {
	return mustDerive(marketplace[:], asset[:])
}

// VaultAddress derives the custody account that holds a listed asset.
func VaultAddress(listing, asset Pubkey) Pubkey {
	return mustDerive(seedVault, listing[:], asset[:])
}
