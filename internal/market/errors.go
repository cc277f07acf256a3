package market

import (
	"errors"
	"fmt"
)

// Class groups errors by how a caller should react to them.
type Class int

const (
	ClassUnknown Class = iota
	ClassValidation
	ClassStateConflict
	ClassTransfer
	ClassArithmetic
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "VALIDATION"
	case ClassStateConflict:
		return "STATE_CONFLICT"
	case ClassTransfer:
		return "TRANSFER"
	case ClassArithmetic:
		return "ARITHMETIC"
	default:
		return "UNKNOWN"
	}
}

// Error is a program error with a stable code. Codes start at 6000 like
// custom on-ledger program errors.
type Error struct {
	Code  uint32
	Name  string
	Msg   string
	Class Class
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Msg)
}

var (
	ErrNameTooLong                   = &Error{6000, "NameTooLong", "the given name is too long", ClassValidation}
	ErrInvalidFeeRate                = &Error{6001, "InvalidFeeRate", "fee must be between 0 and 10000 basis points", ClassValidation}
	ErrEmptyName                     = &Error{6002, "EmptyName", "the marketplace name is empty", ClassValidation}
	ErrListingAlreadyExists          = &Error{6100, "ListingAlreadyExists", "the asset is already listed", ClassStateConflict}
	ErrListingNotFound               = &Error{6101, "ListingNotFound", "no live listing for the asset", ClassStateConflict}
	ErrUnauthorized                  = &Error{6102, "Unauthorized", "signer is not the listing seller", ClassStateConflict}
	ErrMarketplaceAlreadyInitialized = &Error{6103, "MarketplaceAlreadyInitialized", "the marketplace is already initialized", ClassStateConflict}
	ErrMarketplaceNotFound           = &Error{6104, "MarketplaceNotFound", "the marketplace does not exist", ClassStateConflict}
	ErrCollectionNotVerified         = &Error{6105, "CollectionNotVerified", "the asset's collection is not verified", ClassStateConflict}
	ErrAssetTransferFailed           = &Error{6200, "AssetTransferFailed", "the asset could not be transferred", ClassTransfer}
	ErrInsufficientFunds             = &Error{6201, "InsufficientFunds", "buyer balance is below the price", ClassTransfer}
	ErrFeeOverflow                   = &Error{6300, "FeeOverflow", "fee computation overflowed", ClassArithmetic}
	ErrBalanceOverflow               = &Error{6301, "BalanceOverflow", "recipient balance would overflow", ClassArithmetic}
)

var allErrors = []*Error{
	ErrNameTooLong, ErrInvalidFeeRate, ErrEmptyName,
	ErrListingAlreadyExists, ErrListingNotFound, ErrUnauthorized,
	ErrMarketplaceAlreadyInitialized, ErrMarketplaceNotFound, ErrCollectionNotVerified,
	ErrAssetTransferFailed, ErrInsufficientFunds,
	ErrFeeOverflow, ErrBalanceOverflow,
}

// AsError extracts the program error from a wrapped chain.
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// Code returns the program error code of err, or 0 if err is not one.
func Code(err error) uint32 {
	if perr, ok := AsError(err); ok {
		return perr.Code
	}
	return 0
}

// ErrorByCode looks up a program error from its code.
func ErrorByCode(code uint32) (*Error, bool) {
	for _, e := range allErrors {
		if e.Code == code {
			return e, true
		}
	}
	return nil, false
}
