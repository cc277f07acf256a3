package ledger

import "errors"

// Accounting-layer errors. The marketplace program wraps these; callers
// match them with errors.Is.
var (
	ErrInsufficientFunds   = errors.New("insufficient lamports")
	ErrInsufficientHolding = errors.New("insufficient asset holding")
	ErrNotAccountOwner     = errors.New("signer does not own the source account")
	ErrAccountInUse        = errors.New("account already in use")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountNotEmpty     = errors.New("account still holds assets")
	ErrBalanceOverflow     = errors.New("balance overflow")
	ErrAssetExists         = errors.New("asset already exists")
	ErrAssetNotFound       = errors.New("asset not found")
	ErrNotCollectionOwner  = errors.New("signer is not the collection creator")
	ErrNoCollection        = errors.New("asset is not part of a collection")
	ErrSelfTransfer        = errors.New("source and destination are the same account")
)
