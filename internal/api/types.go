package api

import (
	"encoding/json"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/ledger"
	"marketplace_go/pkg/quant"
)

// TxResponse reports the outcome of POST /v1/tx. OK is false when the
// command was sequenced but rejected by the program.
type TxResponse struct {
	RequestID string          `json:"request_id"`
	Seq       uint64          `json:"seq"`
	OK        bool            `json:"ok"`
	Code      uint32          `json:"code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
}

// ErrorResponse is the body of every non-2xx response except rejected
// transactions.
type ErrorResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

type MarketplaceView struct {
	domain.Marketplace
	FeePercent string `json:"fee_percent"`
	Listings   int    `json:"listings"`
}

// ListingView is a listing plus the split a purchase would produce now.
type ListingView struct {
	domain.Listing
	PriceSOL string         `json:"price_sol"`
	Fee      quant.Lamports `json:"fee,string"`
	Proceeds quant.Lamports `json:"proceeds,string"`
}

type AccountView struct {
	Address  domain.Pubkey    `json:"address"`
	Lamports quant.Lamports   `json:"lamports,string"`
	Balance  string           `json:"balance"`
	Nonce    uint64           `json:"nonce"`
	Holdings []ledger.Holding `json:"holdings"`
}

type HealthView struct {
	Status       string `json:"status"`
	LastSeq      uint64 `json:"last_seq"`
	Store        string `json:"store"`
	StoreTrips   int    `json:"store_trips"`
	StoreRetryAt string `json:"store_retry_at,omitempty"`
	Subscribers  int    `json:"subscribers"`
}
