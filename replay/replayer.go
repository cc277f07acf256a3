// Package replay rebuilds ledger state offline from a WAL database.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/engine"
	"marketplace_go/internal/ledger"
	"marketplace_go/internal/market"
	"marketplace_go/internal/storage"
)

// Replayer reads the event log from SQLite and feeds it into a Sequencer.
type Replayer struct {
	store *storage.EventStore
}

// NewReplayer opens an existing WAL. It refuses to create a new one.
func NewReplayer(dbPath string) (*Replayer, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("wal not found: %w", err)
	}
	store, err := storage.NewEventStore(dbPath)
	if err != nil {
		return nil, err
	}
	return &Replayer{store: store}, nil
}

func (r *Replayer) Close() error {
	return r.store.Close()
}

type MarketplaceReport struct {
	domain.Marketplace
	Listings []domain.Listing `json:"listings"`
}

// Report summarizes a replay.
type Report struct {
	Events       int                 `json:"events"`
	Failed       int                 `json:"failed"`
	LastSeq      uint64              `json:"last_seq"`
	Failures     map[string]int      `json:"failures"`
	Marketplaces []MarketplaceReport `json:"marketplaces"`
	State        ledger.Dump         `json:"-"`
}

// RunReplay replays every event into seq, which must be fresh. A gap, a
// nonce mismatch or a broken ledger invariant aborts the replay with an
// error instead of halting the process.
func (r *Replayer) RunReplay(ctx context.Context, seq *engine.Sequencer) (rep *Report, err error) {
	events, err := r.store.LoadEvents(ctx, 1)
	if err != nil {
		return nil, err
	}

	rep = &Report{Failures: make(map[string]int)}
	defer func() {
		if p := recover(); p != nil {
			rep, err = nil, fmt.Errorf("replay aborted after seq %d: %v", seq.LastSeq(), p)
		}
	}()

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Deterministic: same code path as recovery.
		res := seq.ReplayEvent(ev)
		rep.Events++
		if res.Err != nil {
			rep.Failed++
			rep.Failures[failureName(res.Err)]++
			slog.Debug("Replayed failed command", slog.Uint64("seq", res.Seq), slog.Any("error", res.Err))
		}
	}

	rep.LastSeq = seq.LastSeq()
	seq.View(func(st *ledger.State) {
		for _, m := range st.Marketplaces() {
			rep.Marketplaces = append(rep.Marketplaces, MarketplaceReport{
				Marketplace: m,
				Listings:    st.Listings(m.Address),
			})
		}
		rep.State = st.Dump()
	})
	return rep, nil
}

func failureName(err error) string {
	if perr, ok := market.AsError(err); ok {
		return perr.Name
	}
	if errors.Is(err, engine.ErrUnknownEvent) {
		return "UnknownEvent"
	}
	return err.Error()
}
