package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/event"
	"marketplace_go/internal/infra"
	"marketplace_go/internal/ledger"
	"marketplace_go/internal/market"
	"marketplace_go/internal/metrics"
	"marketplace_go/internal/storage"
	"marketplace_go/pkg/quant"
)

var (
	ErrBadNonce         = errors.New("unexpected nonce")
	ErrStoreUnavailable = errors.New("event store unavailable")
	ErrUnknownEvent     = errors.New("unknown event type")
	ErrStopped          = errors.New("sequencer stopped")
)

// Store is the write-ahead log the sequencer persists to.
type Store interface {
	SaveEvent(ctx context.Context, ev event.Event) error
	LoadEvents(ctx context.Context, fromSeq uint64) ([]event.Event, error)
	GetLastSeq(ctx context.Context) (uint64, error)
}

// Result is the outcome of a sequenced command. A non-nil Err means the
// command was logged and consumed its nonce but changed nothing else.
type Result struct {
	Seq    uint64
	Output any
	Err    error
}

// Committed is passed to the OnCommit hook after every sequenced command.
type Committed struct {
	Event  event.Event
	Result Result
}

type Options struct {
	InboxSize     int
	Store         Store
	Snapshots     *storage.SnapshotManager
	SnapshotEvery uint64
	SnapshotKeep  int
	Breaker       *infra.CircuitBreaker
	Metrics       metrics.Recorder
	OnCommit      func(Committed)
	DumpPath      string
}

type request struct {
	ev    event.Event
	reply chan reply
}

type reply struct {
	res Result
	err error
}

// Sequencer is the single writer of the ledger. Commands arrive on the
// inbox, are stamped with a sequence number, persisted, then executed on a
// ledger transaction that commits in full or not at all.
type Sequencer struct {
	inbox   chan request
	done    chan struct{}
	state   *ledger.State
	program *market.Program
	nextSeq uint64

	store     Store
	snapshots *storage.SnapshotManager
	snapEvery uint64
	snapKeep  int
	breaker   *infra.CircuitBreaker
	metrics   metrics.Recorder
	onCommit  func(Committed)
	dumpPath  string

	mu sync.RWMutex // guards state for external readers
}

// NewSequencer creates a sequencer over an empty ledger.
func NewSequencer(opts Options) *Sequencer {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 1024
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopRecorder{}
	}
	if opts.DumpPath == "" {
		opts.DumpPath = "panic_dump.json"
	}
	if opts.SnapshotKeep <= 0 {
		opts.SnapshotKeep = 3
	}
	return &Sequencer{
		inbox:     make(chan request, opts.InboxSize),
		done:      make(chan struct{}),
		state:     ledger.NewState(),
		program:   market.NewProgram(),
		nextSeq:   1,
		store:     opts.Store,
		snapshots: opts.Snapshots,
		snapEvery: opts.SnapshotEvery,
		snapKeep:  opts.SnapshotKeep,
		breaker:   opts.Breaker,
		metrics:   opts.Metrics,
		onCommit:  opts.OnCommit,
		dumpPath:  opts.DumpPath,
	}
}

// RecoverFromWAL restores state from the latest snapshot, then replays the
// rest of the WAL through the same code path as live commands.
func (s *Sequencer) RecoverFromWAL(ctx context.Context) error {
	if s.snapshots != nil {
		snap, err := s.snapshots.LoadLatest()
		if err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
		if snap != nil {
			s.state = ledger.Restore(snap.State)
			s.nextSeq = snap.Seq + 1
		}
	}

	if s.store == nil {
		slog.Info("No store configured, starting fresh")
		return nil
	}

	lastSeq, err := s.store.GetLastSeq(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last seq: %w", err)
	}
	if lastSeq+1 < s.nextSeq {
		return fmt.Errorf("snapshot at seq %d is ahead of WAL at seq %d", s.nextSeq-1, lastSeq)
	}
	if lastSeq == 0 {
		slog.Info("WAL is empty, starting fresh")
		return nil
	}

	events, err := s.store.LoadEvents(ctx, s.nextSeq)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}

	slog.Info("Replaying events from WAL",
		slog.Uint64("from_seq", s.nextSeq),
		slog.Int("count", len(events)))

	for _, ev := range events {
		s.ReplayEvent(ev)
	}

	s.publishGauges()
	slog.Info("State recovered from WAL", slog.Uint64("next_seq", s.nextSeq))
	return nil
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started (Single-Thread Hotpath)", slog.Uint64("next_seq", s.nextSeq))
	defer close(s.done)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.dumpPath)
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...")
			return
		case req := <-s.inbox:
			res, err := s.process(req.ev)
			req.reply <- reply{res: res, err: err}
		}
	}
}

// Submit hands a signed, decoded command to the sequencer and waits for its
// outcome. A returned error means the command was not sequenced at all.
func (s *Sequencer) Submit(ctx context.Context, ev event.Event) (Result, error) {
	req := request{ev: ev, reply: make(chan reply, 1)}

	select {
	case s.inbox <- req:
	case <-s.done:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-s.done:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Sequencer) process(ev event.Event) (Result, error) {
	start := time.Now()
	base := ev.Base()

	// 1. Replay protection
	if want := s.state.Nonce(base.Signer) + 1; base.Nonce != want {
		s.metrics.IncCounter(metrics.CommandsTotal, map[string]string{"type": ev.GetType().String(), "result": "bad_nonce"})
		return Result{}, fmt.Errorf("%w: expected %d, got %d", ErrBadNonce, want, base.Nonce)
	}

	// 2. Fail fast while storage is down
	if s.breaker != nil && !s.breaker.Allow() {
		return Result{}, fmt.Errorf("%w: circuit open", ErrStoreUnavailable)
	}

	base.Seq = s.nextSeq
	base.Ts = quant.Now()

	// 3. WAL-first: Persistence
	if s.store != nil {
		if err := s.store.SaveEvent(context.Background(), ev); err != nil {
			if s.breaker != nil {
				s.breaker.RecordFailure()
			}
			s.metrics.IncCounter(metrics.StoreFailures, map[string]string{"type": ev.GetType().String()})
			slog.Error("WAL_WRITE_FAILED", slog.Uint64("seq", base.Seq), slog.Any("error", err))
			return Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		if s.breaker != nil {
			s.breaker.RecordSuccess()
		}
	}

	// 4. Execute and commit
	res := s.execute(ev)

	s.metrics.IncCounter(metrics.CommandsTotal, map[string]string{"type": ev.GetType().String(), "result": resultLabel(res.Err)})
	s.metrics.ObserveLatency(metrics.CommandLatency, time.Since(start), map[string]string{"type": ev.GetType().String()})
	s.publishGauges()

	if res.Err != nil {
		slog.Info("COMMAND_REJECTED",
			slog.Uint64("seq", res.Seq),
			slog.String("type", ev.GetType().String()),
			slog.String("signer", base.Signer.String()),
			slog.Any("error", res.Err))
	}

	if s.onCommit != nil {
		s.onCommit(Committed{Event: ev, Result: res})
	}
	s.maybeSnapshot(res.Seq)

	return res, nil
}

// ReplayEvent executes a logged event without writing it again. It is
// used by recovery and by the offline replayer.
func (s *Sequencer) ReplayEvent(ev event.Event) Result {
	if ev.GetSeq() != s.nextSeq {
		panic(fmt.Sprintf("REPLAY_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.GetSeq()))
	}
	if want := s.state.Nonce(ev.GetSigner()) + 1; ev.GetNonce() != want {
		panic(fmt.Sprintf("REPLAY_NONCE_MISMATCH: seq %d signer %s expected %d, got %d",
			ev.GetSeq(), ev.GetSigner(), want, ev.GetNonce()))
	}
	return s.execute(ev)
}

// execute applies ev to a fresh transaction and commits it on success. The
// signer's nonce and the sequence advance either way.
func (s *Sequencer) execute(ev event.Event) Result {
	tx := s.state.Begin()
	out, err := s.apply(tx, ev)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		tx.Commit()
	}
	s.state.AdvanceNonce(ev.GetSigner())
	s.nextSeq++
	s.state.VerifyInvariants()

	return Result{Seq: ev.GetSeq(), Output: out, Err: err}
}

func (s *Sequencer) apply(tx *ledger.Txn, ev event.Event) (any, error) {
	ctx := ev.Base().Context()

	switch e := ev.(type) {
	case *event.InitEvent:
		m, err := s.program.Init(tx, ctx, e.InitArgs)
		return m, err
	case *event.ListEvent:
		l, err := s.program.List(tx, ctx, e.ListArgs)
		return l, err
	case *event.DelistEvent:
		l, err := s.program.Delist(tx, ctx, e.DelistArgs)
		return l, err
	case *event.PurchaseEvent:
		r, err := s.program.Purchase(tx, ctx, e.PurchaseArgs)
		return r, err
	case *event.DepositEvent:
		return nil, tx.Deposit(e.To, e.Amount)
	case *event.MintAssetEvent:
		asset := domain.Asset{
			ID:         e.Asset,
			Name:       e.Name,
			URI:        e.URI,
			Creator:    e.Signer,
			Collection: e.Collection,
			MintedSeq:  e.Seq,
		}
		if err := tx.MintAsset(asset, e.Signer); err != nil {
			return nil, err
		}
		return asset, nil
	case *event.VerifyCollectionEvent:
		return nil, tx.VerifyCollection(e.Signer, e.Asset)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.GetType())
	}
}

func (s *Sequencer) maybeSnapshot(seq uint64) {
	if s.snapshots == nil || s.snapEvery == 0 || seq%s.snapEvery != 0 {
		return
	}
	if err := s.snapshots.Save(storage.CreateSnapshot(seq, s.state)); err != nil {
		slog.Error("Snapshot failed", slog.Uint64("seq", seq), slog.Any("error", err))
		return
	}
	if err := s.snapshots.Cleanup(s.snapKeep); err != nil {
		slog.Warn("Snapshot cleanup failed", slog.Any("error", err))
	}
}

// Snapshot persists the committed state at the last sequence number.
func (s *Sequencer) Snapshot() error {
	if s.snapshots == nil {
		return nil
	}
	s.mu.RLock()
	snap := storage.CreateSnapshot(s.nextSeq-1, s.state)
	s.mu.RUnlock()

	if err := s.snapshots.Save(snap); err != nil {
		return err
	}
	return s.snapshots.Cleanup(s.snapKeep)
}

func (s *Sequencer) publishGauges() {
	s.metrics.SetGauge(metrics.LastSeq, float64(s.nextSeq-1))
	s.metrics.SetGauge(metrics.LiveListings, float64(s.state.ListingCount()))
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if perr, ok := market.AsError(err); ok {
		return perr.Name
	}
	return "ledger_error"
}

// Done is closed once Run has returned.
func (s *Sequencer) Done() <-chan struct{} {
	return s.done
}

// View runs fn with read access to the committed ledger.
func (s *Sequencer) View(fn func(state *ledger.State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

// LastSeq returns the sequence number of the last executed command.
func (s *Sequencer) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq - 1
}

// DumpState writes the entire ledger to a file for post-mortem analysis.
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		NextSeq uint64      `json:"next_seq"`
		State   ledger.Dump `json:"state"`
	}{
		NextSeq: s.nextSeq,
		State:   s.state.Dump(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
