// Package api exposes the marketplace over HTTP: signed command submission,
// read-only queries over committed state, the websocket feed and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/engine"
	"marketplace_go/internal/event"
	"marketplace_go/internal/identity"
	"marketplace_go/internal/infra"
	"marketplace_go/internal/ledger"
	"marketplace_go/internal/market"
	"marketplace_go/internal/metrics"
	"marketplace_go/pkg/quant"
)

// Engine is the part of the sequencer the API needs.
type Engine interface {
	Submit(ctx context.Context, ev event.Event) (engine.Result, error)
	View(fn func(state *ledger.State))
	LastSeq() uint64
}

type Options struct {
	Feed          http.Handler
	Subscribers   func() int
	Metrics       metrics.Recorder
	MetricsPath   http.Handler
	Limiter       *infra.KeyedRateLimiter
	Breaker       *infra.CircuitBreaker
	FaucetEnabled bool
	FaucetLimit   quant.Lamports
	SubmitTimeout time.Duration
	// ReplayWindow is how long the outcome of a sequenced envelope is kept,
	// so a client retrying after a lost response gets it back instead of a
	// nonce error.
	ReplayWindow time.Duration
}

type Server struct {
	engine   Engine
	opts     Options
	validate *validator.Validate
	recent   *cache.Cache
}

type ctxKey int

const requestIDKey ctxKey = iota

func NewServer(e Engine, opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopRecorder{}
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 10 * time.Second
	}
	if opts.ReplayWindow <= 0 {
		opts.ReplayWindow = 10 * time.Minute
	}
	return &Server{
		engine:   e,
		opts:     opts,
		validate: validator.New(),
		recent:   cache.New(opts.ReplayWindow, 2*opts.ReplayWindow),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.withRequestID)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Handle("/tx", s.rateLimited(http.HandlerFunc(s.handleSubmit))).Methods(http.MethodPost)
	v1.HandleFunc("/marketplaces", s.handleMarketplaces).Methods(http.MethodGet)
	v1.HandleFunc("/marketplaces/{address}", s.handleMarketplace).Methods(http.MethodGet)
	v1.HandleFunc("/marketplaces/{address}/listings", s.handleListings).Methods(http.MethodGet)
	v1.HandleFunc("/marketplaces/{address}/listings/{asset}", s.handleListing).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}", s.handleAccount).Methods(http.MethodGet)
	v1.HandleFunc("/assets/{asset}", s.handleAsset).Methods(http.MethodGet)
	if s.opts.Feed != nil {
		v1.Handle("/feed", s.opts.Feed).Methods(http.MethodGet)
	}
	if s.opts.MetricsPath != nil {
		r.Handle("/metrics", s.opts.MetricsPath).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "route not found")
	})
	return r
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.opts.Metrics.IncCounter(metrics.HTTPRequests, map[string]string{"type": r.Method + " " + route})

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	if s.opts.Limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.opts.Limiter.Allow(host) {
			s.writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{RequestID: requestID(r), Error: msg})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var env identity.Envelope
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "malformed envelope: "+err.Error())
		return
	}
	if err := s.validate.Struct(&env); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid envelope: "+err.Error())
		return
	}

	ev, err := env.Open()
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, identity.ErrBadSignature) {
			status = http.StatusUnauthorized
		}
		s.writeError(w, r, status, err.Error())
		return
	}

	if prev, ok := s.recent.Get(env.Signature); ok {
		resp := prev.(TxResponse)
		w.Header().Set("X-Idempotent-Replay", "true")
		s.writeJSON(w, StatusForResponse(resp), resp)
		return
	}

	if dep, ok := ev.(*event.DepositEvent); ok {
		if !s.opts.FaucetEnabled {
			s.writeError(w, r, http.StatusForbidden, "faucet is disabled on this node")
			return
		}
		if dep.Amount > s.opts.FaucetLimit {
			s.writeError(w, r, http.StatusBadRequest, "deposit exceeds faucet limit of "+s.opts.FaucetLimit.String())
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.SubmitTimeout)
	defer cancel()

	res, err := s.engine.Submit(ctx, ev)
	if err != nil {
		s.writeError(w, r, submitStatus(err), err.Error())
		return
	}

	resp := TxResponse{RequestID: requestID(r), Seq: res.Seq, OK: res.Err == nil}
	status := http.StatusOK
	if res.Err != nil {
		status = StatusFor(res.Err)
		resp.Code = market.Code(res.Err)
		resp.Error = res.Err.Error()
	} else if res.Output != nil {
		out, err := json.Marshal(res.Output)
		if err != nil {
			slog.Error("Failed to marshal output", slog.Uint64("seq", res.Seq), slog.Any("error", err))
		}
		resp.Output = out
	}
	s.recent.SetDefault(env.Signature, resp)
	s.writeJSON(w, status, resp)
}

// StatusForResponse recovers the HTTP status of a recorded outcome.
func StatusForResponse(resp TxResponse) int {
	if resp.OK {
		return http.StatusOK
	}
	if perr, ok := market.ErrorByCode(resp.Code); ok {
		return StatusFor(perr)
	}
	return http.StatusBadRequest
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrBadNonce):
		return http.StatusConflict
	case errors.Is(err, engine.ErrStoreUnavailable), errors.Is(err, engine.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// StatusFor maps a rejected command to an HTTP status.
func StatusFor(err error) int {
	if perr, ok := market.AsError(err); ok {
		switch perr {
		case market.ErrListingNotFound, market.ErrMarketplaceNotFound:
			return http.StatusNotFound
		case market.ErrUnauthorized:
			return http.StatusForbidden
		}
		switch perr.Class {
		case market.ClassValidation:
			return http.StatusBadRequest
		case market.ClassStateConflict:
			return http.StatusConflict
		case market.ClassTransfer:
			return http.StatusPaymentRequired
		case market.ClassArithmetic:
			return http.StatusUnprocessableEntity
		}
	}

	switch {
	case errors.Is(err, ledger.ErrAssetExists), errors.Is(err, ledger.ErrAccountInUse):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrAssetNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNotCollectionOwner):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) pubkeyVar(w http.ResponseWriter, r *http.Request, name string) (domain.Pubkey, bool) {
	p, err := domain.ParsePubkey(mux.Vars(r)[name])
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid "+name+": "+err.Error())
		return domain.Pubkey{}, false
	}
	return p, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := HealthView{Status: "ok", LastSeq: s.engine.LastSeq(), Store: infra.StateClosed.String()}
	status := http.StatusOK
	if s.opts.Breaker != nil {
		st := s.opts.Breaker.Status()
		h.Store = st.State.String()
		h.StoreTrips = st.Trips
		if st.State == infra.StateOpen {
			h.Status = "degraded"
			h.StoreRetryAt = st.RetryAt.UTC().Format(time.RFC3339)
			status = http.StatusServiceUnavailable
		}
	}
	if s.opts.Subscribers != nil {
		h.Subscribers = s.opts.Subscribers()
	}
	s.writeJSON(w, status, h)
}

func marketplaceView(st *ledger.State, m domain.Marketplace) MarketplaceView {
	return MarketplaceView{
		Marketplace: m,
		FeePercent:  m.FeeBasisPoints.Percent(),
		Listings:    len(st.Listings(m.Address)),
	}
}

func listingView(m domain.Marketplace, l domain.Listing) ListingView {
	v := ListingView{Listing: l, PriceSOL: l.Price.String()}
	// A fee that cannot be computed leaves the quote at zero; Purchase
	// reports the error.
	v.Fee, v.Proceeds, _ = market.Fee(l.Price, m.FeeBasisPoints)
	return v
}

func (s *Server) handleMarketplaces(w http.ResponseWriter, r *http.Request) {
	var out []MarketplaceView
	s.engine.View(func(st *ledger.State) {
		for _, m := range st.Marketplaces() {
			out = append(out, marketplaceView(st, m))
		}
	})
	if out == nil {
		out = []MarketplaceView{}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarketplace(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pubkeyVar(w, r, "address")
	if !ok {
		return
	}

	var (
		view  MarketplaceView
		found bool
	)
	s.engine.View(func(st *ledger.State) {
		var m domain.Marketplace
		if m, found = st.Marketplace(addr); found {
			view = marketplaceView(st, m)
		}
	})
	if !found {
		s.writeError(w, r, http.StatusNotFound, market.ErrMarketplaceNotFound.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pubkeyVar(w, r, "address")
	if !ok {
		return
	}

	var (
		out   []ListingView
		found bool
	)
	s.engine.View(func(st *ledger.State) {
		var m domain.Marketplace
		if m, found = st.Marketplace(addr); !found {
			return
		}
		out = make([]ListingView, 0)
		for _, l := range st.Listings(addr) {
			out = append(out, listingView(m, l))
		}
	})
	if !found {
		s.writeError(w, r, http.StatusNotFound, market.ErrMarketplaceNotFound.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pubkeyVar(w, r, "address")
	if !ok {
		return
	}
	asset, ok := s.pubkeyVar(w, r, "asset")
	if !ok {
		return
	}

	var (
		view  ListingView
		found bool
	)
	s.engine.View(func(st *ledger.State) {
		m, ok := st.Marketplace(addr)
		if !ok {
			return
		}
		var l domain.Listing
		if l, found = st.Listing(addr, asset); found {
			view = listingView(m, l)
		}
	})
	if !found {
		s.writeError(w, r, http.StatusNotFound, market.ErrListingNotFound.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pubkeyVar(w, r, "id")
	if !ok {
		return
	}

	var view AccountView
	s.engine.View(func(st *ledger.State) {
		lamports := st.Lamports(id)
		view = AccountView{
			Address:  id,
			Lamports: lamports,
			Balance:  lamports.String(),
			Nonce:    st.Nonce(id),
			Holdings: st.Holdings(id),
		}
	})
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pubkeyVar(w, r, "asset")
	if !ok {
		return
	}

	var (
		asset domain.Asset
		found bool
	)
	s.engine.View(func(st *ledger.State) { asset, found = st.Asset(id) })
	if !found {
		s.writeError(w, r, http.StatusNotFound, ledger.ErrAssetNotFound.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, asset)
}
