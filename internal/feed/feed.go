// Package feed streams committed commands to websocket subscribers.
package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/engine"
	"marketplace_go/internal/event"
	"marketplace_go/internal/market"
	"marketplace_go/internal/metrics"
	"marketplace_go/pkg/quant"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message is one committed command as seen by subscribers.
type Message struct {
	Seq         uint64          `json:"seq"`
	Type        string          `json:"type"`
	Ts          quant.TimeStamp `json:"ts,string"`
	Signer      domain.Pubkey   `json:"signer"`
	Marketplace *domain.Pubkey  `json:"marketplace,omitempty"`
	OK          bool            `json:"ok"`
	Code        uint32          `json:"code,omitempty"`
	Error       string          `json:"error,omitempty"`
	Output      any             `json:"output,omitempty"`
}

// FromCommitted builds the feed message for a sequenced command.
func FromCommitted(c engine.Committed) Message {
	msg := Message{
		Seq:    c.Result.Seq,
		Type:   c.Event.GetType().String(),
		Ts:     c.Event.GetTs(),
		Signer: c.Event.GetSigner(),
		OK:     c.Result.Err == nil,
		Output: c.Result.Output,
	}
	if c.Result.Err != nil {
		msg.Code = market.Code(c.Result.Err)
		msg.Error = c.Result.Err.Error()
	}

	switch e := c.Event.(type) {
	case *event.ListEvent:
		msg.Marketplace = &e.Marketplace
	case *event.DelistEvent:
		msg.Marketplace = &e.Marketplace
	case *event.PurchaseEvent:
		msg.Marketplace = &e.Marketplace
	case *event.InitEvent:
		if m, ok := c.Result.Output.(domain.Marketplace); ok {
			msg.Marketplace = &m.Address
		}
	}
	return msg
}

type subscriber struct {
	ch     chan []byte
	filter domain.Pubkey
}

// Hub fans committed messages out to websocket subscribers. A subscriber
// whose buffer is full is dropped rather than slowing the publisher.
type Hub struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	buffer  int
	metrics metrics.Recorder

	upgrader websocket.Upgrader
}

func NewHub(buffer int, rec metrics.Recorder) *Hub {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Hub{
		subs:    make(map[*subscriber]struct{}),
		buffer:  buffer,
		metrics: rec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Publish delivers msg to every matching subscriber without blocking.
func (h *Hub) Publish(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal feed message", slog.Uint64("seq", msg.Seq), slog.Any("error", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.filter.IsZero() && (msg.Marketplace == nil || *msg.Marketplace != sub.filter) {
			continue
		}
		select {
		case sub.ch <- data:
		default:
			slog.Warn("Dropping slow feed subscriber", slog.Uint64("seq", msg.Seq))
			h.removeLocked(sub)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		h.removeLocked(sub)
	}
}

func (h *Hub) add(filter domain.Pubkey) *subscriber {
	sub := &subscriber{ch: make(chan []byte, h.buffer), filter: filter}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.metrics.SetGauge(metrics.FeedSubscribers, float64(n))
	return sub
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *subscriber) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
	h.metrics.SetGauge(metrics.FeedSubscribers, float64(len(h.subs)))
}

// ServeHTTP upgrades the request and streams messages until either side
// goes away. An optional ?marketplace=<address> restricts the stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter domain.Pubkey
	if q := r.URL.Query().Get("marketplace"); q != "" {
		p, err := domain.ParsePubkey(q)
		if err != nil {
			http.Error(w, "invalid marketplace filter", http.StatusBadRequest)
			return
		}
		filter = p
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Feed upgrade failed", slog.Any("error", err))
		return
	}

	sub := h.add(filter)
	go h.readPump(conn, sub)
	h.writePump(conn, sub)
}

// readPump consumes control frames and detects disconnects.
func (h *Hub) readPump(conn *websocket.Conn, sub *subscriber) {
	defer h.remove(sub)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-sub.ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(sub)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(sub)
				return
			}
		}
	}
}
