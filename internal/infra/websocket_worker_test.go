package infra_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/feed"
	"marketplace_go/internal/infra"
)

// feedRecorder subscribes to a node's commit feed and keeps every
// sequence number it sees.
type feedRecorder struct {
	url      string
	connects atomic.Int32

	mu   sync.Mutex
	seqs []uint64
}

func (r *feedRecorder) GetURL() string { return r.url }
func (r *feedRecorder) ID() string     { return "feed-recorder" }

func (r *feedRecorder) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	r.connects.Add(1)
	return nil
}

func (r *feedRecorder) OnMessage(ctx context.Context, msg []byte) {
	var m feed.Message
	if err := json.Unmarshal(msg, &m); err != nil {
		return
	}
	r.mu.Lock()
	r.seqs = append(r.seqs, m.Seq)
	r.mu.Unlock()
}

func (r *feedRecorder) seen() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...)
}

func wsURL(httpURL, path string) string {
	return strings.Replace(httpURL, "http://", "ws://", 1) + path
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// nodeStub upgrades every request and hands the connection to fn.
func nodeStub(t *testing.T, fn func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBaseWSWorker_ReceivesCommits(t *testing.T) {
	hub := feed.NewHub(16, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	rec := &feedRecorder{url: wsURL(srv.URL, "/v1/feed")}
	worker := infra.NewBaseWSWorker(rec)
	worker.Start(context.Background())
	defer worker.Stop()

	eventually(t, "feed subscription", func() bool { return hub.Subscribers() == 1 })

	var mkt domain.Pubkey
	mkt[0] = 7
	for seq := uint64(1); seq <= 3; seq++ {
		hub.Publish(feed.Message{Seq: seq, Type: "list", Marketplace: &mkt, OK: true})
	}

	eventually(t, "three commits", func() bool { return len(rec.seen()) == 3 })
	for i, seq := range rec.seen() {
		if seq != uint64(i+1) {
			t.Errorf("commit %d has seq %d", i, seq)
		}
	}
}

func TestBaseWSWorker_StopsWhileSubscribed(t *testing.T) {
	hub := feed.NewHub(16, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	worker := infra.NewBaseWSWorker(&feedRecorder{url: wsURL(srv.URL, "")})
	worker.Start(context.Background())
	eventually(t, "feed subscription", func() bool { return hub.Subscribers() == 1 })

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return within timeout")
	}
	eventually(t, "subscriber removal", func() bool { return hub.Subscribers() == 0 })
}

func TestBaseWSWorker_WriteResumeCursor(t *testing.T) {
	received := make(chan []byte, 1)
	srv := nodeStub(t, func(conn *websocket.Conn) {
		if _, msg, err := conn.ReadMessage(); err == nil {
			received <- msg
		}
		time.Sleep(100 * time.Millisecond)
	})

	rec := &feedRecorder{url: wsURL(srv.URL, "")}
	worker := infra.NewBaseWSWorker(rec)
	worker.Start(context.Background())
	defer worker.Stop()
	eventually(t, "connect", func() bool { return rec.connects.Load() > 0 })

	cursor := []byte(`{"from_seq":42}`)
	eventually(t, "write", func() bool {
		return worker.Write(websocket.TextMessage, cursor) == nil
	})

	select {
	case msg := <-received:
		if string(msg) != string(cursor) {
			t.Errorf("node received %s; want %s", msg, cursor)
		}
	case <-time.After(time.Second):
		t.Error("node did not receive the cursor")
	}
}

func TestBaseWSWorker_ResubscribesAfterNodeRestart(t *testing.T) {
	srv := nodeStub(t, func(conn *websocket.Conn) {
		// Hang up straight away, as a restarting node does.
	})

	rec := &feedRecorder{url: wsURL(srv.URL, "")}
	worker := infra.NewBaseWSWorker(rec)
	worker.Backoff = infra.Backoff{Base: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	worker.Start(context.Background())
	defer worker.Stop()

	eventually(t, "second subscription", func() bool { return rec.connects.Load() >= 2 })
}

func TestBaseWSWorker_WriteWithoutNode(t *testing.T) {
	worker := infra.NewBaseWSWorker(&feedRecorder{url: "ws://127.0.0.1:1"})
	if err := worker.Write(websocket.TextMessage, []byte(`{"from_seq":1}`)); !errors.Is(err, infra.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
