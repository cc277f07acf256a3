package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/feed"
	"marketplace_go/internal/infra"
)

// feedPrinter prints each feed message once, skipping sequence numbers it
// has already seen.
type feedPrinter struct {
	url string
	out io.Writer

	mu      sync.Mutex
	lastSeq uint64
}

func (p *feedPrinter) GetURL() string { return p.url }
func (p *feedPrinter) ID() string     { return "feed" }

func (p *feedPrinter) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	slog.Info("Connected to feed", slog.String("url", p.url))
	return nil
}

func (p *feedPrinter) OnMessage(ctx context.Context, raw []byte) {
	var msg feed.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("Malformed feed message", slog.Any("error", err))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if msg.Seq <= p.lastSeq {
		return
	}
	p.lastSeq = msg.Seq

	status := "ok"
	if !msg.OK {
		status = "rejected: " + msg.Error
	}
	fmt.Fprintf(p.out, "#%d %-17s %s %s\n", msg.Seq, msg.Type, msg.Signer, status)
}

var watchCommand = &cli.Command{
	Name:  "watch",
	Usage: "stream committed commands until interrupted",
	Flags: []cli.Flag{marketplaceFlagDef},
	Action: func(c *cli.Context) error {
		var mkt domain.Pubkey
		if c.IsSet("marketplace") || profile(c).Marketplace != "" {
			m, err := marketplaceFlag(c)
			if err != nil {
				return err
			}
			mkt = m
		}

		url, err := newClient(c).FeedURL(mkt)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(c.Context)
		defer stop()

		w := infra.NewBaseWSWorker(&feedPrinter{url: url, out: c.App.Writer})
		w.Start(ctx)
		<-ctx.Done()
		w.Stop()
		return nil
	},
}
