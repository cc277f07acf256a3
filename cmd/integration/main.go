// Command integration drives a running marketd node through a full trade
// and a purchase race, using throwaway keys.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"marketplace_go/internal/api"
	"marketplace_go/internal/client"
	"marketplace_go/internal/domain"
	"marketplace_go/internal/event"
	"marketplace_go/internal/identity"
	"marketplace_go/internal/infra"
	"marketplace_go/internal/market"
	"marketplace_go/pkg/quant"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := newApp().Run(os.Args); err != nil {
		slog.Error("Integration test failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "integration",
		Usage: "drive a running marketd node through a trade and a purchase race",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "node URL",
				Value:   "http://127.0.0.1:8899",
				EnvVars: []string{"MARKET_SERVER"},
			},
			&cli.IntFlag{
				Name:  "buyers",
				Usage: "concurrent buyers in the race step",
				Value: 8,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "overall deadline",
				Value: 2 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if n := c.Int("buyers"); n < 2 {
				return fmt.Errorf("--buyers must be at least 2, got %d", n)
			}
			server := c.String("server")
			slog.Info("Starting marketplace integration test...", slog.String("server", server))

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			if err := run(ctx, client.New(server, 3), c.Int("buyers")); err != nil {
				return err
			}
			slog.Info("Integration test passed")
			return nil
		},
	}
}

type actor struct {
	name string
	id   *identity.Identity
}

func newActor(name string) actor {
	id, err := identity.Generate()
	if err != nil {
		panic(err)
	}
	return actor{name: name, id: id}
}

// pace keeps setup traffic under a default node's per-address rate limit.
var pace = infra.NewRateLimiter(10, 10)

func must(ctx context.Context, c *client.Client, a actor, ev event.Event) (*api.TxResponse, error) {
	pace.Wait()
	resp, err := c.Send(ctx, a.id, ev)
	if err != nil {
		return nil, fmt.Errorf("%s %s not sequenced: %w", a.name, ev.GetType(), err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("%s %s rejected: %s", a.name, ev.GetType(), resp.Error)
	}
	return resp, nil
}

func run(ctx context.Context, c *client.Client, nBuyers int) error {
	authority, seller := newActor("authority"), newActor("seller")
	name := fmt.Sprintf("it-%d", time.Now().UnixNano()%1_000_000_000)
	mkt, err := domain.MarketplaceAddress(name)
	if err != nil {
		return err
	}
	price := quant.Lamports(quant.LamportsPerSOL)

	slog.Info("STEP 1: Init marketplace", slog.String("name", name), slog.String("address", mkt.String()))
	if _, err := must(ctx, c, authority, &event.InitEvent{InitArgs: market.InitArgs{Name: name, FeeBasisPoints: 250}}); err != nil {
		return err
	}

	slog.Info("STEP 2: Mint and list two assets")
	assets := make([]domain.Pubkey, 2)
	for i := range assets {
		assets[i] = newActor("asset").id.Pubkey()
		if _, err := must(ctx, c, seller, &event.MintAssetEvent{Asset: assets[i], Name: fmt.Sprintf("IT #%d", i)}); err != nil {
			return err
		}
		if _, err := must(ctx, c, seller, &event.ListEvent{ListArgs: market.ListArgs{Marketplace: mkt, Asset: assets[i], Price: price}}); err != nil {
			return err
		}
	}

	slog.Info("STEP 3: Single purchase")
	buyer := newActor("buyer")
	if _, err := must(ctx, c, buyer, &event.DepositEvent{To: buyer.id.Pubkey(), Amount: 2 * price}); err != nil {
		return err
	}
	if _, err := must(ctx, c, buyer, &event.PurchaseEvent{PurchaseArgs: market.PurchaseArgs{Marketplace: mkt, Asset: assets[0]}}); err != nil {
		return err
	}
	acct, err := c.Account(ctx, buyer.id.Pubkey())
	if err != nil {
		return err
	}
	if acct.Lamports != price || len(acct.Holdings) != 1 {
		return fmt.Errorf("buyer after purchase: %s lamports, %d holdings", acct.Lamports, len(acct.Holdings))
	}
	sellerAcct, err := c.Account(ctx, seller.id.Pubkey())
	if err != nil {
		return err
	}
	if want := price - price*250/10000; sellerAcct.Lamports != want {
		return fmt.Errorf("seller proceeds %s; want %s", sellerAcct.Lamports, want)
	}

	slog.Info("STEP 4: Purchase race", slog.Int("buyers", nBuyers))
	return race(ctx, c, mkt, assets[1], price, nBuyers)
}

// race funds n buyers and fires their purchases of one listing at once.
// Exactly one must win; every other buyer must see ListingNotFound.
func race(ctx context.Context, c *client.Client, mkt, asset domain.Pubkey, price quant.Lamports, n int) error {
	buyers := make([]actor, n)
	for i := range buyers {
		buyers[i] = newActor(fmt.Sprintf("racer-%d", i))
		if _, err := must(ctx, c, buyers[i], &event.DepositEvent{To: buyers[i].id.Pubkey(), Amount: price}); err != nil {
			return err
		}
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		errs  []error
		start = make(chan struct{})
	)
	for _, b := range buyers {
		wg.Add(1)
		go func(b actor) {
			defer wg.Done()
			<-start
			resp, err := c.Send(ctx, b.id, &event.PurchaseEvent{PurchaseArgs: market.PurchaseArgs{Marketplace: mkt, Asset: asset}})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
			case resp.OK:
				wins++
			case resp.Code != market.ErrListingNotFound.Code:
				errs = append(errs, fmt.Errorf("%s: unexpected rejection %s", b.name, resp.Error))
			}
		}(b)
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if wins != 1 {
		return fmt.Errorf("%d buyers won the race; want exactly 1", wins)
	}
	if _, err := c.Listing(ctx, mkt, asset); !client.IsNotFound(err) {
		return fmt.Errorf("listing still live after race: %v", err)
	}
	slog.Info("Race settled with a single winner")
	return nil
}
