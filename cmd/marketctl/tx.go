package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"marketplace_go/internal/api"
	"marketplace_go/internal/domain"
	"marketplace_go/internal/event"
	"marketplace_go/internal/identity"
	"marketplace_go/internal/market"
	"marketplace_go/pkg/quant"
)

var marketplaceFlagDef = &cli.StringFlag{Name: "marketplace", Aliases: []string{"m"}, Usage: "marketplace address"}
var assetFlagDef = &cli.StringFlag{Name: "asset", Aliases: []string{"a"}, Usage: "asset id", Required: true}

// send signs ev with the profile key, submits it and prints the outcome.
// A rejected command is reported as an error carrying its program code.
func send(c *cli.Context, ev event.Event) error {
	id, err := signer(c)
	if err != nil {
		return err
	}
	ctx, cancel := timeoutCtx(c)
	defer cancel()

	resp, err := newClient(c).Send(ctx, id, ev)
	if err != nil {
		return err
	}
	if err := printJSON(c, resp); err != nil {
		return err
	}
	return rejected(resp)
}

func rejected(resp *api.TxResponse) error {
	if resp.OK {
		return nil
	}
	if perr, ok := market.ErrorByCode(resp.Code); ok {
		return cli.Exit(fmt.Sprintf("seq %d rejected: %s (%d)", resp.Seq, perr.Name, perr.Code), 2)
	}
	return cli.Exit(fmt.Sprintf("seq %d rejected: %s", resp.Seq, resp.Error), 2)
}

var keygenCommand = &cli.Command{
	Name:  "keygen",
	Usage: "create a signing key",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "force", Usage: "overwrite an existing key"},
	},
	Action: func(c *cli.Context) error {
		path := profile(c).KeyPath
		if _, err := os.Stat(path); err == nil && !c.Bool("force") {
			return fmt.Errorf("key %s already exists (use --force to overwrite)", path)
		}
		id, err := identity.Generate()
		if err != nil {
			return err
		}
		if err := identity.Save(id, path); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, id.Pubkey())
		return nil
	},
}

var addressCommand = &cli.Command{
	Name:  "address",
	Usage: "print the signer address, or derive a marketplace's addresses",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "name", Usage: "marketplace name to derive"},
		&cli.StringFlag{Name: "asset", Usage: "with --name, also derive the listing and vault of this asset"},
	},
	Action: func(c *cli.Context) error {
		name := c.String("name")
		if name == "" {
			id, err := signer(c)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, id.Pubkey())
			return nil
		}

		mkt, err := domain.MarketplaceAddress(name)
		if err != nil {
			return err
		}
		out := map[string]domain.Pubkey{
			"marketplace": mkt,
			"treasury":    domain.TreasuryAddress(mkt),
		}
		if c.IsSet("asset") {
			asset, err := pubkeyFlag(c, "asset")
			if err != nil {
				return err
			}
			listing := domain.ListingAddress(mkt, asset)
			out["listing"] = listing
			out["vault"] = domain.VaultAddress(listing, asset)
		}
		return printJSON(c, out)
	},
}

var initCommand = &cli.Command{
	Name:  "init",
	Usage: "create a marketplace with the signer as authority",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "name", Required: true},
		&cli.Int64Flag{Name: "fee-bps", Usage: "fee in basis points (250 = 2.5%)"},
		&cli.StringFlag{Name: "fee-recipient", Usage: "defaults to the marketplace treasury"},
	},
	Action: func(c *cli.Context) error {
		rate := market.FeeRate(c.Int64("fee-bps"))
		if _, ok := rate.BasisPoints(); !ok {
			return cli.Exit(fmt.Sprintf("%v: %d", market.ErrInvalidFeeRate, rate), 2)
		}
		args := market.InitArgs{Name: c.String("name"), FeeBasisPoints: rate}
		if c.IsSet("fee-recipient") {
			r, err := pubkeyFlag(c, "fee-recipient")
			if err != nil {
				return err
			}
			args.FeeRecipient = r
		}
		return send(c, &event.InitEvent{InitArgs: args})
	},
}

var mintCommand = &cli.Command{
	Name:  "mint",
	Usage: "mint a new asset to the signer",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "asset", Usage: "asset id (random if empty)"},
		&cli.StringFlag{Name: "name", Required: true},
		&cli.StringFlag{Name: "uri"},
		&cli.StringFlag{Name: "collection", Usage: "collection asset id"},
	},
	Action: func(c *cli.Context) error {
		ev := &event.MintAssetEvent{Name: c.String("name"), URI: c.String("uri")}
		if c.IsSet("asset") {
			a, err := pubkeyFlag(c, "asset")
			if err != nil {
				return err
			}
			ev.Asset = a
		} else {
			fresh, err := identity.Generate()
			if err != nil {
				return err
			}
			ev.Asset = fresh.Pubkey()
		}
		if c.IsSet("collection") {
			col, err := pubkeyFlag(c, "collection")
			if err != nil {
				return err
			}
			ev.Collection = col
		}
		return send(c, ev)
	},
}

var verifyCommand = &cli.Command{
	Name:  "verify",
	Usage: "verify an asset's membership of a collection the signer created",
	Flags: []cli.Flag{assetFlagDef},
	Action: func(c *cli.Context) error {
		asset, err := pubkeyFlag(c, "asset")
		if err != nil {
			return err
		}
		return send(c, &event.VerifyCollectionEvent{Asset: asset})
	},
}

var depositCommand = &cli.Command{
	Name:  "deposit",
	Usage: "credit lamports from the node faucet",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "amount", Usage: "whole units, e.g. 1.5", Required: true},
		&cli.StringFlag{Name: "to", Usage: "recipient (defaults to the signer)"},
	},
	Action: func(c *cli.Context) error {
		amount, err := quant.ParseLamports(c.String("amount"))
		if err != nil {
			return err
		}
		ev := &event.DepositEvent{Amount: amount}
		if c.IsSet("to") {
			if ev.To, err = pubkeyFlag(c, "to"); err != nil {
				return err
			}
		} else {
			id, err := signer(c)
			if err != nil {
				return err
			}
			ev.To = id.Pubkey()
		}
		return send(c, ev)
	},
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "escrow an asset and list it for sale",
	Flags: []cli.Flag{
		marketplaceFlagDef,
		assetFlagDef,
		&cli.StringFlag{Name: "price", Usage: "whole units, e.g. 2.5", Required: true},
	},
	Action: func(c *cli.Context) error {
		mkt, err := marketplaceFlag(c)
		if err != nil {
			return err
		}
		asset, err := pubkeyFlag(c, "asset")
		if err != nil {
			return err
		}
		price, err := quant.ParseLamports(c.String("price"))
		if err != nil {
			return err
		}
		return send(c, &event.ListEvent{ListArgs: market.ListArgs{Marketplace: mkt, Asset: asset, Price: price}})
	},
}

var delistCommand = &cli.Command{
	Name:  "delist",
	Usage: "cancel a listing and return the asset",
	Flags: []cli.Flag{marketplaceFlagDef, assetFlagDef},
	Action: func(c *cli.Context) error {
		mkt, err := marketplaceFlag(c)
		if err != nil {
			return err
		}
		asset, err := pubkeyFlag(c, "asset")
		if err != nil {
			return err
		}
		return send(c, &event.DelistEvent{DelistArgs: market.DelistArgs{Marketplace: mkt, Asset: asset}})
	},
}

var purchaseCommand = &cli.Command{
	Name:  "purchase",
	Usage: "buy a listed asset",
	Flags: []cli.Flag{
		marketplaceFlagDef,
		assetFlagDef,
		&cli.StringFlag{Name: "max-price", Usage: "refuse to buy above this price (whole units)"},
	},
	Action: func(c *cli.Context) error {
		mkt, err := marketplaceFlag(c)
		if err != nil {
			return err
		}
		asset, err := pubkeyFlag(c, "asset")
		if err != nil {
			return err
		}

		if c.IsSet("max-price") {
			limit, err := quant.ParseLamports(c.String("max-price"))
			if err != nil {
				return err
			}
			ctx, cancel := timeoutCtx(c)
			l, err := newClient(c).Listing(ctx, mkt, asset)
			cancel()
			if err != nil {
				return err
			}
			// The listing can still change between this check and the purchase.
			if l.Price > limit {
				return fmt.Errorf("listing price %s exceeds --max-price %s", l.Price, limit)
			}
		}
		return send(c, &event.PurchaseEvent{PurchaseArgs: market.PurchaseArgs{Marketplace: mkt, Asset: asset}})
	},
}
