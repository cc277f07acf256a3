package main

import (
	"github.com/urfave/cli/v2"

	"marketplace_go/internal/domain"
)

var showCommand = &cli.Command{
	Name:  "show",
	Usage: "show a marketplace, or every marketplace with --all",
	Flags: []cli.Flag{
		marketplaceFlagDef,
		&cli.BoolFlag{Name: "all"},
	},
	Action: func(c *cli.Context) error {
		ctx, cancel := timeoutCtx(c)
		defer cancel()

		if c.Bool("all") {
			mps, err := newClient(c).Marketplaces(ctx)
			if err != nil {
				return err
			}
			return printJSON(c, mps)
		}

		mkt, err := marketplaceFlag(c)
		if err != nil {
			return err
		}
		m, err := newClient(c).Marketplace(ctx, mkt)
		if err != nil {
			return err
		}
		return printJSON(c, m)
	},
}

var listingsCommand = &cli.Command{
	Name:  "listings",
	Usage: "list live listings of a marketplace",
	Flags: []cli.Flag{marketplaceFlagDef},
	Action: func(c *cli.Context) error {
		mkt, err := marketplaceFlag(c)
		if err != nil {
			return err
		}
		ctx, cancel := timeoutCtx(c)
		defer cancel()

		ls, err := newClient(c).Listings(ctx, mkt)
		if err != nil {
			return err
		}
		return printJSON(c, ls)
	},
}

var accountCommand = &cli.Command{
	Name:      "account",
	Usage:     "show balance, nonce and holdings",
	ArgsUsage: "[address]",
	Action: func(c *cli.Context) error {
		var addr domain.Pubkey
		if c.Args().Present() {
			p, err := domain.ParsePubkey(c.Args().First())
			if err != nil {
				return err
			}
			addr = p
		} else {
			id, err := signer(c)
			if err != nil {
				return err
			}
			addr = id.Pubkey()
		}

		ctx, cancel := timeoutCtx(c)
		defer cancel()
		acct, err := newClient(c).Account(ctx, addr)
		if err != nil {
			return err
		}
		return printJSON(c, acct)
	},
}
