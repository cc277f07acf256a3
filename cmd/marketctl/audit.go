package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"marketplace_go/internal/engine"
	"marketplace_go/internal/infra"
	"marketplace_go/replay"
)

var auditCommand = &cli.Command{
	Name:  "audit",
	Usage: "rebuild state from a WAL offline and report it",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "db", Usage: "WAL database (defaults to the workspace events.db)"},
	},
	Action: func(c *cli.Context) error {
		dbPath := c.String("db")
		if dbPath == "" {
			cfg := infra.DefaultConfig()
			infra.ResolveDataPaths(cfg, infra.GetWorkspaceDir())
			dbPath = cfg.Storage.DBPath
		}

		r, err := replay.NewReplayer(dbPath)
		if err != nil {
			return err
		}
		defer r.Close()

		rep, err := r.RunReplay(c.Context, engine.NewSequencer(engine.Options{}))
		if err != nil {
			return fmt.Errorf("audit of %s failed: %w", dbPath, err)
		}
		return printJSON(c, rep)
	},
}
