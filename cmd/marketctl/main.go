package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"marketplace_go/internal/client"
	"marketplace_go/internal/domain"
	"marketplace_go/internal/identity"
	"marketplace_go/internal/infra"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	app := &cli.App{
		Name:  "marketctl",
		Usage: "sign and submit marketplace commands, query a node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "profile", Usage: "client profile", Value: infra.ResolveConfigPath("client.yaml"), EnvVars: []string{"MARKETCTL_PROFILE"}},
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Usage: "node URL", EnvVars: []string{"MARKETCTL_SERVER"}},
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "signing key (PEM)", EnvVars: []string{"MARKETCTL_KEY"}},
			&cli.IntFlag{Name: "retries", Usage: "HTTP retries on transient failures", Value: -1},
			&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second},
		},
		Before: loadProfile,
		Commands: []*cli.Command{
			keygenCommand,
			addressCommand,
			initCommand,
			mintCommand,
			verifyCommand,
			depositCommand,
			listCommand,
			delistCommand,
			purchaseCommand,
			showCommand,
			listingsCommand,
			accountCommand,
			watchCommand,
			auditCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

const (
	defaultServer = "http://127.0.0.1:8899"
	profileKey    = "profile"
)

// loadProfile merges the profile file under the flags and stores it in
// the app metadata.
func loadProfile(c *cli.Context) error {
	cfg, err := infra.LoadClientConfig(c.String("profile"))
	if err != nil {
		return err
	}
	if c.IsSet("server") || cfg.ServerURL == "" {
		cfg.ServerURL = c.String("server")
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultServer
	}
	if c.IsSet("key") || cfg.KeyPath == "" {
		cfg.KeyPath = c.String("key")
	}
	if cfg.KeyPath == "" {
		cfg.KeyPath = filepath.Join(infra.GetWorkspaceDir(), "id.pem")
	}
	if r := c.Int("retries"); r >= 0 {
		cfg.Retries = r
	} else if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	c.App.Metadata = map[string]any{profileKey: cfg}
	return nil
}

func profile(c *cli.Context) *infra.ClientConfig {
	return c.App.Metadata[profileKey].(*infra.ClientConfig)
}

func newClient(c *cli.Context) *client.Client {
	p := profile(c)
	return client.New(p.ServerURL, p.Retries)
}

func signer(c *cli.Context) (*identity.Identity, error) {
	id, err := identity.Load(profile(c).KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load key (run `marketctl keygen` first): %w", err)
	}
	return id, nil
}

func timeoutCtx(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, c.Duration("timeout"))
}

// pubkeyFlag reads a base58 flag value.
func pubkeyFlag(c *cli.Context, name string) (domain.Pubkey, error) {
	s := c.String(name)
	if s == "" {
		return domain.Pubkey{}, fmt.Errorf("--%s is required", name)
	}
	p, err := domain.ParsePubkey(s)
	if err != nil {
		return domain.Pubkey{}, fmt.Errorf("--%s: %w", name, err)
	}
	return p, nil
}

// marketplaceFlag falls back to the profile's default marketplace.
func marketplaceFlag(c *cli.Context) (domain.Pubkey, error) {
	if !c.IsSet("marketplace") {
		if def := profile(c).Marketplace; def != "" {
			return domain.ParsePubkey(def)
		}
	}
	return pubkeyFlag(c, "marketplace")
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
