package infra

import (
	"fmt"
	"io"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner writes the startup banner. Nodes with an open faucet are
// flagged, since anyone can mint balances on them.
func PrintBanner(w io.Writer, cfg *Config, programID string) {
	color := ColorGreen
	faucet := "DISABLED"
	if cfg.Faucet.Enabled {
		color = ColorYellow
		faucet = "OPEN (max " + cfg.Faucet.MaxDeposit + " per deposit)"
	}

	line := func(format string, args ...any) {
		fmt.Fprintf(w, "%s"+format+"%s\n", append(append([]any{color}, args...), ColorReset)...)
	}

	fmt.Fprintln(w)
	line("###########################################################")
	line("#                                                         #")
	line("#               Escrow Marketplace Node                   #")
	line("#                                                         #")
	line("#   LISTEN:  %-44s #", cfg.Server.ListenAddr)
	line("#   VERSION: %-44s #", cfg.App.Version)
	line("#   FAUCET:  %-44s #", faucet)
	line("#   PROGRAM: %-44s #", programID)
	line("#                                                         #")
	if cfg.Faucet.Enabled {
		fmt.Fprintf(w, "%s#   DEVELOPMENT NODE: BALANCES ARE NOT BACKED BY ANYTHING #%s\n", ColorRed, ColorReset)
	}
	line("###########################################################")
	fmt.Fprintln(w)
}
