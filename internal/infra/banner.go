package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner displays the startup banner with network-specific warnings
func PrintBanner(w io.Writer, cfg *Config) {
	network := strings.ToUpper(cfg.Venue.Network)
	venue := strings.ToUpper(cfg.Venue.Name)

	color := ColorGreen
	modeDesc := "MARKET DATA ONLY"

	switch {
	case cfg.Venue.Name == "mock":
		color = ColorCyan
		modeDesc = "IN-MEMORY MOCK VENUE"
	case cfg.IsMainnet() && cfg.HasCredentials():
		color = ColorRed
		modeDesc = "REAL MONEY TRADING"
	case cfg.HasCredentials():
		color = ColorYellow
		modeDesc = "TESTNET (PLAY MONEY)"
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s###########################################################%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#                                                         #%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#                  🚀 perp-go DEX client                  #%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#                                                         #%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#   VENUE:   %-44s #%s\n", color, venue, ColorReset)
	fmt.Fprintf(w, "%s#   NETWORK: %-44s #%s\n", color, network, ColorReset)
	fmt.Fprintf(w, "%s#   TYPE:    %-44s #%s\n", color, modeDesc, ColorReset)
	fmt.Fprintf(w, "%s#   VERSION: %-44s #%s\n", color, cfg.App.Version, ColorReset)
	fmt.Fprintf(w, "%s#                                                         #%s\n", color, ColorReset)

	if cfg.IsMainnet() && cfg.HasCredentials() {
		fmt.Fprintf(w, "%s#   ⚠️  WARNING: YOU ARE TRADING WITH REAL MONEY  ⚠️      #%s\n", ColorRed, ColorReset)
		fmt.Fprintf(w, "%s#   ENSURE YOU HAVE VERIFIED YOUR ORDERS ON TESTNET       #%s\n", ColorRed, ColorReset)
	}

	fmt.Fprintf(w, "%s###########################################################%s\n", color, ColorReset)
	fmt.Fprintln(w)
}
