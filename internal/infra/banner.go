package infra

import (
	"fmt"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset   = "\033[0m"
	ColorRed     = "\033[31m"
	ColorGreen   = "\033[32m"
	ColorYellow  = "\033[33m"
	ColorBlue    = "\033[34m"
	ColorMagenta = "\033[35m"
	ColorCyan    = "\033[36m"
)

// PrintBanner displays the startup banner with an account-type warning
// derived from the Deriv app id in use.
func PrintBanner(cfg *Config) {
	version := cfg.App.Version
	appID := cfg.Venue.AppID

	color := ColorYellow
	accountDesc := "REGISTERED APP"
	if appID == "1089" {
		color = ColorCyan
		accountDesc = "PUBLIC TEST APP ID"
	}

	fmt.Println()
	fmt.Printf("%s###########################################################%s\n", color, ColorReset)
	fmt.Printf("%s#                                                         #%s\n", color, ColorReset)
	fmt.Printf("%s#              🚀 Deriv Fast Trading Backend              #%s\n", color, ColorReset)
	fmt.Printf("%s#                                                         #%s\n", color, ColorReset)
	fmt.Printf("%s#   APP ID:  %-36s #%s\n", color, appID, ColorReset)
	fmt.Printf("%s#   TYPE:    %-36s #%s\n", color, accountDesc, ColorReset)
	fmt.Printf("%s#   VERSION: %-36s #%s\n", color, version, ColorReset)
	fmt.Printf("%s#   SYMBOL:  %-36s #%s\n", color, cfg.Trading.DefaultSymbol, ColorReset)
	fmt.Printf("%s#   TOKEN:   %-36s #%s\n", color, cfg.MaskedToken(), ColorReset)
	fmt.Printf("%s#                                                         #%s\n", color, ColorReset)

	if strings.HasPrefix(strings.ToUpper(cfg.Trading.DefaultCurrency), "USD") && appID != "1089" {
		fmt.Printf("%s#   ⚠️  WARNING: TRADES MAY USE A REAL MONEY ACCOUNT  ⚠️  #%s\n", ColorRed, ColorReset)
		fmt.Printf("%s#   VERIFY YOUR API TOKEN SCOPE BEFORE SUBMITTING         #%s\n", ColorRed, ColorReset)
	}

	fmt.Printf("%s###########################################################%s\n", color, ColorReset)
	fmt.Println()
}
