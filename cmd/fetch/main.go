// Command fetch resolves prices for a set of coins once and prints the
// result as JSON. Useful for smoke-testing provider credentials and the
// fallback chain without running the server.
//
// Usage:
//
//	fetch -coins bitcoin/btc,ethereum/eth -deadline 20s
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"priceresolver/internal/app"
	"priceresolver/internal/config"
	"priceresolver/internal/provider"
)

func main() {
	var (
		coinsArg = flag.String("coins", "", "comma-separated id/symbol pairs, e.g. bitcoin/btc,ethereum/eth")
		deadline = flag.Duration("deadline", 30*time.Second, "overall deadline for the refresh")
		cfgPath  = flag.String("config", "", "path to config.json (defaults to ./config.json if present)")
		verbose  = flag.Bool("v", false, "log provider attempts to stderr")
	)
	flag.Parse()

	if *coinsArg == "" {
		fmt.Fprintln(os.Stderr, "fetch: -coins is required")
		flag.Usage()
		os.Exit(2)
	}

	ids, err := parseCoins(*coinsArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		os.Exit(1)
	}

	log := logrus.New()
	if *verbose {
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetOutput(io.Discard)
	}

	svc, err := app.BuildService(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		os.Exit(1)
	}
	res := svc.RefreshAll(context.Background(), ids, *deadline)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "fetch: encode: %v\n", err)
		os.Exit(1)
	}
	if len(res.Resolved) == 0 {
		os.Exit(1)
	}
}

func parseCoins(s string) ([]provider.CoinIdentity, error) {
	parts := strings.Split(s, ",")
	ids := make([]provider.CoinIdentity, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		var id provider.CoinIdentity
		if err := id.UnmarshalText([]byte(p)); err != nil {
			return nil, fmt.Errorf("bad coin %q: %w", p, err)
		}
		if id.Symbol == "" {
			// Symbol defaults to the id; the fallbacks need one for
			// their own id namespaces.
			id.Symbol = id.ID
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no coins given")
	}
	return ids, nil
}
