// Command coingecko_dump fetches the raw coins/markets rows for a set of
// ids and prints them. Handy when the upstream schema drifts and the
// adapter starts rejecting rows.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"priceresolver/internal/provider/coingecko"
)

func main() {
	var (
		idsArg   = flag.String("ids", "bitcoin", "comma-separated coin ids")
		key      = flag.String("key", os.Getenv("COINGECKO_API_KEY"), "demo API key")
		endpoint = flag.String("endpoint", "", "override base URL")
		timeout  = flag.Duration("timeout", 15*time.Second, "request timeout")
	)
	flag.Parse()

	var opts []coingecko.APIClientOption
	if *endpoint != "" {
		opts = append(opts, coingecko.WithBaseURL(*endpoint))
	}
	client, err := coingecko.NewAPIClient(*key, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coingecko_dump: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	markets, err := client.GetCoinsMarkets(ctx, strings.Split(*idsArg, ","))
	if err != nil {
		fmt.Fprintf(os.Stderr, "coingecko_dump: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(markets); err != nil {
		fmt.Fprintf(os.Stderr, "coingecko_dump: encode: %v\n", err)
		os.Exit(1)
	}
}
