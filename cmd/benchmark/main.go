package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/olgasafonova/mediawiki-api-go/wiki"
)

func newClient() (*wiki.Client, error) {
	config, err := wiki.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return wiki.NewClient(config, logger), nil
}

// measureTokenCache compares a token fetch with a cached lookup
func measureTokenCache(ctx context.Context, client *wiki.Client) {
	fmt.Println("1. Token Cache Test:")

	start := time.Now()
	if _, err := client.Token(ctx, "csrf"); err != nil {
		fmt.Printf("   Error: %v\n", err)
		return
	}
	firstCall := time.Since(start)
	fmt.Printf("   First call (network):  %v\n", firstCall)

	start = time.Now()
	_, _ = client.Token(ctx, "csrf")
	secondCall := time.Since(start)
	fmt.Printf("   Second call (cached):  %v\n", secondCall)
	if secondCall > 0 {
		fmt.Printf("   Speedup: %.0fx faster\n", float64(firstCall)/float64(secondCall))
	}
	fmt.Println()
}

// measureContinuation follows a list query for a fixed number of responses
func measureContinuation(ctx context.Context, client *wiki.Client, rounds int) {
	fmt.Printf("2. Continuation (list=allpages, %d responses of 50):\n", rounds)

	start := time.Now()
	responses, titles := 0, 0
	for result, err := range client.Query(ctx, wiki.Params{"list": "allpages", "aplimit": 50}) {
		if err != nil {
			fmt.Printf("   Error: %v\n", err)
			return
		}
		responses++
		titles += len(result.Array("allpages"))
		if responses == rounds {
			break
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("   Responses: %d, titles: %d\n", responses, titles)
	fmt.Printf("   Total time: %v\n", elapsed)
	if responses > 0 {
		fmt.Printf("   Average per round trip: %v\n", elapsed/time.Duration(responses))
	}
	fmt.Println()
}

// measurePageMerge runs a generator query whose props continue independently
// of the generator, so pages arrive in several fragments.
func measurePageMerge(ctx context.Context, client *wiki.Client, limit int) {
	fmt.Printf("3. QueryPages (generator=allpages, prop=categories|links, %d pages):\n", limit)

	params := wiki.Params{
		"generator": "allpages",
		"gaplimit":  10,
		"prop":      []string{"categories", "links", "info"},
		"cllimit":   5,
		"pllimit":   5,
	}

	start := time.Now()
	pages, fragments := 0, 0
	for page, err := range client.QueryPages(ctx, params) {
		if err != nil {
			fmt.Printf("   Error: %v\n", err)
			break
		}
		pages++
		fragments += len(page.Array("categories")) + len(page.Array("links"))
		if pages == limit {
			break
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("   Pages: %d, merged list entries: %d\n", pages, fragments)
	fmt.Printf("   Total time: %v\n", elapsed)
	fmt.Println()
}

func main() {
	fmt.Println("MediaWiki API Client - Performance Measurements")
	fmt.Println("===============================================")
	fmt.Println()

	client, err := newClient()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	measureTokenCache(ctx, client)
	measureContinuation(ctx, client, 5)
	measurePageMerge(ctx, client, 25)

	stats := client.CircuitBreakerStats()
	fmt.Println("=== Summary ===")
	fmt.Println()
	fmt.Printf("Circuit breaker: %s (%d consecutive failures)\n", stats.State, stats.ConsecutiveFails)
}
