// Command slugsync loads a provider snapshot of resource type
// definitions and upserts the extracted slug mappings into the
// database. Run it from cron or CI whenever the provider publishes an
// updated snapshot; the running API picks up changes on the next
// lookup.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"namereg.org/internal/slug"
	"namereg.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn    = flag.String("dsn", os.Getenv("NAMEREG_PG_DSN"), "PostgreSQL DSN")
		source = flag.String("source", "", "Snapshot source: file path, http(s) URL, or '-' for stdin")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or NAMEREG_PG_DSN")
	}
	if *source == "" {
		log.Fatal("missing -source")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	snapshot, err := readSnapshot(ctx, *source)
	if err != nil {
		log.Fatalf("read snapshot: %v", err)
	}

	mappings, err := slug.ParseFeed(snapshot)
	if err != nil {
		log.Fatalf("parse snapshot: %v", err)
	}
	if len(mappings) == 0 {
		log.Fatal("snapshot contains no slug mappings")
	}

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	updated, err := store.UpsertSlugs(ctx, mappings)
	if err != nil {
		log.Fatalf("upsert slugs: %v", err)
	}
	fmt.Printf("parsed %d mappings, %d changed\n", len(mappings), updated)
}

func readSnapshot(ctx context.Context, source string) (string, error) {
	switch {
	case source == "-":
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return "", err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("fetch %s: status %d", source, resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		return string(data), err
	default:
		data, err := os.ReadFile(source)
		return string(data), err
	}
}
