package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"namereg.org/internal/naming"
	"namereg.org/internal/naming/remote"
	"namereg.org/internal/registry"
)

func main() {
	baseURL := os.Getenv("NAMEREG_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := remote.New(baseURL)
	if err := client.ObtainToken(ctx, "smoke", []string{"contributor"}); err != nil {
		log.Fatalf("obtain token from %s: %v", baseURL, err)
	}

	// A random system segment keeps reruns from colliding with earlier
	// smoke claims. No index segment is supplied, so the duplicate claim
	// below must surface a conflict instead of retrying onto a new name.
	system := fmt.Sprintf("smk%04d", rand.Intn(10_000))

	req := naming.ClaimRequest{
		ResourceType: "storage_account",
		Region:       "wus2",
		Environment:  "dev",
		Segments:     map[string]string{"system": system},
		Metadata:     map[string]any{"owner": "smoke-test"},
	}

	claimed, err := client.Claim(ctx, req)
	if err != nil {
		log.Fatalf("claim: %v", err)
	}

	_, err = client.Claim(ctx, req)
	if !errors.Is(err, registry.ErrConflict) {
		log.Fatalf("duplicate claim: want conflict, got %v", err)
	}

	released, err := client.Release(ctx, naming.ReleaseRequest{
		Region:      "wus2",
		Environment: "dev",
		Name:        claimed.Name,
		Reason:      "smoke test cleanup",
	})
	if err != nil {
		log.Fatalf("release %s: %v", claimed.Name, err)
	}
	if released.Version <= claimed.Version {
		log.Fatalf("release did not advance version: claim=%d release=%d", claimed.Version, released.Version)
	}

	trail, err := client.AuditByName(ctx, registry.Key{
		Region:      "wus2",
		Environment: "dev",
		Name:        claimed.Name,
	})
	if err != nil {
		log.Fatalf("audit trail: %v", err)
	}
	if len(trail) < 2 {
		log.Fatalf("audit trail incomplete: %d entries", len(trail))
	}
	if trail[0].Event != registry.EventReleased || trail[len(trail)-1].Event != registry.EventClaimed {
		log.Fatalf("audit trail out of order: first=%s last=%s", trail[0].Event, trail[len(trail)-1].Event)
	}

	fmt.Printf("✅ naming smoke test passed: name=%s version=%d audit=%d\n",
		claimed.Name, released.Version, len(trail))
}
