package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"namereg.org/internal/httpapi"
	"namereg.org/internal/naming"
	"namereg.org/internal/obs"
	"namereg.org/internal/registry"
	"namereg.org/internal/rules"
	"namereg.org/internal/slug"
	"namereg.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	rulesPath := envOr("NAMEREG_RULES_PATH", "ops/rules")
	layers, err := rules.LoadDir(rulesPath)
	if err != nil {
		log.Fatalf("load rules: %v", err)
	}
	table, err := rules.Merge(layers)
	if err != nil {
		log.Fatalf("merge rules: %v", err)
	}
	ruleStore := rules.NewStore(table)

	// A backing database is optional: without NAMEREG_PG_DSN the service
	// runs on the in-memory ledger with the baseline slug table, which is
	// enough for local development and demos.
	var (
		ledger     registry.Store
		providers  []slug.Provider
		slugWriter naming.SlugWriter
		readyProbe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("NAMEREG_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		ledger = pgStore
		slugWriter = pgStore
		readyProbe = httpapi.ReadyProbe{Pinger: pgStore}
		// DB mappings win; the baseline table backstops unsynced types.
		providers = append(providers, pgStore)
	} else {
		ledger = registry.NewInMemory()
	}
	providers = append(providers, slug.NewStaticProvider(baselineSlugs))

	chain, err := slug.NewChain(providers...)
	if err != nil {
		log.Fatalf("slug chain: %v", err)
	}

	svc := naming.NewService(ruleStore, chain, ledger, slugWriter, naming.Config{
		OrgPrefix: envOr("NAMEREG_ORG_PREFIX", "org"),
	})

	api := httpapi.New(readyProbe, version, svc)

	srv := &http.Server{
		Addr:              envOr("NAMEREG_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting namereg-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

// baselineSlugs mirrors the seed data in ops/migrations/seeds.
var baselineSlugs = []slug.Mapping{
	{ResourceType: "storage_account", Slug: "st", FullName: "Storage Account"},
	{ResourceType: "resource_group", Slug: "rg", FullName: "Resource Group"},
	{ResourceType: "virtual_machine", Slug: "vm", FullName: "Virtual Machine"},
	{ResourceType: "virtual_network", Slug: "vnet", FullName: "Virtual Network"},
	{ResourceType: "key_vault", Slug: "kv", FullName: "Key Vault"},
	{ResourceType: "app_service", Slug: "app", FullName: "App Service"},
	{ResourceType: "sql_database", Slug: "sqldb", FullName: "SQL Database"},
	{ResourceType: "function_app", Slug: "func", FullName: "Function App"},
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
