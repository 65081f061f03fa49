// seed registers a service catalog in the registry for local testing. Run via `go run ./cmd/seed`.
// Idempotent: services are keyed by name and base URL, so re-running updates the existing entries.
// Health checks are skipped; the registry re-verifies seeded services on its next refresh.
package main

import (
	"context"
	"flag"
	"log"

	"x402-delegation/backend/internal/audit"
	auditrepo "x402-delegation/backend/internal/audit/repository"
	"x402-delegation/backend/internal/config"
	"x402-delegation/backend/internal/db"
	registryrepo "x402-delegation/backend/internal/registry/repository"
	registryservice "x402-delegation/backend/internal/registry/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	file := flag.String("file", cfg.RegistrySeedFile, "YAML service catalog (defaults to the embedded development catalog)")
	flag.Parse()

	if cfg.DatabaseURL == "" {
		log.Fatal("seed: DATABASE_URL is required")
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	specs, err := loadCatalog(*file)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}

	ctx := context.Background()
	reg := registryservice.NewRegistry(registryrepo.NewPostgresRepository(conn), nil, registryservice.Config{})
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(conn), nil)

	for _, spec := range specs {
		svc, err := reg.RegisterService(ctx, spec)
		if err != nil {
			log.Fatalf("register %q: %v", spec.Name, err)
		}
		auditLogger.LogEvent(ctx, audit.Entry{
			Actor:      audit.SystemActor,
			Action:     "register",
			Resource:   "registry_service",
			ResourceID: svc.ID,
			Status:     201,
			Metadata:   "seed",
		})
		log.Printf("seed: %s -> %s (%s)", svc.Name, svc.ID, svc.Status)
	}
	log.Printf("seed: registered %d services", len(specs))
}
