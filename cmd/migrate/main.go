package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"wastelink-backend/internal/config"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/database/seed"
)

func main() {
	skipSeed := flag.Bool("skip-seed", false, "apply the schema without seeding demo data")
	flag.Parse()

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("Connected to database successfully")

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if !*skipSeed {
		if err := seed.Run(context.Background(), database.NewPostgresStore(db)); err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
	}

	// Query and display summary
	var result struct {
		Users          int `db:"users"`
		SmartBins      int `db:"smart_bins"`
		Providers      int `db:"providers"`
		ActiveConfigs  int `db:"active_configs"`
		OpenAlerts     int `db:"open_alerts"`
		ActiveRequests int `db:"active_requests"`
	}

	query := `
		SELECT
			(SELECT COUNT(*) FROM users) AS users,
			(SELECT COUNT(*) FROM smart_bins) AS smart_bins,
			(SELECT COUNT(*) FROM providers) AS providers,
			(SELECT COUNT(*) FROM pricing_configurations WHERE is_active) AS active_configs,
			(SELECT COUNT(*) FROM bin_alerts WHERE NOT is_resolved) AS open_alerts,
			(SELECT COUNT(*) FROM service_requests WHERE status NOT IN ('completed', 'cancelled')) AS active_requests
	`
	if err := db.Get(&result, query); err != nil {
		log.Fatalf("Failed to query summary: %v", err)
	}

	fmt.Println("\n============================================================")
	fmt.Println("MIGRATION SUMMARY")
	fmt.Println("============================================================")
	fmt.Printf("Users:                   %d\n", result.Users)
	fmt.Printf("Smart bins:              %d\n", result.SmartBins)
	fmt.Printf("Providers:               %d\n", result.Providers)
	fmt.Printf("Active pricing configs:  %d\n", result.ActiveConfigs)
	fmt.Printf("Open alerts:             %d\n", result.OpenAlerts)
	fmt.Printf("Active service requests: %d\n", result.ActiveRequests)
	fmt.Println("============================================================")
}
