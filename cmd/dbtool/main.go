package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/nimbusvault/backend/internal/config"
	"github.com/nimbusvault/backend/internal/migrations"
	"github.com/nimbusvault/backend/internal/models"
	"github.com/nimbusvault/backend/internal/store"
)

func main() {
	// Load environment variables
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "down":
			log.Printf("Rolling back most recent migration...")
			if err := migrations.Down(db); err != nil {
				log.Fatalf("failed to roll back migration: %v", err)
			}
			log.Printf("Rollback complete")

		case "version":
			v, dirty, err := migrations.Version(db)
			if err != nil {
				log.Fatalf("failed to read schema version: %v", err)
			}
			log.Printf("Schema version: %d (dirty: %t)", v, dirty)

		case "fix":
			log.Printf("Attempting to fix dirty database...")
			if err := migrations.FixDirtyDatabase(db); err != nil {
				log.Fatalf("failed to fix dirty database: %v", err)
			}
			log.Printf("Database fixed successfully")

		case "force":
			if len(os.Args) < 3 {
				log.Fatalf("usage: %s force <version>", os.Args[0])
			}
			version := os.Args[2]
			var v uint
			if _, err := fmt.Sscanf(version, "%d", &v); err != nil {
				log.Fatalf("invalid version number: %s", version)
			}

			log.Printf("Forcing database version to %d...", v)
			if err := migrations.ForceVersion(db, v); err != nil {
				log.Fatalf("failed to force version: %v", err)
			}
			log.Printf("Database version forced to %d", v)

		case "seed-plans":
			if err := seedPlans(db); err != nil {
				log.Fatalf("failed to seed plans: %v", err)
			}
			log.Printf("Plan catalog seeded")

		default:
			log.Printf("Usage: %s [down|version|fix|force <version>|seed-plans]", os.Args[0])
			os.Exit(1)
		}
	} else {
		log.Printf("Applying migrations...")
		if err := migrations.Up(db); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
		log.Printf("Migrations applied successfully")
	}
}

// seedPlans installs the default plan catalog. Upserts by name, so it is
// safe to re-run and will refresh prices on existing tiers.
func seedPlans(db *sql.DB) error {
	plans, err := store.NewPlanStore(db)
	if err != nil {
		return err
	}

	tiers := []models.PlanTier{
		{Name: "Basic", MonthlyPrice: decimal.NewFromInt(99), StorageLimitGB: 50, HasPremiumFeatures: false},
		{Name: "Pro", MonthlyPrice: decimal.NewFromInt(199), StorageLimitGB: 250, HasPremiumFeatures: false},
		{Name: "Premium", MonthlyPrice: decimal.NewFromInt(299), StorageLimitGB: 1000, HasPremiumFeatures: true},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := range tiers {
		if err := plans.UpsertPlanByName(ctx, &tiers[i]); err != nil {
			return fmt.Errorf("seed plan %q: %w", tiers[i].Name, err)
		}
		log.Printf("Seeded plan %q (%s/month)", tiers[i].Name, tiers[i].MonthlyPrice.StringFixed(2))
	}
	return nil
}
