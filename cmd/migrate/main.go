package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/akamensky/argparse"

	"stereomeasure/internal/config"
	"stereomeasure/internal/model"
	"stereomeasure/internal/repository/sqlite"
)

// migrate creates or upgrades the measurement database and prints what it holds.
func main() {
	cfg := config.Load()

	parser := argparse.NewParser("migrate", "Create or upgrade the measurement database")
	dbPath := parser.String("d", "db", &argparse.Options{Help: "Database path", Default: cfg.DatabasePath})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	runs := sqlite.NewRunRepository(db)
	measurements := sqlite.NewMeasurementRepository(db)

	total, err := runs.GetTotalCount(nil)
	if err != nil {
		log.Fatalf("Failed to count runs: %v", err)
	}
	sources, err := runs.GetSources()
	if err != nil {
		log.Fatalf("Failed to list sources: %v", err)
	}
	objects, err := measurements.GetAllObjectNames()
	if err != nil {
		log.Fatalf("Failed to list objects: %v", err)
	}

	fmt.Printf("Database %s is up to date\n", *dbPath)
	fmt.Printf("   Total runs: %d\n", total)
	for _, source := range sources {
		n, err := runs.GetTotalCount(&model.RunFilter{Source: source})
		if err != nil {
			log.Fatalf("Failed to count runs for %s: %v", source, err)
		}
		fmt.Printf("      - %s: %d runs\n", source, n)
	}
	fmt.Printf("   Measured objects: %v\n", objects)
}
