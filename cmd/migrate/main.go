// Command migrate copies purchases from one store backend to another, for
// example from the local SQLite database into BigQuery. Purchase IDs are kept,
// so running it twice replaces rather than duplicates records.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/dvloznov/receipt-assistant/internal/assistant"
	"github.com/dvloznov/receipt-assistant/internal/config"
	"github.com/dvloznov/receipt-assistant/internal/logger"
	"github.com/dvloznov/receipt-assistant/internal/store"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	src, dst := cfg, cfg
	flag.StringVar(&src.StoreBackend, "from", cfg.StoreBackend, "Source backend: sqlite, memory or bigquery")
	flag.StringVar(&src.DBPath, "from-db", cfg.DBPath, "Source SQLite database path")
	flag.StringVar(&dst.StoreBackend, "to", config.BackendBigQuery, "Destination backend: sqlite, memory or bigquery")
	flag.StringVar(&dst.DBPath, "to-db", cfg.DBPath, "Destination SQLite database path")
	flag.StringVar(&dst.BQProject, "bq-project", cfg.BQProject, "BigQuery project ID (or set BQ_PROJECT env)")
	flag.StringVar(&dst.BQDataset, "bq-dataset", cfg.BQDataset, "BigQuery dataset (or set BQ_DATASET env)")
	dryRun := flag.Bool("dry-run", false, "Count purchases without writing them")
	flag.Parse()

	// Both sides share the BigQuery location.
	src.BQProject, src.BQDataset = dst.BQProject, dst.BQDataset

	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	for _, c := range []config.Config{src, dst} {
		if err := c.Validate(); err != nil {
			log.Fatal().Err(err).Msg("Invalid configuration")
		}
	}
	if src.StoreBackend == dst.StoreBackend && (src.StoreBackend != config.BackendSQLite || src.DBPath == dst.DBPath) {
		log.Fatal().Msg("Error: source and destination are the same store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	srcServices := assistant.NewServices(src)
	defer srcServices.Close()
	from, err := srcServices.Store(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("backend", src.StoreBackend).Msg("Failed to open source store")
	}

	var to store.PurchaseStore
	if !*dryRun {
		dstServices := assistant.NewServices(dst)
		defer dstServices.Close()
		if to, err = dstServices.Store(ctx); err != nil {
			log.Fatal().Err(err).Str("backend", dst.StoreBackend).Msg("Failed to open destination store")
		}
	}

	log.Info().
		Str("from", src.StoreBackend).
		Str("to", dst.StoreBackend).
		Bool("dry_run", *dryRun).
		Msg("Copying purchases")

	n, err := copyPurchases(ctx, from, to)
	if err != nil {
		log.Fatal().Err(err).Int("copied", n).Msg("Migration failed")
	}

	fmt.Printf("Copied %d purchases from %s to %s.\n", n, src.StoreBackend, dst.StoreBackend)
}

// copyPurchases appends every purchase of src to dst in insertion order.
// A nil dst only counts.
func copyPurchases(ctx context.Context, src, dst store.PurchaseStore) (int, error) {
	log := logger.FromContext(ctx)

	var n int
	for p, err := range src.Query(ctx, store.Filter{}) {
		if err != nil {
			return n, fmt.Errorf("copyPurchases: reading: %w", err)
		}
		if dst != nil {
			if _, err := dst.Append(ctx, p); err != nil {
				return n, fmt.Errorf("copyPurchases: writing %s: %w", p.ID, err)
			}
		}
		n++
		if n%500 == 0 {
			log.Info().Int("copied", n).Msg("Progress")
		}
	}
	return n, nil
}
