package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/config"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/domain/metric"
	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/infrastructure/postgres"
)

func main() {
	eventID := flag.String("event", "", "show the ledger entry of one event_id")
	limit := flag.Int("limit", 5, "rows to list per section")
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewClient(ctx, postgres.Config{
		Host:           cfg.Postgres.Host,
		Port:           cfg.Postgres.Port,
		User:           cfg.Postgres.User,
		Password:       cfg.Postgres.Password,
		DBName:         cfg.Postgres.DBName,
		MaxConns:       2,
		ConnectTimeout: cfg.Postgres.ConnectTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	ledgerRepo := postgres.NewLedgerRepository(pool)
	metricRepo := postgres.NewMetricRepository(pool)

	if *eventID != "" {
		e, err := ledgerRepo.GetByEventID(ctx, *eventID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			fmt.Printf("Event %s has not been processed\n", *eventID)
		case err != nil:
			fmt.Fprintf(os.Stderr, "Lookup failed: %v\n", err)
			os.Exit(1)
		default:
			fmt.Printf("Event %s | Sensor: %s | Partition: %d | Offset: %s | Processed: %s\n",
				e.EventID, e.SensorID, e.Partition, e.Offset, e.ProcessedAt.Format(time.RFC3339))
		}
		return
	}

	ledgerCount, err := ledgerRepo.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Count failed: %v\n", err)
		os.Exit(1)
	}
	summary, err := metricRepo.Summary(ctx, metric.Filter{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Summary failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("--- Counts ---")
	fmt.Printf("processed_events: %d | metrics: %d\n", ledgerCount, summary.TotalEvents)
	if summary.LagSeconds != nil {
		fmt.Printf("Newest metric is %.1fs old\n", *summary.LagSeconds)
	}

	fmt.Println("\n--- Ledger entries without metrics ---")
	orphans, err := ledgerRepo.Orphans(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Orphan check failed: %v\n", err)
		os.Exit(1)
	}
	if len(orphans) == 0 {
		fmt.Println("none")
	}
	for _, o := range orphans {
		fmt.Printf("Event: %s | Sensor: %s | Partition: %d | Offset: %s\n", o.EventID, o.SensorID, o.Partition, o.Offset)
	}

	fmt.Println("\n--- Latest metrics ---")
	records, err := metricRepo.Query(ctx, metric.Filter{}, metric.Page{Limit: *limit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	for _, r := range records {
		fmt.Printf("Sensor: %s | Event: %s | Value: %.3f | At: %s\n", r.SensorID, r.EventID, r.Value, r.Timestamp.Format(time.RFC3339Nano))
	}
}
