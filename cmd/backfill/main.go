package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/lunary/engagement-metrics/internal/analytics"
)

// Recomputes daily metrics over a date range, oldest day first. Safe to
// re-run: every day's computation is idempotent.
func main() {
	fromFlag := flag.String("from", "", "first day to compute (YYYY-MM-DD)")
	toFlag := flag.String("to", "", "last day to compute (YYYY-MM-DD), defaults to yesterday UTC")
	flag.Parse()

	if *fromFlag == "" {
		log.Fatal("-from is required")
	}
	from, err := time.Parse("2006-01-02", *fromFlag)
	if err != nil {
		log.Fatalf("invalid -from: %v", err)
	}

	to := time.Now().UTC().AddDate(0, 0, -1)
	if *toFlag != "" {
		to, err = time.Parse("2006-01-02", *toFlag)
		if err != nil {
			log.Fatalf("invalid -to: %v", err)
		}
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}

	engine := analytics.NewEngine(db)
	started := time.Now()
	computed, err := engine.ComputeRange(context.Background(), from, to)
	if err != nil {
		log.Fatalf("backfill stopped after %d day(s): %v", computed, err)
	}
	log.Printf("backfill complete: %d day(s) in %s", computed, time.Since(started).Round(time.Second))
}
