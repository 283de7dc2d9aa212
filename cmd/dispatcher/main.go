package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/embermail/dispatch/internal/config"
	"github.com/embermail/dispatch/internal/dispatch"
	"github.com/embermail/dispatch/internal/provider"
	"github.com/embermail/dispatch/internal/store"
	"github.com/embermail/dispatch/internal/throttle"
	"github.com/embermail/dispatch/internal/tracking"
)

// The dispatcher is a one-shot process: it drains one batch and exits. A
// scheduler (cron, ECS scheduled task) provides the cadence.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log.Println("Starting dispatcher...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	var burst *throttle.Throttle
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		burst, err = throttle.NewFromURL(cfg.Redis.URL, throttle.DefaultSESLimits)
		if err != nil {
			log.Printf("Burst throttle unavailable, continuing without it: %v", err)
			burst = nil
		}
	}

	factory := &provider.DefaultFactory{
		Fallback: provider.SESCredentials{
			AccessKey: cfg.SES.AccessKey,
			SecretKey: cfg.SES.SecretKey,
			Region:    cfg.SES.Region,
		},
		SESEndpoint: cfg.SES.Endpoint,
		Timeout:     cfg.SES.Timeout(),
	}
	injector := tracking.NewInjector(cfg.Tracking.SigningSecret, cfg.Tracking.BaseURL)

	engine := dispatch.NewEngine(store.NewPostgres(db), factory, injector, dispatch.Options{
		BatchLimit:  cfg.Dispatch.BatchLimit,
		Workers:     cfg.Dispatch.Workers,
		SendTimeout: cfg.Dispatch.Timeout(),
		Throttle:    burst,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("Signal received, cancelling invocation...")
		cancel()
	}()

	start := time.Now()
	summary, err := engine.RunOnce(ctx)
	if err != nil {
		log.Fatalf("Dispatch failed: %v", err)
	}
	log.Printf("Dispatch complete in %s: fetched=%d sent=%d failed=%d deferred=%d",
		time.Since(start).Round(time.Millisecond),
		summary.Fetched, summary.Sent, summary.Failed, summary.Deferred)
}
