// Command brmd runs the Business Rule Management core engine: the
// Operations API HTTP server and the background Scheduler tick loop.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/r3e-labs/brm-core/internal/engine"
	"github.com/r3e-labs/brm-core/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (overrides CONFIG_FILE)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env)")
	flag.Parse()

	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		if err := os.Setenv("CONFIG_FILE", trimmed); err != nil {
			log.Fatalf("set CONFIG_FILE: %v", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if trimmed := strings.TrimSpace(*dsn); trimmed != "" {
		cfg.Database.DSN = trimmed
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	configurePool(db, cfg)

	eng, err := engine.New(cfg, db)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	rootCtx := context.Background()
	if err := eng.Start(rootCtx); err != nil {
		log.Fatalf("start engine: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if err := eng.Close(); err != nil {
		log.Printf("close database: %v", err)
	}
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}
