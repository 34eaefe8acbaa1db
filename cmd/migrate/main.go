package main

import (
	"flag"
	"log"
	"os"

	"github.com/shadowlend/shadowlend-backend/internal/config"
	"github.com/shadowlend/shadowlend-backend/internal/repository"
)

var flags = flag.NewFlagSet("migrate", flag.ExitOnError)

func main() {
	flags.Parse(os.Args[1:])
	args := flags.Args()

	if len(args) < 1 {
		log.Fatal("Usage: migrate COMMAND\n\nCommands:\n  up\n  down\n  status\n  version")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Store.PostgresDSN == "" {
		log.Fatal("SHL_POSTGRES_DSN is required")
	}

	db, err := repository.Open(cfg.Store.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := repository.Migrate(db, args[0]); err != nil {
		log.Fatalf("Migration %s failed: %v", args[0], err)
	}
}
