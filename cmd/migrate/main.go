package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"crewdesk.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("CREWDESK_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or CREWDESK_PG_DSN")
	}
	if flag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath)
	if err := run(ctx, mgr, flag.Arg(0)); err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func run(ctx context.Context, mgr *migrate.Manager, cmd string) error {
	switch cmd {
	case "up":
		return mgr.Up(ctx)
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("rolled back %s\n", name)
		return nil
	case "seed":
		return mgr.Seed(ctx)
	case "status":
		entries, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			state := "pending"
			if e.Applied {
				state = "applied"
			}
			fmt.Printf("%-9s %s\n", state, e.Name)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
