package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"villaops.org/internal/migrate"
	"villaops.org/internal/obs"
	pgstore "villaops.org/internal/store/pg"
)

func main() {
	logger := obs.Logger()
	var (
		dsn     = flag.String("dsn", os.Getenv("VILLAOPS_PG_DSN"), "PostgreSQL DSN")
		timeout = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	if *dsn == "" {
		logger.Error("missing DSN: provide via -dsn or VILLAOPS_PG_DSN")
		os.Exit(2)
	}
	cmd := flag.Arg(0)
	if cmd == "" {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|seed|status]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pgstore.Open(*dsn)
	if err != nil {
		logger.Error("open db", "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), pgstore.Migrations(), pgstore.Seeds())

	switch cmd {
	case "up":
		var n int
		n, err = mgr.Up(ctx)
		logger.Info("migrations applied", "count", n)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if name != "" {
			logger.Info("migration rolled back", "name", name)
		}
	case "seed":
		var n int
		n, err = mgr.Seed(ctx)
		logger.Info("seeds applied", "count", n)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		logger.Error("unknown command", "command", cmd)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migrate failed", "command", cmd, "error", err.Error())
		os.Exit(1)
	}
}
