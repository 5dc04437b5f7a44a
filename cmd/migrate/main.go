package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"lmsportal.org/internal/auth"
	"lmsportal.org/internal/migrate"
	"lmsportal.org/migrations"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: migrate <command>

commands:
  up      apply all pending migrations
  down    roll back the most recent migration
  status  list applied migrations
  seed    apply seed files and the built-in role/permission matrix`)
	os.Exit(2)
}

func main() {
	if len(os.Args) != 2 {
		usage()
	}
	cmd := os.Args[1]

	dsn := os.Getenv("LMS_PG_DSN")
	if dsn == "" {
		log.Fatal("LMS_PG_DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrations.FS, migrations.SQLDir, migrations.SeedsDir)
	ctx := context.Background()

	switch cmd {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			log.Fatalf("up: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := mgr.Down(ctx); err != nil {
			log.Fatalf("down: %v", err)
		}
		log.Println("rolled back one migration")
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		if len(applied) == 0 {
			log.Println("no migrations applied")
			return
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	case "seed":
		if err := mgr.Seed(ctx); err != nil {
			log.Fatalf("seed: %v", err)
		}
		// The role/permission matrix lives in code; push it into storage so
		// the resolver and the seeded rows agree.
		store := auth.NewPGStore(db)
		for key, perms := range auth.DefaultRolePermissions {
			if err := store.Roles().Ensure(ctx, auth.Role{Key: key}, perms); err != nil {
				log.Fatalf("seed role %s: %v", key, err)
			}
		}
		if err := store.Roles().Ensure(ctx, auth.Role{Key: auth.RoleAdmin}, nil); err != nil {
			log.Fatalf("seed role %s: %v", auth.RoleAdmin, err)
		}
		log.Println("seeds applied")
	default:
		usage()
	}
}
