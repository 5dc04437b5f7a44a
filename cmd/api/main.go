package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"lmsportal.org/internal/audit"
	"lmsportal.org/internal/auth"
	"lmsportal.org/internal/httpapi"
	"lmsportal.org/internal/obs"
)

var version = "0.3.0"

func main() {
	obs.Init()

	secret := os.Getenv("LMS_AUTH_SECRET")
	if secret == "" {
		log.Fatal("LMS_AUTH_SECRET is required")
	}
	env := os.Getenv("LMS_ENV")
	if env == "" {
		env = "development"
	}
	addr := os.Getenv("LMS_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	var (
		db    *sql.DB
		store auth.Store
	)
	if dsn := os.Getenv("LMS_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		if env == "production" {
			log.Fatal("LMS_PG_DSN is required in production")
		}
		mem := auth.NewMemoryStore()
		if err := mem.SeedRoles(context.Background()); err != nil {
			log.Fatalf("seed roles: %v", err)
		}
		store = mem
		log.Println("LMS_PG_DSN not set, using in-memory store")
	}

	cfg := httpapi.Config{
		SecureCookies: env == "production",
		SkipCSRF:      os.Getenv("LMS_SKIP_CSRF") == "1",
		SkipRateLimit: os.Getenv("LMS_SKIP_RATE_LIMIT") == "1",
		AllowedOrigin: os.Getenv("LMS_ALLOWED_ORIGIN"),
		Version:       version,
	}
	if env == "production" && (cfg.SkipCSRF || cfg.SkipRateLimit) {
		log.Fatal("CSRF and rate limiting cannot be disabled in production")
	}

	recorder := audit.NewRecorder(store.Audit())
	tokens, err := auth.NewTokenService(store, secret)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	svc := auth.NewService(store, tokens, recorder)
	imp := auth.NewImpersonationManager(store, svc, recorder)

	api := httpapi.New(svc, imp, recorder, httpapi.ReadyProbe{DB: db}, cfg)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting lms-auth %s on %s (%s)", version, srv.Addr, env)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
