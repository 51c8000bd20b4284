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

	"kengash.org/internal/auth"
	"kengash.org/internal/engagement"
	"kengash.org/internal/httpapi"
	"kengash.org/internal/notify"
	"kengash.org/internal/obs"
	"kengash.org/internal/store/pg"
	"kengash.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Postgres when a DSN is configured, in-memory otherwise (dev mode).
	var (
		db              *sql.DB
		engagementStore engagement.Store
		notifyStore     notify.Store
	)
	if dsn := os.Getenv("KENGASH_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = store.DB()
		engagementStore = store
		notifyStore = store
	} else {
		log.Println("KENGASH_PG_DSN not set, using in-memory stores")
		engagementStore = engagement.NewInMemory()
		notifyStore = notify.NewInMemory()
	}
	if !auth.SupportsTokens() {
		log.Println("KENGASH_AUTH_SECRET not set, every request runs as the development admin")
	}

	notifications := notify.NewService(notifyStore)
	engagements := engagement.NewService(engagementStore, notifications)
	statusStream := stream.New()

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, engagements, notifications, statusStream)

	addr := os.Getenv("KENGASH_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting kengash-api %s on %s", version, srv.Addr)

	// graceful shutdown
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
