package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crewdesk.org/internal/auth"
	"crewdesk.org/internal/authz"
	"crewdesk.org/internal/httpapi"
	"crewdesk.org/internal/obs"
	"crewdesk.org/internal/store/pg"
	"crewdesk.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("CREWDESK_AUTH_SECRET")
	if len(secret) < auth.MinSecretLength {
		log.Fatalf("CREWDESK_AUTH_SECRET must be at least %d bytes", auth.MinSecretLength)
	}
	dsn := os.Getenv("CREWDESK_PG_DSN")
	if dsn == "" {
		log.Fatal("CREWDESK_PG_DSN is required")
	}
	addr := os.Getenv("CREWDESK_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()
	db := store.DB()

	codec, err := auth.NewCodec([]byte(secret))
	if err != nil {
		log.Fatalf("auth codec: %v", err)
	}

	var managerOpts []auth.ManagerOption
	if ttl := durationEnv("CREWDESK_ACCESS_TTL"); ttl > 0 {
		managerOpts = append(managerOpts, auth.WithAccessTTL(ttl))
	}
	if ttl := durationEnv("CREWDESK_REFRESH_TTL"); ttl > 0 {
		managerOpts = append(managerOpts, auth.WithRefreshTTL(ttl))
	}

	users := auth.NewPGUserStore(db)
	tokens := auth.NewPGRefreshTokenStore(db)
	manager, err := auth.NewManager(codec, users, tokens, managerOpts...)
	if err != nil {
		log.Fatalf("auth manager: %v", err)
	}

	engine, err := authz.NewEngine(authz.NewPGFactProvider(db))
	if err != nil {
		log.Fatalf("authz engine: %v", err)
	}

	api, err := httpapi.New(httpapi.Config{
		Codec:      codec,
		Manager:    manager,
		Users:      users,
		Engine:     engine,
		Store:      store,
		Stream:     stream.New(),
		ReadyProbe: httpapi.ReadyProbe{DB: db},
		Version:    version,
	})
	if err != nil {
		log.Fatalf("httpapi: %v", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting crewdesk-api %s on %s", version, srv.Addr)

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
	log.Println("Stopped")
}

func durationEnv(name string) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return d
}
