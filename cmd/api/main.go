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
	"github.com/redis/go-redis/v9"

	"mercaro.shop/internal/config"
	"mercaro.shop/internal/httpapi"
	"mercaro.shop/internal/identity"
	"mercaro.shop/internal/notify"
	"mercaro.shop/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Postgres when a DSN is configured; the in-memory store keeps local
	// development working without one.
	var (
		db    *sql.DB
		store identity.Store
	)
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = identity.NewPGStore(db)
	} else {
		log.Println("no MERCARO_PG_DSN set, using in-memory store")
		store = identity.NewMemStore()
	}

	issuer, err := identity.NewTokenIssuer(cfg.TokenSecret, cfg.AccessTokenTTL)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	opts := []identity.ServiceOption{
		identity.WithDeliverer(notify.LogDeliverer{}),
		identity.WithRefreshTTL(cfg.RefreshTokenTTL),
	}
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		opts = append(opts, identity.WithCache(identity.NewCache(rdb, cfg.CacheTTL)))
	}

	svc, err := identity.NewService(store, issuer, opts...)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}

	api := httpapi.New(svc, issuer, httpapi.ReadyProbe{DB: db}, httpapi.Options{
		Version:               version,
		Production:            cfg.Production(),
		AccessTokenTTL:        cfg.AccessTokenTTL,
		AdminRefreshCookieTTL: cfg.AdminRefreshCookieTTL,
		UserRefreshCookieTTL:  cfg.UserRefreshCookieTTL,
	})

	handler := httpapi.SecurityHeaders(
		httpapi.CORS(
			httpapi.RateLimit(
				httpapi.MaxBodyBytes(api.Handler(), 1<<20),
				20, 10),
			nil))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting mercaro-api %s on %s", version, srv.Addr)

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
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Println("Stopped")
}
