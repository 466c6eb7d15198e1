package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"doorstepauto/storefront/internal/config"
	"doorstepauto/storefront/internal/gateway"
	"doorstepauto/storefront/internal/httpapi"
	"doorstepauto/storefront/internal/router"
	"doorstepauto/storefront/internal/session"
	"doorstepauto/storefront/internal/state"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	if cfg.MainBackendURL == "" {
		log.Fatalf("MAIN_BACKEND_URL must be set; the catalog cannot load without it")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	storage, closers := openSessionStorage(ctx, cfg)

	hub := httpapi.NewHub(cfg.AllowedOrigin)
	go hub.Run()

	gw := gateway.New(cfg.MainBackendURL, cfg.UserDataBackendURL, func(active bool, message string) {
		if active {
			log.Printf("[busy] %s", message)
		}
	})

	store := state.New(storage)

	// Homepage and core catalog load concurrently; only the core catalog is
	// critical. The homepage degrades to empty sections on failure.
	var wg sync.WaitGroup
	var coreErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		homepage, err := gw.FetchHomepageData(ctx)
		if err != nil {
			log.Printf("WARN: homepage data unavailable: %v", err)
			return
		}
		store.SetHomepage(homepage)
	}()
	go func() {
		defer wg.Done()
		core, err := gw.FetchCoreData(ctx)
		if err != nil {
			coreErr = err
			return
		}
		store.SetServices(core.Services)
		store.SetCarDatabase(core.CarData)
	}()
	wg.Wait()
	if coreErr != nil {
		log.Fatalf("core catalog unavailable, refusing to start: %v", coreErr)
	}

	// Some backend deployments ship the car database as its own sheet
	// rather than inside the core payload.
	if len(store.CarDatabase()) == 0 {
		brands, err := gw.FetchCarDatabase(ctx)
		if err != nil {
			log.Printf("WARN: car database unavailable: %v", err)
		} else {
			store.SetCarDatabase(brands)
		}
	}

	store.Restore(ctx)

	// Reviews are deliberately off the critical path: they arrive whenever
	// they arrive and the views refresh then.
	go func() {
		reviews := gw.FetchReviews(context.Background())
		if len(reviews) == 0 {
			return
		}
		store.SetReviews(reviews)
		hub.Broadcast(httpapi.RenderEvent{Scope: "reviews"})
	}()

	nav := router.New(store, func(res router.Resolution) {
		hub.Broadcast(httpapi.RenderEvent{Scope: "page", Page: string(res.Page)})
	})
	nav.Navigate(context.Background(), "/")

	auth := httpapi.NewAuthManager(
		cfg.AuthSecret,
		time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute,
		time.Duration(cfg.OTPTTLSeconds)*time.Second,
	)
	api := httpapi.New(store, gw, nav, auth, hub, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("storefront listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// openSessionStorage picks the durable session backend. Postgres is
// all-or-nothing when explicitly configured; redis falls back to the file
// backend; the file backend falls back to memory only if the directory is
// unusable.
func openSessionStorage(ctx context.Context, cfg config.Config) (session.Storage, []func() error) {
	closers := make([]func() error, 0, 1)

	switch cfg.SessionDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			log.Fatalf("SESSION_DRIVER=postgres requires DATABASE_URL")
		}
		pg, err := session.NewPostgresStorage(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and SESSION_DRIVER=postgres is set; refusing to start with a fallback", err)
		}
		closers = append(closers, pg.Close)
		log.Println("session storage: postgres")
		return pg, closers

	case "redis":
		rs := session.NewRedisStorage(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rs.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using file storage", err)
			return fileOrMemoryStorage(cfg.SessionDir), closers
		}
		closers = append(closers, rs.Close)
		log.Println("session storage: redis")
		return rs, closers

	case "memory":
		log.Println("session storage: in-memory")
		return session.NewMemoryStorage(), closers

	default:
		return fileOrMemoryStorage(cfg.SessionDir), closers
	}
}

func fileOrMemoryStorage(dir string) session.Storage {
	fs, err := session.NewFileStorage(dir)
	if err != nil {
		log.Printf("file storage unusable (%v), sessions will not survive restarts", err)
		return session.NewMemoryStorage()
	}
	log.Printf("session storage: file (%s)", dir)
	return fs
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
