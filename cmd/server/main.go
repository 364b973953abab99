package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"posbackoffice/backend/internal/cache"
	"posbackoffice/backend/internal/config"
	"posbackoffice/backend/internal/httpapi"
	"posbackoffice/backend/internal/metrics"
	"posbackoffice/backend/internal/service"
	"posbackoffice/backend/internal/store"
	"posbackoffice/backend/internal/store/memory"
	pgstore "posbackoffice/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	saleCache, closeCache := cache.ConnectSaleCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	closers = append(closers, closeCache)

	var recorder *metrics.Recorder
	if cfg.MetricsEnabled {
		recorder = metrics.New()
	}

	svc := service.New(repo, saleCache, recorder, service.Options{
		SaleCacheTTL: cfg.SaleCacheTTL(),
		VoidMinLevel: cfg.VoidMinLevel,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, recorder, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS back office listening on %s (void level %d)", cfg.Address(), cfg.VoidMinLevel)
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

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if err := validateSecretStrength(cfg.AuthSecret); err != nil {
		return fmt.Errorf("AUTH_SECRET is too weak: %w", err)
	}
	if cfg.VoidMinLevel < 1 {
		return fmt.Errorf("VOID_MIN_LEVEL must be at least 1")
	}
	return nil
}

// validateSecretStrength rejects placeholder secrets and secrets made of a
// single repeated character.
func validateSecretStrength(secret string) error {
	lower := strings.ToLower(secret)
	for _, placeholder := range []string{"change-me", "changeme", "secret", "password"} {
		if strings.Contains(lower, placeholder) {
			return fmt.Errorf("placeholder value %q not allowed", placeholder)
		}
	}

	allSame := true
	for i := 1; i < len(secret); i++ {
		if secret[i] != secret[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("single repeated character not allowed")
	}
	return nil
}
