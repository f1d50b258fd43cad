package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pollpass/internal/config"
	apphttp "pollpass/internal/http"
	"pollpass/internal/live"
	"pollpass/internal/passkey"
	"pollpass/internal/repository"
	"pollpass/internal/repository/sqlite"
	"pollpass/internal/repository/stateless"
	"pollpass/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}
	if cfg.Ceremony.Store == "stateless" && strings.TrimSpace(cfg.Ceremony.Secret) == "" {
		logger.Fatalf("ceremony secret is required for the stateless store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	pollRepo := sqlite.NewPollRepository(db)

	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}
	if err := pollRepo.Init(ctx); err != nil {
		logger.Fatalf("init poll repository: %v", err)
	}

	ceremonies, err := buildCeremonyStore(ctx, cfg, db)
	if err != nil {
		logger.Fatalf("setup ceremony store: %v", err)
	}

	verifier, err := passkey.NewVerifier(passkey.Config{
		RPID:          cfg.WebAuthn.RPID,
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPOrigins:     cfg.WebAuthn.RPOrigins,
		CeremonyTTL:   cfg.WebAuthn.CeremonyTTL,
	})
	if err != nil {
		logger.Fatalf("setup webauthn: %v", err)
	}

	tokenService := service.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authService := service.NewAuthService(userRepo, ceremonies, verifier, tokenService, cfg.WebAuthn.CeremonyTTL, logger)
	pollService := service.NewPollService(pollRepo)
	broadcaster := live.NewBroadcaster()

	go sweepCeremonies(ctx, ceremonies, cfg.WebAuthn.CeremonyTTL, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(authService, tokenService, pollService, broadcaster, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func buildCeremonyStore(ctx context.Context, cfg config.Config, db *sql.DB) (repository.CeremonyStore, error) {
	if cfg.Ceremony.Store == "stateless" {
		return stateless.New([]byte(cfg.Ceremony.Secret))
	}
	store := sqlite.NewCeremonyStore(db)
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// sweepCeremonies drops abandoned ceremony state so a ceremony that never
// finishes does not accumulate forever.
func sweepCeremonies(ctx context.Context, store repository.CeremonyStore, ttl time.Duration, logger *logrus.Logger) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.DeleteExpired(ctx, time.Now()); err != nil {
				logger.Warnf("sweep ceremonies: %v", err)
			}
		}
	}
}
