package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/elkhoreby/shop-api/internal/apperr"
	"github.com/elkhoreby/shop-api/internal/config"
	"github.com/elkhoreby/shop-api/internal/db"
	"github.com/elkhoreby/shop-api/internal/es"
	"github.com/elkhoreby/shop-api/internal/handlers"
	"github.com/elkhoreby/shop-api/internal/logging"
	"github.com/elkhoreby/shop-api/internal/mailer"
	authmw "github.com/elkhoreby/shop-api/internal/middleware/auth"
	"github.com/elkhoreby/shop-api/internal/middleware/csrf"
	loggingmw "github.com/elkhoreby/shop-api/internal/middleware/logging"
	"github.com/elkhoreby/shop-api/internal/mykafka"
	"github.com/elkhoreby/shop-api/internal/repo"
	"github.com/elkhoreby/shop-api/internal/service"
	"github.com/elkhoreby/shop-api/internal/tokens"
	httpserver "github.com/elkhoreby/shop-api/internal/transport/http"
)

func main() {
	cfg := config.Load()
	config.MustNonEmpty(cfg.DatabaseURL, "DATABASE_URL")
	config.MustNonEmptyBytes(cfg.JWTAccessSecret, "JWT_SECRET")
	config.MustNonEmptyBytes(cfg.JWTRefreshSecret, "JWT_REFRESH_SECRET")

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	gdb, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database init: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	prod := mykafka.NewProducer(cfg.KafkaBrokers)

	esClient, err := es.NewClient(cfg)
	if err != nil {
		log.Fatalf("elasticsearch init: %v", err)
	}

	issuer := &tokens.Issuer{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
	}

	r := repo.New(gdb)
	authSvc := &service.AuthService{
		Repo:   r,
		Issuer: issuer,
		Mailer: &mailer.SMTP{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.EmailFrom,
		},
		Producer:   prod,
		BcryptCost: cfg.BcryptCost,
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID(), loggingmw.RequestLogger(logger))
	if cfg.CSRFEnabled {
		e.Use(csrf.Middleware(csrf.Config{
			Secure: cfg.Production(),
			SkipPaths: []string{
				"/api/v1/users/signup",
				"/api/v1/users/login",
			},
		}))
	}

	h := httpserver.Handlers{
		Auth:    &handlers.AuthHandler{Svc: authSvc, CookieSecure: cfg.Production()},
		User:    &handlers.UserHandler{Repo: r},
		Product: &handlers.ProductHandler{DB: gdb, Producer: prod},
		Cart:    &handlers.CartHandler{DB: gdb},
		Order:   &handlers.OrderHandler{DB: gdb, Producer: prod},
		Review:  &handlers.ReviewHandler{DB: gdb},
		Search:  handlers.NewSearchHandler(esClient, cfg.ESIndex),
		Health:  &handlers.HealthHandler{DB: gdb},
	}
	httpserver.Register(e, h, authmw.NewGate(r, issuer))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if sqlDB, err := gdb.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Error("db close error", "error", err)
		}
	}

	if err := prod.Close(); err != nil {
		logger.Error("kafka close error", "error", err)
	}

	logger.Info("shutdown complete")
}
