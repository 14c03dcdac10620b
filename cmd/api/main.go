package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"lcreports.org/internal/auth"
	"lcreports.org/internal/config"
	"lcreports.org/internal/httpapi"
	"lcreports.org/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("LCREPORTS_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not up yet; stderr is all we have.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := auth.OpenPG(cfg.DB.DSN)
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer store.Close()

	tokens, err := auth.NewTokenIssuer(cfg.Auth.SigningKey, cfg.Auth.Algorithm,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
	)
	if err != nil {
		log.Fatal("token issuer", zap.Error(err))
	}

	limiter := auth.NewAttemptLimiter(cfg.RateLimit.MaxCalls, cfg.RateLimit.TimeFrame,
		auth.WithCleanupInterval(cfg.RateLimit.CleanupInterval))

	svc, err := auth.NewService(store, tokens,
		auth.WithAttemptLimiter(limiter),
		auth.WithLogger(log),
		auth.WithLockoutPolicy(cfg.Auth.MaxFailedLogins, cfg.Auth.LockoutDuration),
	)
	if err != nil {
		log.Fatal("auth service", zap.Error(err))
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: store.DB()}, httpapi.Options{
		Version:       version,
		Log:           log,
		CORSOrigins:   cfg.Server.CORSOrigins,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		RatePerSecond: cfg.Server.HTTPRatePerSecond,
		RateBurst:     cfg.Server.HTTPRateBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	log.Info("starting lcreports auth api",
		zap.String("addr", srv.Addr), zap.String("version", version))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("stopped")
}
