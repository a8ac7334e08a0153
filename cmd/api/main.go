package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ovaphlow/pitchfork/service-member/internal/auth"
	"github.com/ovaphlow/pitchfork/service-member/internal/member"
	"github.com/ovaphlow/pitchfork/service-member/internal/member/repo"
	"github.com/ovaphlow/pitchfork/service-member/internal/phone"
	"github.com/ovaphlow/pitchfork/service-member/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-member/internal/router"
	"github.com/ovaphlow/pitchfork/service-member/pkg/database"
	"github.com/ovaphlow/pitchfork/service-member/pkg/utilities"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting service-member", "version", Version)

	authCfg := auth.ConfigFromEnv()
	if err := authCfg.Validate(); err != nil {
		sugar.Fatalf("auth config: %v", err)
	}
	if authCfg.GeneratedSecret {
		sugar.Warn("JWT_SECRET is not set; using a random secret, tokens will not survive a restart")
	}
	routerCfg := router.ConfigFromEnv()
	if len(authCfg.PublicPaths) == 0 {
		authCfg.PublicPaths = auth.DefaultPublicPaths(routerCfg.Prefix)
	}

	// init db
	db, err := database.Open(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	members := repo.NewMemberRepo(db)
	phones := phone.New(phone.ConfigFromEnv(), sugar)

	reg := prometheus.DefaultRegisterer
	authMetrics, err := auth.NewMetrics(reg)
	if err != nil {
		sugar.Fatalf("auth metrics: %v", err)
	}
	httpMetrics, err := router.NewHTTPMetrics(router.HTTPMetricsOptions{Registerer: reg})
	if err != nil {
		sugar.Fatalf("http metrics: %v", err)
	}

	authSvc := auth.NewService(members, auth.BcryptHasher{Cost: 12}, phones, sugar, authMetrics)
	tokens := auth.NewTokenService(authCfg, authSvc)
	gate := auth.NewGate(tokens, authSvc, authCfg.Cookies(), authCfg.PublicPaths, sugar, authMetrics)

	// optional rate limiting
	var limiter *ratelimit.Limiter
	var rdb *redis.Client
	if rlCfg := ratelimit.ConfigFromEnv(); rlCfg.Enabled() {
		rdb, err = ratelimit.NewClient(ctx, rlCfg)
		if err != nil {
			sugar.Warnf("rate limiting disabled: %v", err)
		} else {
			limiter = ratelimit.New(rdb, rlCfg)
			sugar.Infow("rate limiting enabled", "limit", rlCfg.Limit, "window", rlCfg.Window)
		}
	}

	handler := router.RegisterRoutes(routerCfg, router.Deps{
		Logger:   sugar,
		Gate:     gate,
		Auth:     auth.NewHandler(authSvc, gate, sugar),
		Members:  member.NewHandler(member.NewService(members, phones, sugar), sugar),
		Limiter:  limiter,
		Metrics:  httpMetrics,
		Gatherer: prometheus.DefaultGatherer,
		Version:  Version,
	})
	srv := &http.Server{
		Addr:              routerCfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		sugar.Infow("http server listening", "addr", routerCfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for in-flight requests
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			sugar.Warnf("redis close failed: %v", err)
		}
	}

	sugar.Info("goodbye")
}
