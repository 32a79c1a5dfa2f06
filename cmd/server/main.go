// Command server runs the lending backend HTTP API together with the
// scheduled expiry sweep.
//
//	@title						Lending API
//	@version					1.0
//	@description				Peer-to-peer item lending: requests, offers, messaging and expiry.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	UserID
//	@in							header
//	@name						X-User-ID
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-lending-backend/internal/config"
	httpapi "github.com/tbourn/go-lending-backend/internal/http"
	"github.com/tbourn/go-lending-backend/internal/identity"
	"github.com/tbourn/go-lending-backend/internal/lock"
	"github.com/tbourn/go-lending-backend/internal/observability"
	"github.com/tbourn/go-lending-backend/internal/repo"
	"github.com/tbourn/go-lending-backend/internal/services"
	"github.com/tbourn/go-lending-backend/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.Open(cfg.Store.Driver, cfg.Store.Path, cfg.Store.URL)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	deps := httpapi.Deps{Locker: lock.NewMemory()}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable")
		}
		defer rdb.Close()
		deps.Locker = lock.NewRedis(rdb, cfg.Redis.LockTTL)
		deps.Redis = rdb
	}
	if cfg.Identity.BaseURL != "" {
		deps.Identity = identity.NewClient(identity.Config{
			BaseURL: cfg.Identity.BaseURL,
			Timeout: cfg.Identity.Timeout,
		})
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg, deps)

	sched, err := startScheduler(&services.ExpiryService{DB: db}, cfg.Lending)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler setup failed")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if sched != nil {
		<-sched.Stop().Done()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// startScheduler registers the expiry sweep and the idempotency purge. An
// empty schedule disables both and returns a nil scheduler.
func startScheduler(expiry *services.ExpiryService, lc config.LendingConfig) (*cron.Cron, error) {
	if lc.SweepSchedule == "" {
		log.Info().Msg("expiry sweep disabled")
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(lc.SweepSchedule, func() {
		_ = observability.TraceJob(context.Background(), "sweep", func(ctx context.Context) error {
			res, err := expiry.Sweep(ctx, lc.SweepHours)
			if err != nil {
				return err
			}
			log.Ctx(ctx).Info().Int("expired", res.Expired).Msg(res.Message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	_, err = c.AddFunc("@hourly", func() {
		_ = observability.TraceJob(context.Background(), "purge-idempotency", func(ctx context.Context) error {
			n, err := expiry.PurgeIdempotency(ctx)
			if err != nil {
				return err
			}
			log.Ctx(ctx).Debug().Int64("purged", n).Msg("idempotency records purged")
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	log.Info().Str("schedule", lc.SweepSchedule).Int("hours", lc.SweepHours).Msg("expiry sweep scheduled")
	return c, nil
}
