package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridehail/internal/config"
	"ridehail/internal/events"
	httptransport "ridehail/internal/http"
	"ridehail/internal/infra"
	"ridehail/internal/logger"
	"ridehail/internal/metrics"
	"ridehail/internal/modules/account"
	"ridehail/internal/modules/captain"
	"ridehail/internal/modules/dispatch"
	"ridehail/internal/modules/ride"
	"ridehail/internal/modules/waitreg"
)

type app struct {
	Router *gin.Engine

	db     *pgxpool.Pool
	redis  *redis.Client
	events events.Publisher
}

// buildApp picks Postgres, Redis and RabbitMQ when configured and the
// in-process implementations otherwise.
func buildApp(ctx context.Context, cfg config.Config, log logger.Logger) (*app, error) {
	a := &app{events: events.Nop()}
	policy, err := waitreg.ParsePolicy(cfg.Dispatch.WaitPolicy)
	if err != nil {
		return nil, err
	}

	var rides ride.Store = ride.NewMemoryStore()
	var accounts account.Store = account.NewMemoryStore()
	if cfg.DB.DSN != "" {
		if a.db, err = infra.NewDB(ctx, cfg.DB.DSN); err != nil {
			return nil, err
		}
		rides = ride.NewPostgresStore(a.db)
		accounts = account.NewPostgresStore(a.db)
	} else {
		log.Warn("RIDEHAIL_DB_DSN not set; rides and accounts are kept in memory")
	}

	var captains captain.Store = captain.NewMemoryStore()
	var revoked account.RevocationList = account.NewMemoryRevocationList()
	if cfg.Redis.Addr != "" {
		if a.redis, err = infra.NewRedis(ctx, cfg.Redis.Addr); err != nil {
			a.Close()
			return nil, err
		}
		captains = captain.NewRedisStore(a.redis)
		revoked = account.NewRedisRevocationList(a.redis)
	}

	if cfg.RabbitMQ.URL != "" {
		pub, err := events.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log.With("component", "events"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.events = pub
	}

	jwtAuth := infra.NewJWTAuth(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	var verifier infra.TokenVerifier = jwtAuth
	if cfg.Auth.Provider == "firebase" {
		fb, err := infra.NewFirebaseVerifier(ctx, cfg.Auth.Firebase.ProjectID, cfg.Auth.Firebase.CredentialsFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("firebase init: %w", err)
		}
		verifier = infra.FirstOf(jwtAuth, fb)
	}

	collector := metrics.NewCollector()
	engine := dispatch.NewEngine(dispatch.Deps{
		Rides:       rides,
		Captains:    captains,
		Drivers:     waitreg.New[*ride.Ride](policy),
		Riders:      waitreg.New[*ride.Ride](policy),
		Events:      a.events,
		Metrics:     collector,
		Log:         log.With("component", "dispatch"),
		PollTimeout: cfg.Dispatch.PollTimeout,
	})

	a.Router = httptransport.NewRouter(httptransport.RouterDeps{
		Engine:   engine,
		Accounts: account.NewService(accounts, jwtAuth, revoked, log.With("component", "accounts")),
		Verifier: verifier,
		Revoked:  revoked,
		Metrics:  collector,
		Log:      log.With("component", "http"),
	})
	return a, nil
}

func (a *app) Close() {
	if a.events != nil {
		_ = a.events.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
