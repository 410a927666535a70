package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/TrackPool/config"
	"github.com/BearBump/TrackPool/internal/api/auth"
	"github.com/BearBump/TrackPool/internal/api/poolapi"
	"github.com/BearBump/TrackPool/internal/broker/kafka"
	"github.com/BearBump/TrackPool/internal/cache/rediscache"
	"github.com/BearBump/TrackPool/internal/logging"
	"github.com/BearBump/TrackPool/internal/services/allocation"
	"github.com/BearBump/TrackPool/internal/services/labels"
	"github.com/BearBump/TrackPool/internal/storage/pgpool"
	"github.com/cenkalti/backoff/v4"
)

type poolAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    poolAPIOpts
	handler *poolapi.Handler
	closers []func() error
}

func mustBootstrapPoolAPI() *poolAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	logging.Setup(os.Stdout, cfg.TrackPool.LogLevel, "pool-api")

	httpAddr := cfg.TrackPool.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.AllocationEventsTopicName
	if topic == "" {
		topic = "trackpool.allocation"
	}
	statsTTL := time.Duration(cfg.TrackPool.StatsCacheTTLSeconds) * time.Second
	if statsTTL <= 0 {
		statsTTL = 30 * time.Second
	}
	labelsPerMin := int64(cfg.TrackPool.LabelRateLimitPerMinute)
	if labelsPerMin <= 0 {
		labelsPerMin = 30
	}
	if cfg.Auth.JWTSecret == "" {
		panic("auth.jwt_secret is required")
	}

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)

	rc := rediscache.New(cfg.Redis.Addr())
	rl := rc.RateLimiter()
	producer := kafka.NewProducer(cfg.Kafka.Brokers())

	alloc := allocation.New(st, rc, statsTTL).
		WithEvents(producer, topic).
		WithMaxBatch(cfg.TrackPool.MaxIngestBatch)
	lbl := labels.New(alloc, st, rl, labelsPerMin)
	authn := auth.New(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, st, poolapi.WriteError)
	h := poolapi.New(alloc, lbl, st, authn).WithMaxUploadBytes(cfg.TrackPool.MaxUploadBytes)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &poolAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: poolAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
			checks: []readinessCheck{
				{name: "postgres", critical: true, check: st.Ping},
				{name: "redis", check: rc.Ping},
			},
		},
		handler: h,
		closers: []func() error{
			producer.Close,
			rc.Close,
			func() error { st.Close(); return nil },
		},
	}
}

// mustOpenPostgresWithRetry ждёт postgres при старте docker compose.
func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgpool.Storage {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = wait

	st, err := backoff.RetryNotifyWithData(func() (*pgpool.Storage, error) {
		return pgpool.New(connString)
	}, b, func(err error, next time.Duration) {
		slog.Warn("postgres is not ready", "retry_in", next.String(), "error", err.Error())
	})
	if err != nil {
		panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, err))
	}
	return st
}

func (a *poolAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("close", "error", err.Error())
		}
	}
}

func (a *poolAPIApp) Run() error {
	return runPoolAPI(a.ctx, a.opts, a.handler)
}
