package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/TrackPool/config"
	"github.com/BearBump/TrackPool/internal/broker/kafka"
	"github.com/BearBump/TrackPool/internal/broker/messages"
	"github.com/BearBump/TrackPool/internal/services/reconciler"
	"github.com/BearBump/TrackPool/internal/storage/pgpool"
)

type eventConsumer interface {
	Consume(ctx context.Context, handler kafka.EventHandler) error
	Close() error
}

type workerFactories struct {
	newStorage  func(cfg *config.Config) (repo reconciler.Repository, closeFn func(), err error)
	newConsumer func(cfg *config.Config, topic, group string) eventConsumer
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (reconciler.Repository, func(), error) {
			st, err := pgpool.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newConsumer: func(cfg *config.Config, topic, group string) eventConsumer {
			return kafka.NewConsumer(cfg.Kafka.Brokers(), topic, group)
		},
	}
}

type workerRunOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)
}

func RunPoolWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerRunOpts) error {
	topic := cfg.Kafka.AllocationEventsTopicName
	if topic == "" {
		topic = "trackpool.allocation"
	}
	group := cfg.TrackPool.WorkerKafkaConsumerGroup
	if group == "" {
		group = "pool-worker"
	}
	interval := time.Duration(cfg.TrackPool.WorkerReconcileIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	rec := reconciler.New(repo).WithSettings(interval)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpOpts := workerHTTPOpts{
		httpAddr:    opts.httpAddr,
		swaggerPath: opts.swaggerPath,
		onListen:    opts.onListen,
		reconciler:  rec,
		cfg:         cfg,
	}
	if p, ok := repo.(interface{ Ping(ctx context.Context) error }); ok {
		httpOpts.ping = p.Ping
	}

	if f.newConsumer != nil {
		consumer := f.newConsumer(cfg, topic, group)
		if sk, ok := consumer.(interface{ Skipped() int64 }); ok {
			httpOpts.skipped = sk.Skipped
		}
		defer func() { _ = consumer.Close() }()
		go func() {
			slog.Info("kafka consumer started", "topic", topic, "group", group)
			err := consumer.Consume(ctx, allocationEventHandler(rec))
			if err != nil && ctx.Err() == nil {
				slog.Error("kafka consumer stopped", "error", err.Error())
			}
		}()
	}

	if opts.swaggerPath != "" {
		httpErr := make(chan error, 1)
		go func() {
			httpErr <- runWorkerHTTPServer(ctx, httpOpts)
		}()
		go func() {
			if err := <-httpErr; err != nil && ctx.Err() == nil {
				slog.Error("worker http server stopped", "error", err.Error())
				cancel()
			}
		}()
	}

	return rec.Run(ctx)
}

// allocationEventHandler не возвращает ошибку: сверка идемпотентна,
// а ошибка из хендлера остановила бы консьюмер.
func allocationEventHandler(rec *reconciler.Reconciler) kafka.EventHandler {
	return func(ctx context.Context, ev messages.AllocationEvent) error {
		if err := rec.HandleEvent(ctx, ev); err != nil {
			slog.Warn("skip allocation event", "action", ev.Action, "error", err.Error())
			return nil
		}
		slog.Debug("allocation event", "action", ev.Action, "target_user", ev.TargetUserID, "count", ev.Count)
		return nil
	}
}
