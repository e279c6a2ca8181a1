package main

import (
	"context"
	"time"

	"github.com/BearBump/FreightDesk/config"
	"github.com/BearBump/FreightDesk/internal/broker/kafka"
	"github.com/BearBump/FreightDesk/internal/broker/messages"
	"github.com/BearBump/FreightDesk/internal/cache/rediscache"
	"github.com/BearBump/FreightDesk/internal/integrations/notifier"
	notifierfake "github.com/BearBump/FreightDesk/internal/integrations/notifier/fake"
	"github.com/BearBump/FreightDesk/internal/integrations/notifier/webhook"
	"github.com/BearBump/FreightDesk/internal/services/relay"
	"github.com/BearBump/FreightDesk/internal/storage/pgfreight"
)

// outboxStore is what the worker needs from storage: the relay queue plus ops probes.
type outboxStore interface {
	relay.Repository
	AuditStats(ctx context.Context) (pgfreight.AuditStats, error)
	Ping(ctx context.Context) error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (store outboxStore, closeFn func(), err error)
	newProducer    func(cfg *config.Config) relay.Producer
	newRateLimiter func(cfg *config.Config) relay.RateLimiter
	newSink        func(cfg *config.Config) notifier.Sink
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (outboxStore, func(), error) {
			st, err := pgfreight.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) relay.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newRateLimiter: func(cfg *config.Config) relay.RateLimiter {
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
		newSink: func(cfg *config.Config) notifier.Sink {
			fd := cfg.FreightDesk
			if fd.NotifierWebhookURL == "" {
				return notifierfake.New()
			}
			return webhook.New(webhook.Config{
				URL:     fd.NotifierWebhookURL,
				Secret:  fd.NotifierWebhookSecret,
				Timeout: time.Duration(fd.NotifierTimeoutSeconds) * time.Second,
			})
		},
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// RunTripWorker relays the audit outbox until ctx is done. The ops HTTP server runs only when
// swaggerPath is set.
func RunTripWorker(ctx context.Context, cfg *config.Config, f workerFactories, swaggerPath string) error {
	fd := cfg.FreightDesk
	topic := cfg.Kafka.TripAuditTopicName
	if topic == "" {
		topic = messages.TopicTripAudit
	}

	store, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	r := relay.New(store, f.newProducer(cfg), f.newSink(cfg), f.newRateLimiter(cfg), topic).
		WithSettings(seconds(fd.WorkerPollIntervalSeconds), fd.WorkerBatchSize, fd.WorkerConcurrency,
			seconds(fd.WorkerLeaseSeconds), int64(fd.WorkerNotifyPerMinute)).
		WithPlanner(relay.PlannerConfig{
			Backoff1:  seconds(fd.WorkerBackoff1Seconds),
			Backoff2:  seconds(fd.WorkerBackoff2Seconds),
			Backoff3:  seconds(fd.WorkerBackoff3Seconds),
			Backoff4:  seconds(fd.WorkerBackoff4Seconds),
			MaxJitter: seconds(fd.WorkerMaxJitterSeconds),
		})

	if swaggerPath == "" {
		return r.Run(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    fd.WorkerHTTPAddr,
			swaggerPath: swaggerPath,
			relay:       r,
			store:       store,
			cfg:         cfg,
		})
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	select {
	case err := <-runErr:
		return err
	case err := <-httpErr:
		cancel()
		<-runErr
		return err
	}
}
