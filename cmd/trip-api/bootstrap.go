package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/FreightDesk/config"
	tripsapi "github.com/BearBump/FreightDesk/internal/api/trips_api"
	"github.com/BearBump/FreightDesk/internal/broker/kafka"
	"github.com/BearBump/FreightDesk/internal/broker/messages"
	"github.com/BearBump/FreightDesk/internal/cache/rediscache"
	"github.com/BearBump/FreightDesk/internal/integrations/notifier"
	notifierfake "github.com/BearBump/FreightDesk/internal/integrations/notifier/fake"
	"github.com/BearBump/FreightDesk/internal/integrations/notifier/webhook"
	"github.com/BearBump/FreightDesk/internal/metrics"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/BearBump/FreightDesk/internal/services/audit"
	"github.com/BearBump/FreightDesk/internal/services/availability"
	"github.com/BearBump/FreightDesk/internal/services/classification"
	"github.com/BearBump/FreightDesk/internal/services/orchestrator"
	"github.com/BearBump/FreightDesk/internal/services/trips"
	"github.com/BearBump/FreightDesk/internal/storage/pgfreight"
)

type tripAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     tripAPIOpts
	api      *tripsapi.TripsAPI
	svc      *trips.Service
	consumer *kafka.Consumer
	closers  []func()
}

func mustBootstrapTripAPI() *tripAPIApp {
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
		panic(fmt.Sprintf("config: %v", err))
	}
	fd := cfg.FreightDesk

	httpAddr := fd.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := fd.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "trip-api"
	}
	topic := cfg.Kafka.WaybillStatusTopicName
	if topic == "" {
		topic = messages.TopicWaybillStatus
	}
	draftTTL := time.Duration(fd.DraftCacheTTLSeconds) * time.Second
	if draftTTL <= 0 {
		draftTTL = 10 * time.Minute
	}
	createPerMin := int64(fd.CreateTripRateLimitPerMinute)
	if createPerMin <= 0 {
		createPerMin = 60
	}

	rules, err := classification.LoadRuleset(fd.ClassificationRulesPath)
	if err != nil {
		panic(fmt.Sprintf("classification rules: %v", err))
	}

	metrics.Register()

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
	rc := rediscache.New(cfg.Redis.Addr())
	rl := rediscache.NewRateLimiter(cfg.Redis.Addr())

	auditLog := audit.New(st)
	avail := availability.New(st)
	engine := classification.NewEngine(rules)
	orch := orchestrator.New(st, avail, engine, auditLog, orchestrator.Config{
		BillableServiceTypes: fd.BillableServiceTypes,
		Currency:             fd.Currency,
		TaxTransferRate:      fd.TaxTransferRate,
		TaxWithholdingRate:   fd.TaxWithholdingRate,
	})
	svc := trips.New(st, rc, auditLog, draftTTL)

	api := tripsapi.New(tripsapi.Deps{
		Orchestrator: orch,
		Trips:        svc,
		Availability: avail,
		Classifier:   engine,
		Cache:        rc,
		Limiter:      rl,
		Sink:         newSink(cfg),
		Emitter: models.FiscalParty{
			TaxID:      fd.Emitter.TaxID,
			Name:       fd.Emitter.Name,
			TaxRegime:  fd.Emitter.TaxRegime,
			PostalCode: fd.Emitter.PostalCode,
		},
		IdempotencyTTL:       time.Duration(fd.IdempotencyTTLSeconds) * time.Second,
		CreateTripsPerMinute: createPerMin,
	})

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers(), topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &tripAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: tripAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		api:      api,
		svc:      svc,
		consumer: consumer,
		closers: []func(){
			st.Close,
			func() { _ = rc.Close() },
			func() { _ = rl.Close() },
		},
	}
}

// newSink picks the webhook notifier when a URL is configured, otherwise notifications are only logged.
func newSink(cfg *config.Config) notifier.Sink {
	fd := cfg.FreightDesk
	if fd.NotifierWebhookURL == "" {
		return notifierfake.New()
	}
	return webhook.New(webhook.Config{
		URL:     fd.NotifierWebhookURL,
		Secret:  fd.NotifierWebhookSecret,
		Timeout: time.Duration(fd.NotifierTimeoutSeconds) * time.Second,
	})
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgfreight.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgfreight.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *tripAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	for _, c := range a.closers {
		c()
	}
}

func (a *tripAPIApp) Run() error {
	return runTripAPI(a.ctx, a.opts, a.api, a.svc, a.consumer)
}
