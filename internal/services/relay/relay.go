// Package relay publishes the audit outbox to Kafka. Rows are claimed with a lease so several workers
// can run side by side; a failed publish is retried on the planner's backoff schedule.
// Accounts are published concurrently, but one account's events go out one at a time in outbox order.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FreightDesk/internal/broker/messages"
	"github.com/BearBump/FreightDesk/internal/integrations/notifier"
	"github.com/BearBump/FreightDesk/internal/metrics"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	ClaimDueAuditEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]models.PendingAuditEvent, error)
	MarkAuditPublished(ctx context.Context, id string, at time.Time) error
	MarkAuditFailed(ctx context.Context, id, lastErr string, nextAttemptAt time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Relay struct {
	repo     Repository
	producer Producer
	sink     notifier.Sink
	rl       RateLimiter

	topic   string
	planner *Planner

	pollInterval     time.Duration
	batchSize        int
	concurrency      int
	lease            time.Duration
	notifyPerMinute  int64
	publishAttempts  int
	publishRetryBase time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalPublished      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

// New builds a relay. sink and rl may be nil: without a sink failed orchestrations are only published,
// without a limiter notifications are not throttled.
func New(repo Repository, producer Producer, sink notifier.Sink, rl RateLimiter, topic string) *Relay {
	if topic == "" {
		topic = messages.TopicTripAudit
	}
	return &Relay{
		repo: repo, producer: producer, sink: sink, rl: rl, topic: topic,
		planner:           NewPlanner(DefaultPlannerConfig(), nil),
		pollInterval:      2 * time.Second,
		batchSize:         100,
		concurrency:       8,
		lease:             60 * time.Second,
		notifyPerMinute:   30,
		publishAttempts:   3,
		publishRetryBase:  150 * time.Millisecond,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (r *Relay) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, notifyPerMin int64) *Relay {
	if pollInterval > 0 {
		r.pollInterval = pollInterval
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	if concurrency > 0 {
		r.concurrency = concurrency
	}
	if lease > 0 {
		r.lease = lease
	}
	if notifyPerMin > 0 {
		r.notifyPerMinute = notifyPerMin
	}
	return r
}

func (r *Relay) WithPlanner(cfg PlannerConfig) *Relay {
	r.planner = NewPlanner(cfg, nil)
	return r
}

// Trigger forces an immediate cycle. Never blocks.
func (r *Relay) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalPublished int64      `json:"totalPublished"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (r *Relay) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalClaimed:   r.totalClaimed.Load(),
		TotalPublished: r.totalPublished.Load(),
		TotalErrors:    r.totalErrors.Load(),
		InFlight:       r.inFlight.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.RunOnce(ctx)
		case <-r.triggerCh:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce claims one batch of due events and publishes it.
func (r *Relay) RunOnce(ctx context.Context) {
	now := time.Now().UTC()
	r.lastCycleUnixNano.Store(now.UnixNano())

	items, err := r.repo.ClaimDueAuditEvents(ctx, now, r.batchSize, r.lease)
	if err != nil {
		slog.Error("claim due audit events", "err", err)
		r.setLastError(err)
		return
	}
	r.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for _, group := range byAccount(items) {
		sem <- struct{}{}
		wg.Add(1)
		go func(group []models.PendingAuditEvent) {
			defer func() {
				<-sem
				wg.Done()
			}()
			r.processAccount(ctx, group)
		}(group)
	}
	wg.Wait()
}

// byAccount groups claimed events per account, keeping claim order inside each group.
func byAccount(items []models.PendingAuditEvent) [][]models.PendingAuditEvent {
	idx := make(map[string]int)
	var groups [][]models.PendingAuditEvent
	for _, it := range items {
		i, ok := idx[it.Event.AccountID]
		if !ok {
			i = len(groups)
			idx[it.Event.AccountID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], it)
	}
	return groups
}

// processAccount publishes one account's events in order. When a publish fails, the account's
// remaining events are rescheduled with the failed one so they keep their relative order.
func (r *Relay) processAccount(ctx context.Context, group []models.PendingAuditEvent) {
	for i, it := range group {
		r.inFlight.Add(1)
		next, err := r.processOne(ctx, it)
		r.inFlight.Add(-1)
		if err == nil {
			continue
		}
		r.totalErrors.Add(1)
		r.setLastError(err)
		slog.Error("relay audit event", "event_id", it.Event.ID, "attempt", it.Attempts+1, "err", err)
		if next.IsZero() {
			continue
		}
		for _, held := range group[i+1:] {
			if err := r.repo.MarkAuditFailed(ctx, held.Event.ID, "held behind "+it.Event.ID, next); err != nil {
				slog.Warn("reschedule held audit event", "event_id", held.Event.ID, "err", err)
			}
		}
		return
	}
}

// processOne returns a non-zero retry time when the publish itself failed.
func (r *Relay) processOne(ctx context.Context, it models.PendingAuditEvent) (time.Time, error) {
	attempt := it.Attempts + 1
	b, err := json.Marshal(messages.NewAuditRecorded(it.Event, attempt))
	if err != nil {
		return time.Time{}, errors.Wrap(err, "marshal audit message")
	}

	if pubErr := r.publish(ctx, []byte(it.Event.AccountID), b); pubErr != nil {
		metrics.RelayPublished.WithLabelValues("error").Inc()
		next := time.Now().UTC().Add(r.planner.BackoffDelay(attempt))
		if err := r.repo.MarkAuditFailed(ctx, it.Event.ID, pubErr.Error(), next); err != nil {
			return next, errors.Wrap(err, "mark audit failed")
		}
		return next, pubErr
	}

	metrics.RelayPublished.WithLabelValues("ok").Inc()
	if err := r.repo.MarkAuditPublished(ctx, it.Event.ID, time.Now().UTC()); err != nil {
		return time.Time{}, errors.Wrap(err, "mark audit published")
	}
	r.totalPublished.Add(1)

	if it.Event.Type == models.AuditOrchestrationFailed {
		r.notifyFailure(ctx, it.Event)
	}
	return time.Time{}, nil
}

func (r *Relay) publish(ctx context.Context, key, value []byte) error {
	var err error
	for i := 0; i < r.publishAttempts; i++ {
		if err = r.producer.Publish(ctx, r.topic, key, value); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * r.publishRetryBase):
		}
	}
	return err
}

func (r *Relay) notifyFailure(ctx context.Context, e models.AuditEvent) {
	if r.sink == nil {
		return
	}
	if r.rl != nil && r.notifyPerMinute > 0 {
		key := fmt.Sprintf("rl:notify:%s:%s", e.AccountID, time.Now().UTC().Format("200601021504"))
		allowed, n, err := r.rl.Allow(ctx, key, r.notifyPerMinute, 70*time.Second)
		if err != nil {
			slog.Warn("notify rate limit check failed", "account_id", e.AccountID, "err", err)
		} else if !allowed {
			slog.Warn("notification throttled", "account_id", e.AccountID, "count", n)
			return
		}
	}

	msg := ""
	if v, ok := e.Payload["error"].(string); ok {
		msg = v
	}
	err := r.sink.Notify(ctx, notifier.Notification{
		Kind:       notifier.KindOrchestrationFailed,
		AccountID:  e.AccountID,
		TripID:     e.Refs["trip_id"],
		Refs:       e.Refs,
		Message:    msg,
		OccurredAt: e.OccurredAt,
	})
	if err != nil {
		slog.Warn("notify orchestration failure", "event_id", e.ID, "err", err)
	}
}

func (r *Relay) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}
