package relay

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	Backoff1 time.Duration // default: 5 seconds
	Backoff2 time.Duration // default: 30 seconds
	Backoff3 time.Duration // default: 2 minutes
	Backoff4 time.Duration // default: 10 minutes

	// MaxJitter is added on top of every backoff, uniformly in [0, MaxJitter].
	MaxJitter time.Duration // default: 0
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Backoff1: 5 * time.Second,
		Backoff2: 30 * time.Second,
		Backoff3: 2 * time.Minute,
		Backoff4: 10 * time.Minute,
	}
}

// Planner decides when a failed audit event is retried.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if cfg.MaxJitter < 0 {
		cfg.MaxJitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func (p *Planner) BackoffDelay(nextAttempt int32) time.Duration {
	var d time.Duration
	switch {
	case nextAttempt <= 1:
		d = p.cfg.Backoff1
	case nextAttempt == 2:
		d = p.cfg.Backoff2
	case nextAttempt == 3:
		d = p.cfg.Backoff3
	default:
		d = p.cfg.Backoff4
	}
	if sec := int(p.cfg.MaxJitter.Seconds()); sec > 0 {
		d += time.Duration(p.r.Intn(sec+1)) * time.Second
	}
	return d
}
