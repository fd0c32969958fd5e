package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/agent-mailbox/internal/metrics"
	"github.com/robfig/cron/v3"
)

// DefaultJanitorSchedule runs the sweep every five minutes.
const DefaultJanitorSchedule = "@every 5m"

// DefaultExpiryGrace is how long past expires_at a PENDING connection is
// kept before the janitor purges it. Live reads already filter expired
// connections out of views; the grace window exists only to bound table
// growth, not to affect correctness.
const DefaultExpiryGrace = time.Hour

// Janitor periodically purges long-expired PENDING connections so the
// connections table does not grow without bound. It never touches ACTIVE
// connections, sessions, or messages.
type Janitor struct {
	repo     Repository
	schedule string
	grace    time.Duration
	cron     *cron.Cron
}

// NewJanitor builds a Janitor with the given sweep schedule (standard cron
// expression or a "@every" descriptor) and expiry grace period.
func NewJanitor(repo Repository, schedule string, grace time.Duration) *Janitor {
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	if grace <= 0 {
		grace = DefaultExpiryGrace
	}
	return &Janitor{
		repo:     repo,
		schedule: schedule,
		grace:    grace,
		cron:     cron.New(),
	}
}

// Start registers the sweep and begins running it on its schedule. Stop
// must be called to release the underlying cron goroutine.
func (j *Janitor) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.schedule, func() { j.sweep(ctx) })
	if err != nil {
		return err
	}
	j.cron.Start()
	slog.Info("janitor started", "schedule", j.schedule, "grace", j.grace)
	return nil
}

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (j *Janitor) Stop() {
	stopCtx := j.cron.Stop()
	<-stopCtx.Done()
}

func (j *Janitor) sweep(ctx context.Context) {
	n, err := j.repo.ExpirePendingConnections(ctx, j.grace)
	if err != nil {
		slog.Error("janitor sweep failed", "error", err)
		return
	}
	if n > 0 {
		metrics.JanitorPurgedTotal.Add(float64(n))
		slog.Info("janitor purged expired pending connections", "count", n)
	}
}
