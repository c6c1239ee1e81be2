package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"villaops.org/internal/obs"
)

// Escalator moves overdue pending orders to pending_24h.
type Escalator interface {
	EscalateOverdue(ctx context.Context, now time.Time) (int, error)
}

// EscalationJob runs an Escalator on a cron schedule.
type EscalationJob struct {
	cron    *cron.Cron
	target  Escalator
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewEscalationJob schedules target with spec, a standard five-field cron
// expression or a descriptor such as "@every 15m".
func NewEscalationJob(spec string, target Escalator, timeout time.Duration) (*EscalationJob, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	j := &EscalationJob{
		cron:    cron.New(),
		target:  target,
		timeout: timeout,
		now:     time.Now,
		logger:  obs.Logger(),
	}
	if _, err := j.cron.AddFunc(spec, func() { j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("jobs: bad escalation schedule %q: %w", spec, err)
	}
	return j, nil
}

// Start begins running the schedule in the background.
func (j *EscalationJob) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running tick to finish or ctx
// to end.
func (j *EscalationJob) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce performs a single escalation pass and returns how many orders
// moved.
func (j *EscalationJob) RunOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	n, err := j.target.EscalateOverdue(ctx, j.now().UTC())
	if err != nil {
		j.logger.Error("order escalation failed", "error", err.Error())
		return n
	}
	if n > 0 {
		j.logger.Info("orders escalated", "count", n)
	}
	return n
}
