// Package rules implements the timer-driven charge orchestration policies:
// pause when the target range is reached, and gate charging on the hourly
// electricity price.
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Rain1971/V2C-trydant/internal/trydan"
)

// SnapshotSource provides the coordinator's cached snapshot. Rules read
// whatever is cached and never block on a fresh poll.
type SnapshotSource interface {
	Snapshot() trydan.Snapshot
}

// Controller issues device switch writes. Implementations trigger an
// out-of-cycle refresh after a successful write.
type Controller interface {
	SetSwitch(ctx context.Context, field string, on bool) error
}

// Runner schedules rule ticks on fixed intervals and tears them down as a
// unit when the charger is removed.
type Runner struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewRunner creates an empty scheduler.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(zap.NewStdLog(logger))),
		)),
		logger: logger,
	}
}

// AddEvery registers a job on a fixed interval.
func (r *Runner) AddEvery(interval time.Duration, job func()) error {
	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), job)
	return err
}

// Start begins dispatching jobs.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop cancels all recurring jobs and waits for running ones to return.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
