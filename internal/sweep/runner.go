package sweep

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Runner drives Sweeper.Tick on a fixed schedule ("@every 24h" in the
// default configuration). A tick error never stops the loop: the runner logs
// it and waits out the full interval, keeping a bounded retry cadence
// instead of a tight failure loop. Stop returns once any in-flight tick has
// run to completion.
type Runner struct {
	cron     *cron.Cron
	sweeper  *Sweeper
	log      *slog.Logger
	schedule string
}

// NewRunner creates a Runner with the given cron schedule expression.
func NewRunner(s *Sweeper, log *slog.Logger, schedule string) *Runner {
	cronLog := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelInfo))
	return &Runner{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLog))),
		sweeper:  s,
		log:      log,
		schedule: schedule,
	}
}

// Start runs one reconciliation pass immediately, then hands the job over
// to the scheduler. Without the startup pass a process restarted more often
// than the interval would never reconcile anything.
func (r *Runner) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, r.tick); err != nil {
		return err
	}
	r.tick()
	r.cron.Start()
	r.log.Info("reconciliation scheduler started", "schedule", r.schedule)
	return nil
}

func (r *Runner) tick() {
	if err := r.sweeper.Tick(context.Background()); err != nil {
		r.log.Error("reconciliation tick failed", "error", err)
	}
}

// Stop halts scheduling. The returned context is done when in-flight jobs
// have finished.
func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}
