// Package scheduler wraps robfig/cron so a pipeline run-all invocation can
// be driven on a timer instead of once per process, mirroring the cron
// wiring the source platform uses for its own scheduled workflow runs.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs one or more functions on cron schedules until Stop is
// called.
type Scheduler struct {
	cron *cron.Cron
}

// New builds a Scheduler with second-level precision, matching the
// teacher's cron.New(cron.WithSeconds()) construction.
func New() *Scheduler {
	return &Scheduler{cron: cron.New(cron.WithSeconds())}
}

// parseCronExpr tries 6-field (with seconds) parsing first, falling back
// to the standard 5-field form, so both "*/30 * * * * *" and "*/5 * * * *"
// are accepted.
func parseCronExpr(expr string) (cron.Schedule, error) {
	parser6 := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser6.Parse(expr)
	if err == nil {
		return sched, nil
	}
	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser5.Parse(expr)
}

// AddFunc registers fn to run on the given cron expression and returns the
// resulting entry ID.
func (s *Scheduler) AddFunc(expr string, fn func()) (cron.EntryID, error) {
	sched, err := parseCronExpr(expr)
	if err != nil {
		return 0, err
	}
	return s.cron.Schedule(sched, cron.FuncJob(fn)), nil
}

// Start begins dispatching registered jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler: started")
}

// Stop waits for any in-flight job to finish, then returns. It blocks on
// ctx so the caller can bound the wait.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	slog.Info("scheduler: stopped")
}
