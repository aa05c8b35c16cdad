// Package scheduler runs GateChat's periodic maintenance jobs.
//
// Jobs are described by standard 5-field cron expressions.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs session pruning every half hour.
const DefaultPruneSchedule = "*/30 * * * *"

// Pruner drops sessions idle for longer than ttl and reports how many were dropped.
type Pruner interface {
	Prune(ttl time.Duration) int
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// SchedulePrune registers the idle-session pruning job. A non-positive ttl
// disables pruning and registers nothing.
func (s *Scheduler) SchedulePrune(expr string, p Pruner, ttl time.Duration) error {
	if ttl <= 0 {
		slog.Info("Scheduler.SchedulePrune: session pruning disabled")
		return nil
	}
	if expr == "" {
		expr = DefaultPruneSchedule
	}
	if err := s.AddJob(expr, PruneJob(p, ttl)); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", expr, err)
	}
	slog.Info("Scheduler.SchedulePrune: session pruning scheduled", "schedule", expr, "ttl", ttl)
	return nil
}

// PruneJob returns the job body that prunes idle sessions once.
func PruneJob(p Pruner, ttl time.Duration) func() {
	return func() {
		if n := p.Prune(ttl); n > 0 {
			slog.Info("Scheduler.PruneJob: pruned idle sessions", "count", n, "ttl", ttl)
		} else {
			slog.Debug("Scheduler.PruneJob: no idle sessions")
		}
	}
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
