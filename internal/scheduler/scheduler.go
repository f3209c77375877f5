// Package scheduler provides cron-based background maintenance for
// EchoNotify: pruning old reminder history on a nightly schedule.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/EchoNotify/EchoNotify/internal/store"
)

// DefaultPruneSchedule runs history pruning nightly at 03:30.
const DefaultPruneSchedule = "30 3 * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// RegisterHistoryPrune schedules nightly pruning of reminder history older
// than the retention window.
func (s *Scheduler) RegisterHistoryPrune(st store.Store, retention time.Duration) error {
	return s.AddJob(DefaultPruneSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cutoff := time.Now().Add(-retention)
		pruned, err := st.PruneHistory(ctx, cutoff)
		if err != nil {
			slog.Error("Scheduler: history prune failed", "error", err)
			return
		}
		slog.Info("Scheduler: history pruned", "pruned", pruned, "cutoff", cutoff)
	})
}
