// Package scheduler periodically scans for due schedules and hands each
// one to the Executor, advancing its status exactly once per firing.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-labs/brm-core/internal/executor"
	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/store"
	"github.com/r3e-labs/brm-core/pkg/logger"
)

// defaultSchedule fires once every 60 seconds.
const defaultSchedule = "@every 60s"

// Config wires a Scheduler's collaborators.
type Config struct {
	Store    store.Store
	Executor *executor.Executor
	Log      *logger.Logger
	Schedule string // cron expression; defaults to defaultSchedule
}

// Scheduler drives due-schedule execution off a single robfig/cron/v3 entry.
type Scheduler struct {
	store    store.Store
	exec     *executor.Executor
	log      *logger.Logger
	schedule string
	cron     *cron.Cron
}

// New constructs a Scheduler. It does not start any background activity.
func New(cfg Config) *Scheduler {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = defaultSchedule
	}
	return &Scheduler{
		store:    cfg.Store,
		exec:     cfg.Executor,
		log:      cfg.Log,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start registers the tick job and starts the underlying cron scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() { s.tick(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight tick to
// finish, or for ctx to expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	drained := s.cron.Stop()
	select {
	case <-drained.Done():
	case <-ctx.Done():
	}
	return nil
}

// tick selects every due schedule and runs it; each schedule advances
// independently so one failing schedule never blocks the others.
func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.DueSchedules(ctx, time.Now())
	if err != nil {
		if s.log != nil {
			s.log.WithContext(ctx).WithError(err).Error("select due schedules")
		}
		return
	}

	for _, sc := range due {
		s.runOne(ctx, sc)
	}
}

func (s *Scheduler) runOne(ctx context.Context, sc model.Schedule) {
	_, err := s.exec.Execute(ctx, []int64{sc.RuleID}, !sc.RunDataValidations)

	status := model.ScheduleExecuted
	if err != nil {
		status = model.ScheduleFailed
	}

	if updErr := s.store.UpdateScheduleStatus(ctx, sc.ScheduleID, status); updErr != nil && s.log != nil {
		s.log.WithContext(ctx).WithFields(map[string]interface{}{
			"schedule_id": sc.ScheduleID,
			"rule_id":     sc.RuleID,
		}).WithError(updErr).Error("update schedule status")
	}

	if err != nil && s.log != nil {
		s.log.WithContext(ctx).WithFields(map[string]interface{}{
			"schedule_id": sc.ScheduleID,
			"rule_id":     sc.RuleID,
		}).WithError(err).Error("scheduled execution failed")
	}
}
