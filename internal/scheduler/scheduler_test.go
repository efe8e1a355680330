package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-labs/brm-core/internal/dependency"
	"github.com/r3e-labs/brm-core/internal/executor"
	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/store/storetest"
	"github.com/r3e-labs/brm-core/internal/validation"
)

func newScheduler(s *storetest.Store) *Scheduler {
	exec := executor.New(s, dependency.New(s), validation.New(s, 0), nil, nil)
	return New(Config{Store: s, Executor: exec})
}

func TestTickExecutesDueScheduleAndMarksExecuted(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()

	r, err := s.CreateRule(ctx, model.Actor{User: "creator", Group: "BG1"}, &model.Rule{
		Name: "r1", OwnerGroup: "BG1", Status: model.StatusActive, Version: 1, SQLText: "SELECT 1",
	}, nil)
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	sc, err := s.CreateSchedule(ctx, &model.Schedule{RuleID: r.RuleID, FireAt: time.Now().Add(-time.Minute), Status: model.ScheduleScheduled})
	if err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	newScheduler(s).tick(ctx)

	due, err := s.DueSchedules(ctx, time.Now())
	if err != nil {
		t.Fatalf("DueSchedules() error = %v", err)
	}
	for _, d := range due {
		if d.ScheduleID == sc.ScheduleID {
			t.Fatalf("schedule %d still due after tick", sc.ScheduleID)
		}
	}
}

func TestTickIgnoresNotYetDueSchedules(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()

	r, err := s.CreateRule(ctx, model.Actor{User: "creator", Group: "BG1"}, &model.Rule{
		Name: "r1", OwnerGroup: "BG1", Status: model.StatusActive, Version: 1, SQLText: "SELECT 1",
	}, nil)
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	if _, err := s.CreateSchedule(ctx, &model.Schedule{RuleID: r.RuleID, FireAt: time.Now().Add(time.Hour), Status: model.ScheduleScheduled}); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	newScheduler(s).tick(ctx)

	due, err := s.DueSchedules(ctx, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("DueSchedules() error = %v", err)
	}
	if len(due) != 1 || due[0].Status != model.ScheduleScheduled {
		t.Fatalf("future schedule should remain untouched, got %+v", due)
	}
}
