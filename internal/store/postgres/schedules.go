package postgres

import (
	"context"
	"time"

	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"

	"github.com/r3e-labs/brm-core/internal/model"
)

type scheduleRow struct {
	ScheduleID         int64     `db:"schedule_id"`
	RuleID             int64     `db:"rule_id"`
	FireAt             time.Time `db:"fire_at"`
	Status             string    `db:"status"`
	RunDataValidations bool      `db:"run_data_validations"`
	CreatedAt          time.Time `db:"created_at"`
}

func (r scheduleRow) toModel() model.Schedule {
	return model.Schedule{
		ScheduleID:         r.ScheduleID,
		RuleID:             r.RuleID,
		FireAt:             r.FireAt,
		Status:             model.ScheduleStatus(r.Status),
		RunDataValidations: r.RunDataValidations,
		CreatedAt:          r.CreatedAt,
	}
}

const scheduleColumns = `schedule_id, rule_id, fire_at, status, run_data_validations, created_at`

// DueSchedules implements store.Store: every still-Scheduled row whose
// fire_at has passed, oldest first so the Scheduler fires in order.
func (s *Store) DueSchedules(ctx context.Context, asOf time.Time) ([]model.Schedule, error) {
	var rows []scheduleRow
	if err := s.querier(ctx).SelectContext(ctx, &rows, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE status=$1 AND fire_at<=$2 ORDER BY fire_at`,
		string(model.ScheduleScheduled), asOf); err != nil {
		return nil, brmerrors.BackendError("due_schedules", err)
	}
	out := make([]model.Schedule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// UpdateScheduleStatus implements store.Store.
func (s *Store) UpdateScheduleStatus(ctx context.Context, scheduleID int64, status model.ScheduleStatus) error {
	result, err := s.querier(ctx).ExecContext(ctx,
		`UPDATE schedules SET status=$1 WHERE schedule_id=$2`, string(status), scheduleID)
	if err != nil {
		return brmerrors.BackendError("update_schedule_status", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return brmerrors.BackendError("update_schedule_status_rows_affected", err)
	}
	if n == 0 {
		return brmerrors.NotFound("schedule", scheduleID)
	}
	return nil
}

// CreateSchedule implements store.Store.
func (s *Store) CreateSchedule(ctx context.Context, sc *model.Schedule) (*model.Schedule, error) {
	row := s.querier(ctx).QueryRowxContext(ctx, `
		INSERT INTO schedules (rule_id, fire_at, status, run_data_validations)
		VALUES ($1,$2,$3,$4)
		RETURNING `+scheduleColumns,
		sc.RuleID, sc.FireAt, string(sc.Status), sc.RunDataValidations)

	var sr scheduleRow
	if err := row.StructScan(&sr); err != nil {
		return nil, brmerrors.BackendError("create_schedule", err)
	}
	out := sr.toModel()
	return &out, nil
}
