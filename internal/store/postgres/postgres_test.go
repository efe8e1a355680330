package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"

	"github.com/r3e-labs/brm-core/internal/model"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestGetRuleScansAllColumns(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{
		"rule_id", "rule_name", "owner_group", "sql_text", "rule_type", "parent_rule_id", "group_id",
		"effective_start", "effective_end", "operation_kind", "is_global", "critical_rule", "critical_scope",
		"cdc_type", "status", "approval_status", "lifecycle_state", "version", "decision_table_id",
		"created_by", "created_at", "updated_by", "updated_at",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		int64(1), "flag_stale_orders", "engineering", "SELECT 1", "", nil, nil,
		nil, nil, "SELECT", false, false, "NONE",
		"", "ACTIVE", "APPROVED", "ACTIVE", 1, nil,
		"alice", nil, "alice", nil,
	)
	mock.ExpectQuery(".*FROM rules WHERE rule_id=.*").WithArgs(int64(1)).WillReturnRows(rows)

	out, err := s.GetRule(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "flag_stale_orders", out.Name)
	require.Equal(t, model.RuleStatus("ACTIVE"), out.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRuleReturnsNotFoundOnNoRows(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(".*FROM rules WHERE rule_id=.*").WithArgs(int64(99)).WillReturnError(sql.ErrNoRows)

	_, err := s.GetRule(context.Background(), 99)
	require.Error(t, err)
	require.Equal(t, brmerrors.CodeNotFound, brmerrors.As(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingDelegatesToUnderlyingPool(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := New(db)

	mock.ExpectPing()

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteRuleSQLPassesOnNoRows(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(".*").WillReturnRows(sqlmock.NewRows([]string{}))

	pass, count, err := s.ExecuteRuleSQL(context.Background(), "UPDATE orders SET flagged=true")
	require.NoError(t, err)
	require.True(t, pass)
	require.Equal(t, 0, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteRuleSQLFailsWhenFirstColumnIsNotOne(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(".*").WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(int64(0)))

	pass, count, err := s.ExecuteRuleSQL(context.Background(), "SELECT 0")
	require.NoError(t, err)
	require.False(t, pass)
	require.Equal(t, 1, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteRuleSQLPassesWhenFirstColumnIsOne(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(".*").WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(int64(1)))

	pass, _, err := s.ExecuteRuleSQL(context.Background(), "SELECT 1")
	require.NoError(t, err)
	require.True(t, pass)
	require.NoError(t, mock.ExpectationsWereMet())
}
