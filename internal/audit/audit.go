// Package audit provides the append-only recorder every mutating
// operation writes to exactly once, inside the same transaction as the
// mutation it describes.
package audit

import (
	"context"
	"encoding/json"

	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/store"
)

// Log wraps a store.Store to provide a narrower, intention-revealing
// surface for recording and querying state transitions.
type Log struct {
	store store.Store
}

// New constructs a Log over the given store.
func New(s store.Store) *Log {
	return &Log{store: s}
}

// Append records one state transition. oldData and newData are
// marshaled to JSON; either may be nil (e.g. nil oldData on INSERT, nil
// newData on DELETE). Callers are expected to invoke Append from within
// an active store.WithTx so the entry commits atomically with the
// mutation it documents.
func (l *Log) Append(ctx context.Context, action, tableName string, recordID int64, actor string, oldData, newData interface{}) error {
	entry := &model.AuditEntry{
		Action:    action,
		TableName: tableName,
		RecordID:  recordID,
		ActionBy:  actor,
	}

	if oldData != nil {
		raw, err := json.Marshal(oldData)
		if err != nil {
			return err
		}
		entry.OldData = raw
	}
	if newData != nil {
		raw, err := json.Marshal(newData)
		if err != nil {
			return err
		}
		entry.NewData = raw
	}

	return l.store.AppendAudit(ctx, entry)
}

// Query returns audit entries matching filter, most recent first.
func (l *Log) Query(ctx context.Context, filter store.AuditFilter) ([]model.AuditEntry, error) {
	return l.store.QueryAudit(ctx, filter)
}
