package audit_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/r3e-labs/brm-core/internal/audit"
	"github.com/r3e-labs/brm-core/internal/store"
	"github.com/r3e-labs/brm-core/internal/store/storetest"
)

func TestAppendMarshalsOldAndNewData(t *testing.T) {
	s := storetest.New()
	l := audit.New(s)
	ctx := context.Background()

	type snapshot struct {
		Name string `json:"name"`
	}

	if err := l.Append(ctx, "UPDATE", "rules", 1, "alice", snapshot{Name: "old"}, snapshot{Name: "new"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := l.Query(ctx, store.AuditFilter{TableName: "rules"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}

	var old, cur snapshot
	if err := json.Unmarshal(entries[0].OldData, &old); err != nil {
		t.Fatalf("unmarshal OldData: %v", err)
	}
	if err := json.Unmarshal(entries[0].NewData, &cur); err != nil {
		t.Fatalf("unmarshal NewData: %v", err)
	}
	if old.Name != "old" || cur.Name != "new" {
		t.Fatalf("got old=%+v new=%+v", old, cur)
	}
}

func TestAppendToleratesNilOldData(t *testing.T) {
	s := storetest.New()
	l := audit.New(s)
	ctx := context.Background()

	if err := l.Append(ctx, "INSERT", "rules", 2, "bob", nil, map[string]string{"name": "created"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := l.Query(ctx, store.AuditFilter{Actor: "bob"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].OldData != nil {
		t.Fatalf("OldData = %s, want nil", entries[0].OldData)
	}
}

func TestQueryFiltersByAction(t *testing.T) {
	s := storetest.New()
	l := audit.New(s)
	ctx := context.Background()

	if err := l.Append(ctx, "INSERT", "rules", 3, "carol", nil, nil); err != nil {
		t.Fatalf("Append(INSERT) error = %v", err)
	}
	if err := l.Append(ctx, "DELETE", "rules", 3, "carol", nil, nil); err != nil {
		t.Fatalf("Append(DELETE) error = %v", err)
	}

	entries, err := l.Query(ctx, store.AuditFilter{Action: "DELETE"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "DELETE" {
		t.Fatalf("entries = %+v, want one DELETE entry", entries)
	}
}
