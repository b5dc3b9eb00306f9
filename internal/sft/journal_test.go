package sft

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupJournalTestDB creates an in-memory SQLite database with the
// fault_events table.
func setupJournalTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE fault_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL CHECK (kind IN ('suspension', 'suspension_exit')),
			system TEXT NOT NULL,
			device TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		) STRICT;
		CREATE INDEX idx_fault_events_time ON fault_events(created_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestSQLiteJournal_RecordAndRecent(t *testing.T) {
	j := NewSQLiteJournal(setupJournalTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	events := []Event{
		{ID: "e1", Kind: KindSuspension, System: "ESC", Device: "wheel-fl", Reason: "timeout", Time: base},
		{ID: "e2", Kind: KindSuspension, System: "GPS", Device: "gps", Reason: "no fix", Time: base.Add(time.Second)},
		{ID: "e3", Kind: KindSuspensionExit, System: "ESC", Device: "wheel-fl", Time: base.Add(2 * time.Second)},
	}
	for _, ev := range events {
		if err := j.Record(ctx, ev); err != nil {
			t.Fatalf("Record(%s) error = %v", ev.ID, err)
		}
	}

	all, err := j.Recent(ctx, "", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "e3" || all[2].ID != "e1" {
		t.Fatalf("Recent() = %+v, want newest first", all)
	}
	if all[0].Kind != KindSuspensionExit || !all[0].Time.Equal(base.Add(2*time.Second)) {
		t.Errorf("Recent()[0] = %+v", all[0])
	}
	if all[2].Reason != "timeout" || all[2].Device != "wheel-fl" {
		t.Errorf("Recent()[2] = %+v", all[2])
	}

	esc, err := j.Recent(ctx, "ESC", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(esc) != 2 {
		t.Errorf("Recent(ESC) returned %d events, want 2", len(esc))
	}

	limited, err := j.Recent(ctx, "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "e3" {
		t.Errorf("Recent(limit 1) = %+v", limited)
	}
}

func TestSQLiteJournal_RecordValidation(t *testing.T) {
	j := NewSQLiteJournal(setupJournalTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name string
		ev   Event
	}{
		{name: "missing id", ev: Event{Kind: KindSuspension, System: "ESC"}},
		{name: "missing kind", ev: Event{ID: "x", System: "ESC"}},
		{name: "missing system", ev: Event{ID: "x", Kind: KindSuspension}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := j.Record(ctx, tt.ev); err == nil {
				t.Error("Record() should fail")
			}
		})
	}

	ev := Event{ID: "dup", Kind: KindSuspension, System: "ESC"}
	if err := j.Record(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if err := j.Record(ctx, ev); err == nil {
		t.Error("Record() with a duplicate id should fail")
	}
}

func TestSQLiteJournal_Prune(t *testing.T) {
	j := NewSQLiteJournal(setupJournalTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	old := Event{ID: "old", Kind: KindSuspension, System: "ABS", Time: now.Add(-48 * time.Hour)}
	fresh := Event{ID: "fresh", Kind: KindSuspension, System: "ABS", Time: now}
	for _, ev := range []Event{old, fresh} {
		if err := j.Record(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	n, err := j.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() deleted %d rows, want 1", n)
	}

	left, _ := j.Recent(ctx, "", 0)
	if len(left) != 1 || left[0].ID != "fresh" {
		t.Errorf("after Prune() = %+v", left)
	}

	if _, err := j.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) should fail")
	}
}

func TestTracer_WithSQLiteJournal(t *testing.T) {
	j := NewSQLiteJournal(setupJournalTestDB(t))
	tr := New(Config{Journal: j})
	if err := tr.MarkDevice("wheel-fl", "WSC", "ESC"); err != nil {
		t.Fatal(err)
	}

	tr.Fail("wheel-fl", errors.New("sensor stuck"))
	tr.Recover("wheel-fl")

	events, err := j.Recent(context.Background(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 4 {
		t.Fatalf("journal holds %d events, want 4", len(events))
	}

	kinds := map[Kind]int{}
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	if kinds[KindSuspension] != 2 || kinds[KindSuspensionExit] != 2 {
		t.Errorf("kinds = %v", kinds)
	}
}
