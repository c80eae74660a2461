package events

import (
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMigrate(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tables := []string{"schema_version", "run_events", "push_attempts"}
	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	// Migrate again should be idempotent
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestLogAndQueryRunEvents(t *testing.T) {
	d := testDB(t)

	if err := d.LogRunEvent("p1", "clone", "started", "", ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := d.LogRunEvent("p1", "clone", "succeeded", "", ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := d.LogRunEvent("p1", "test", "failed", "ExternalToolError", "exit 1"); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := d.LogRunEvent("p2", "clone", "started", "", ""); err != nil {
		t.Fatalf("log: %v", err)
	}

	evs, err := d.RunEvents("p1")
	if err != nil {
		t.Fatalf("RunEvents: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(evs))
	}
	if evs[2].Stage != "test" || evs[2].Event != "failed" || evs[2].ErrorType != "ExternalToolError" {
		t.Errorf("events[2] = %+v", evs[2])
	}
	if evs[0].ErrorType != "" {
		t.Errorf("events[0].ErrorType = %q, want empty", evs[0].ErrorType)
	}
}

func TestInvalidEventRejected(t *testing.T) {
	d := testDB(t)
	if err := d.LogRunEvent("p1", "clone", "exploded", "", ""); err == nil {
		t.Fatal("expected CHECK constraint violation for unknown event")
	}
}

func TestPushAttempts(t *testing.T) {
	d := testDB(t)

	for i := 1; i <= 3; i++ {
		ok := i == 3
		detail := ""
		if !ok {
			detail = "remote hung up"
		}
		if err := d.LogPushAttempt("p1", i, "origin", "relay/refactor/p1:main", ok, detail); err != nil {
			t.Fatalf("log attempt %d: %v", i, err)
		}
	}

	atts, err := d.PushAttempts("p1")
	if err != nil {
		t.Fatalf("PushAttempts: %v", err)
	}
	if len(atts) != 3 {
		t.Fatalf("len(attempts) = %d, want 3", len(atts))
	}
	if atts[0].Succeeded || atts[1].Succeeded || !atts[2].Succeeded {
		t.Errorf("attempt outcomes = %v %v %v", atts[0].Succeeded, atts[1].Succeeded, atts[2].Succeeded)
	}
	if atts[0].Detail != "remote hung up" {
		t.Errorf("attempts[0].Detail = %q", atts[0].Detail)
	}
}

func TestLastRun(t *testing.T) {
	d := testDB(t)

	id, err := d.LastRun()
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if id != "" {
		t.Errorf("LastRun on empty db = %q, want empty", id)
	}

	d.LogRunEvent("p1", "clone", "started", "", "")
	d.LogRunEvent("p2", "clone", "started", "", "")

	id, err = d.LastRun()
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if id != "p2" {
		t.Errorf("LastRun = %q, want p2", id)
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)
	d.LogRunEvent("p1", "clone", "started", "", "")

	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	evs, err := d.RunEvents("p1")
	if err != nil {
		t.Fatalf("RunEvents after reset: %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("events after reset = %v, want none", evs)
	}
}
