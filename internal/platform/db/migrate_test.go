package db

import (
	"testing"
	"testing/fstest"
	"time"
)

func TestParseMigration(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
		want Migration
	}{
		{"001_appointments.sql", "CREATE TABLE a ();\n", true,
			Migration{Version: 1, Name: "001_appointments.sql", SQL: "CREATE TABLE a ();"}},
		{"002_idx.sql", "CREATE INDEX i ON a (x);\n-- migrate:down\nDROP INDEX i;\n", true,
			Migration{Version: 2, Name: "002_idx.sql", SQL: "CREATE INDEX i ON a (x);", DownSQL: "DROP INDEX i;"}},
		{"readme.sql", "", false, Migration{}},
		{"abc_x.sql", "", false, Migration{}},
		{"000_zero.sql", "", false, Migration{}},
		{"003_notes.txt", "", false, Migration{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseMigration(tt.name, []byte(tt.body))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.sql":      {Data: []byte("SELECT 10;")},
		"002_second.sql":     {Data: []byte("SELECT 2;")},
		"001_first.sql":      {Data: []byte("SELECT 1;")},
		"notes.txt":          {Data: []byte("not sql")},
		"sub/003_nested.sql": {Data: []byte("SELECT 3;")},
	}

	migs, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	want := []int{1, 2, 10}
	if len(migs) != len(want) {
		t.Fatalf("got %d migrations, want %d", len(migs), len(want))
	}
	for i, v := range want {
		if migs[i].Version != v {
			t.Errorf("migs[%d].Version = %d, want %d", i, migs[i].Version, v)
		}
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"01_b.sql":  {Data: []byte("SELECT 1;")},
	}
	if _, err := NewMigrator(nil, fsys).LoadMigrations(); err == nil {
		t.Fatal("expected error for duplicate version")
	}
}

func TestPendingAndLatest(t *testing.T) {
	migs := []Migration{{Version: 1}, {Version: 2}, {Version: 3}, {Version: 4}}
	applied := map[int]time.Time{1: time.Now(), 2: time.Now()}

	if got := pending(migs, applied, 0); len(got) != 2 || got[0].Version != 3 {
		t.Fatalf("pending(all) = %+v", got)
	}
	if got := pending(migs, applied, 3); len(got) != 1 || got[0].Version != 3 {
		t.Fatalf("pending(<=3) = %+v", got)
	}
	if got := latestApplied(migs, applied); got == nil || got.Version != 2 {
		t.Fatalf("latestApplied = %+v", got)
	}
	if got := latestApplied(migs, nil); got != nil {
		t.Fatalf("latestApplied with none applied = %+v", got)
	}
}

func TestBuildStatus(t *testing.T) {
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	statuses := buildStatus([]Migration{
		{Version: 1, Name: "001_appointments.sql"},
		{Version: 2, Name: "002_customer_idx.sql"},
	}, map[int]time.Time{1: at})

	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("001 should be applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("002 should be pending, got %+v", statuses[1])
	}
}
