package entity

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupHistoryTestDB creates an in-memory SQLite database with the
// state_history table.
func setupHistoryTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE state_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id TEXT NOT NULL,
			state TEXT NOT NULL,
			cause TEXT NOT NULL DEFAULT 'bus',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_state_history_entity ON state_history(entity_id, created_at DESC, id DESC);
		CREATE INDEX idx_state_history_time ON state_history(created_at DESC);
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

// insertHistoryRow inserts a history row with a specific timestamp.
func insertHistoryRow(t *testing.T, db *sql.DB, entityID, valuesJSON, cause string, createdAt time.Time) {
	t.Helper()

	_, err := db.Exec(
		"INSERT INTO state_history (entity_id, state, cause, created_at) VALUES (?, ?, ?, ?)",
		entityID,
		valuesJSON,
		cause,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.Fatalf("failed to insert history row: %v", err)
	}
}

func TestRecordChangeAndGetHistory(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	values := map[string]any{"operating_status": 50.0, "load_status": "on"}
	if err := repo.RecordChange(ctx, "bedroom_ceiling_light", values, string(CauseBus)); err != nil {
		t.Fatalf("RecordChange() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "bedroom_ceiling_light", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].EntityID != "bedroom_ceiling_light" {
		t.Errorf("EntityID = %q, want bedroom_ceiling_light", entries[0].EntityID)
	}
	if entries[0].Values["load_status"] != "on" {
		t.Errorf("load_status = %v, want on", entries[0].Values["load_status"])
	}
	if entries[0].Cause != string(CauseBus) {
		t.Errorf("Cause = %q, want bus", entries[0].Cause)
	}
}

func TestRecordChangeValidation(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	if err := repo.RecordChange(ctx, "", nil, ""); err == nil {
		t.Error("RecordChange() with empty entity id error = nil, want error")
	}

	// Nil values and empty cause get defaults, not errors.
	if err := repo.RecordChange(ctx, "galley_light", nil, ""); err != nil {
		t.Errorf("RecordChange() with defaults error = %v", err)
	}
	entries, err := repo.GetHistory(ctx, "galley_light", 1)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if entries[0].Cause != string(CauseBus) {
		t.Errorf("default Cause = %q, want bus", entries[0].Cause)
	}
}

func TestGetHistoryOrderAndLimit(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		insertHistoryRow(t, db, "bedroom_ceiling_light",
			`{"operating_status": `+string(rune('0'+i))+`}`,
			"bus", base.Add(time.Duration(i)*time.Minute))
	}

	entries, err := repo.GetHistory(ctx, "bedroom_ceiling_light", 3)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3 (limit)", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			t.Error("entries not ordered newest first")
		}
	}
}

func TestGetHistorySameSecondOrder(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	// Bursts of bus traffic land several changes within one second, so
	// created_at alone cannot order them. The row id must break the tie
	// and keep the last recorded change first.
	levels := []float64{25, 50, 75}
	for _, level := range levels {
		err := repo.RecordChange(ctx, "bedroom_ceiling_light",
			map[string]any{"operating_status": level}, string(CauseBus))
		if err != nil {
			t.Fatalf("RecordChange() error = %v", err)
		}
	}

	entries, err := repo.GetHistory(ctx, "bedroom_ceiling_light", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != len(levels) {
		t.Fatalf("got %d entries, want %d", len(entries), len(levels))
	}
	for i, want := range []float64{75, 50, 25} {
		if got := entries[i].Values["operating_status"]; got != want {
			t.Errorf("entry %d operating_status = %v, want %v", i, got, want)
		}
	}
}

func TestPruneHistory(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	insertHistoryRow(t, db, "bedroom_ceiling_light", `{}`, "bus", time.Now().UTC().Add(-48*time.Hour))
	insertHistoryRow(t, db, "bedroom_ceiling_light", `{}`, "bus", time.Now().UTC())

	deleted, err := repo.PruneHistory(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := repo.PruneHistory(ctx, 0); err == nil {
		t.Error("PruneHistory(0) error = nil, want error")
	}
}
