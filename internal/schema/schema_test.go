package schema

import (
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/askdba/govern/internal/coretypes"
)

func newMockRows(mock pgxmock.PgxPoolIface) *pgxmock.Rows {
	return mock.NewRows([]string{
		"table_schema", "table_name", "column_name", "data_type", "is_nullable", "is_primary_key",
	}).AddRow("public", "users", "id", "integer", "NO", true).
		AddRow("public", "users", "email", "text", "YES", false)
}

func TestCache_GetFetchesOnMiss(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool() error = %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("information_schema.columns").WillReturnRows(newMockRows(mock))

	c := New(time.Minute, nil)
	snap, gerr := c.Get(t.Context(), coretypes.DatabaseId("primary"), mock)
	if gerr != nil {
		t.Fatalf("Get() error = %v", gerr)
	}
	key := coretypes.TableKey{Schema: "public", Table: "users"}
	if len(snap.Tables[key]) != 2 {
		t.Fatalf("Tables[%v] = %v, want 2 columns", key, snap.Tables[key])
	}
	if !snap.Tables[key][0].IsPrimaryKey {
		t.Error("expected id column to be marked primary key")
	}
}

func TestCache_GetReusesWithinTTL(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool() error = %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("information_schema.columns").WillReturnRows(newMockRows(mock))

	c := New(time.Minute, nil)
	id := coretypes.DatabaseId("primary")
	if _, gerr := c.Get(t.Context(), id, mock); gerr != nil {
		t.Fatalf("first Get() error = %v", gerr)
	}
	// Second Get within TTL must not issue another query.
	if _, gerr := c.Get(t.Context(), id, mock); gerr != nil {
		t.Fatalf("second Get() error = %v", gerr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations (unexpected extra query): %v", err)
	}
}

func TestCache_RefreshForcesRefetch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool() error = %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("information_schema.columns").WillReturnRows(newMockRows(mock))
	mock.ExpectQuery("information_schema.columns").WillReturnRows(newMockRows(mock))

	c := New(time.Minute, nil)
	id := coretypes.DatabaseId("primary")
	if _, gerr := c.Get(t.Context(), id, mock); gerr != nil {
		t.Fatalf("Get() error = %v", gerr)
	}
	if _, gerr := c.Refresh(t.Context(), id, mock); gerr != nil {
		t.Fatalf("Refresh() error = %v", gerr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCache_ConcurrentMissesCoalesce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool() error = %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("information_schema.columns").WillReturnRows(newMockRows(mock))

	c := New(time.Minute, nil)
	id := coretypes.DatabaseId("primary")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, gerr := c.Get(t.Context(), id, mock); gerr != nil {
				t.Errorf("Get() error = %v", gerr)
			}
		}()
	}
	wg.Wait()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations (concurrent misses issued more than one query): %v", err)
	}
}

func TestSortedTableKeys_Deterministic(t *testing.T) {
	snap := coretypes.SchemaSnapshot{
		Tables: map[coretypes.TableKey][]coretypes.ColumnMeta{
			{Schema: "public", Table: "zebras"}:  nil,
			{Schema: "public", Table: "apples"}:  nil,
			{Schema: "archive", Table: "events"}: nil,
		},
	}
	keys := SortedTableKeys(snap)
	if len(keys) != 3 {
		t.Fatalf("len(keys) = %d, want 3", len(keys))
	}
	if keys[0].Schema != "archive" || keys[1].Table != "apples" || keys[2].Table != "zebras" {
		t.Errorf("keys not deterministically sorted: %v", keys)
	}
}
