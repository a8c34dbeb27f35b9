package dbpool

import (
	"testing"

	"github.com/askdba/govern/internal/coretypes"
)

func TestManager_GetUnknownDatabase(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Get(coretypes.DatabaseId("missing"))
	if err == nil || err.Kind.String() != "DatabaseNotFound" {
		t.Fatalf("Get() = %v, want DatabaseNotFound", err)
	}
}

func TestManager_SoleDatabaseAmbiguousWhenEmpty(t *testing.T) {
	m := NewManager(nil)
	_, err := m.SoleDatabase()
	if err == nil || err.Kind.String() != "AmbiguousDatabase" {
		t.Fatalf("SoleDatabase() = %v, want AmbiguousDatabase", err)
	}
}

func TestManager_StatsUnknownDatabaseIsZero(t *testing.T) {
	m := NewManager(nil)
	if got := m.Stats(coretypes.DatabaseId("missing")); got != 0 {
		t.Errorf("Stats() = %d, want 0", got)
	}
}
