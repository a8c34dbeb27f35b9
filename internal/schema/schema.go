// Package schema implements C3: a TTL-bounded, singleflight-coalesced cache
// of each database's information_schema snapshot. Grounded on the
// kubernaut query-executor reference's golang.org/x/sync/singleflight
// usage for per-key coalesced fetches, combined with the teacher's
// copy-on-write style of replacing cached state wholesale under a
// sync.RWMutex rather than mutating it in place.
package schema

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/singleflight"

	"github.com/askdba/govern/internal/coretypes"
	"github.com/askdba/govern/internal/observability"
	"github.com/askdba/govern/internal/orcherr"
)

// Querier is the minimal query surface schema needs, satisfied by both
// *pgxpool.Pool and github.com/pashagolub/pgxmock/v4's mock pool in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type entry struct {
	snapshot coretypes.SchemaSnapshot
}

// Cache is the C3 Schema Cache. One instance serves every configured
// database; entries are keyed by DatabaseId.
type Cache struct {
	mu    sync.RWMutex
	store map[coretypes.DatabaseId]entry

	ttl     time.Duration
	group   singleflight.Group
	metrics *observability.Metrics
}

func New(ttl time.Duration, metrics *observability.Metrics) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{store: make(map[coretypes.DatabaseId]entry), ttl: ttl, metrics: metrics}
}

// Get implements spec §4.3's get(db): returns the cached snapshot if its
// age is under the TTL, otherwise fetches (coalesced per db via
// singleflight), stores, and returns it.
func (c *Cache) Get(ctx context.Context, id coretypes.DatabaseId, q Querier) (coretypes.SchemaSnapshot, *orcherr.Error) {
	c.mu.RLock()
	e, ok := c.store[id]
	c.mu.RUnlock()
	if ok && time.Since(e.snapshot.FetchedAt) < c.ttl {
		c.observeAge(id, e.snapshot)
		return e.snapshot, nil
	}
	return c.Refresh(ctx, id, q)
}

// Refresh implements spec §4.3's refresh(db): always forces a fetch,
// coalescing concurrent callers for the same id into one query via
// singleflight, exactly as the kubernaut reference coalesces concurrent
// schema lookups.
func (c *Cache) Refresh(ctx context.Context, id coretypes.DatabaseId, q Querier) (coretypes.SchemaSnapshot, *orcherr.Error) {
	v, err, _ := c.group.Do(string(id), func() (any, error) {
		snap, fetchErr := fetchSnapshot(ctx, id, q)
		if fetchErr != nil {
			return coretypes.SchemaSnapshot{}, fetchErr
		}
		c.mu.Lock()
		c.store[id] = entry{snapshot: snap}
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		if oe, ok := err.(*orcherr.Error); ok {
			return coretypes.SchemaSnapshot{}, oe
		}
		return coretypes.SchemaSnapshot{}, orcherr.Internal("schema refresh failed", err)
	}
	snap := v.(coretypes.SchemaSnapshot)
	c.observeAge(id, snap)
	return snap, nil
}

func (c *Cache) observeAge(id coretypes.DatabaseId, snap coretypes.SchemaSnapshot) {
	if c.metrics == nil {
		return
	}
	c.metrics.SchemaCacheAgeSecs.WithLabelValues(string(id)).Set(time.Since(snap.FetchedAt).Seconds())
}

// schemaQuery mirrors spec §4.3's "information_schema.tables/columns
// filtered to user schemas, ordered deterministically by table_schema,
// table_name, ordinal_position."
const schemaQuery = `
SELECT c.table_schema, c.table_name, c.column_name, c.data_type, c.is_nullable,
       COALESCE(pk.is_primary_key, false) AS is_primary_key
FROM information_schema.columns c
LEFT JOIN (
	SELECT tc.table_schema, tc.table_name, ccu.column_name, true AS is_primary_key
	FROM information_schema.table_constraints tc
	JOIN information_schema.constraint_column_usage ccu
	  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
	WHERE tc.constraint_type = 'PRIMARY KEY'
) pk ON pk.table_schema = c.table_schema AND pk.table_name = c.table_name AND pk.column_name = c.column_name
WHERE c.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
ORDER BY c.table_schema, c.table_name, c.ordinal_position
`

func fetchSnapshot(ctx context.Context, id coretypes.DatabaseId, q Querier) (coretypes.SchemaSnapshot, *orcherr.Error) {
	rows, err := q.Query(ctx, schemaQuery)
	if err != nil {
		return coretypes.SchemaSnapshot{}, orcherr.SQLExecutionError("schema metadata query failed", err)
	}
	defer rows.Close()

	tables := make(map[coretypes.TableKey][]coretypes.ColumnMeta)
	for rows.Next() {
		var (
			tableSchema, tableName, columnName, dataType, isNullable string
			isPrimaryKey                                             bool
		)
		if err := rows.Scan(&tableSchema, &tableName, &columnName, &dataType, &isNullable, &isPrimaryKey); err != nil {
			return coretypes.SchemaSnapshot{}, orcherr.SQLExecutionError("schema metadata scan failed", err)
		}
		key := coretypes.TableKey{Schema: tableSchema, Table: tableName}
		tables[key] = append(tables[key], coretypes.ColumnMeta{
			Name:         columnName,
			DataType:     dataType,
			IsNullable:   isNullable == "YES",
			IsPrimaryKey: isPrimaryKey,
		})
	}
	if err := rows.Err(); err != nil {
		return coretypes.SchemaSnapshot{}, orcherr.SQLExecutionError("schema metadata rows error", err)
	}

	return coretypes.SchemaSnapshot{Database: id, Tables: tables, FetchedAt: time.Now()}, nil
}

// SortedTableKeys returns the snapshot's tables in deterministic
// schema/table order, used by internal/generator to assemble a stable
// prompt context.
func SortedTableKeys(snap coretypes.SchemaSnapshot) []coretypes.TableKey {
	keys := make([]coretypes.TableKey, 0, len(snap.Tables))
	for k := range snap.Tables {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Schema != keys[j].Schema {
			return keys[i].Schema < keys[j].Schema
		}
		return keys[i].Table < keys[j].Table
	})
	return keys
}
