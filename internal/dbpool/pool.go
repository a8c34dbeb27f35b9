// Package dbpool owns the per-database *pgxpool.Pool lifecycle. It
// generalizes the teacher's internal/mysql/client.go Config/connection-pool
// idiom (MaxOpenConns/MaxIdleConns/ConnMaxLifetime, an explicit PingTimeout
// on construction) from database/sql+go-sql-driver/mysql to pgx/v5's native
// pgxpool, and replaces the teacher's single active *sql.DB (selected by
// "USE <db>") with one pool per coretypes.DatabaseId, since the spec
// requires independent per-request database resolution rather than a
// global session-level switch.
package dbpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askdba/govern/internal/coretypes"
	"github.com/askdba/govern/internal/observability"
	"github.com/askdba/govern/internal/orcherr"
)

// Config mirrors the teacher's mysql.Config fields, renamed for pgxpool's
// equivalent knobs.
type Config struct {
	DatabaseId      coretypes.DatabaseId
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	PingTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.MinConns < 0 {
		c.MinConns = 0
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	return c
}

// Manager holds one *pgxpool.Pool per configured database, keyed by
// coretypes.DatabaseId. Unlike the teacher's ConnectionManager, there is no
// notion of a single "active" database: every call names its DatabaseId
// explicitly.
type Manager struct {
	mu      sync.RWMutex
	pools   map[coretypes.DatabaseId]*pgxpool.Pool
	metrics *observability.Metrics
}

func NewManager(metrics *observability.Metrics) *Manager {
	return &Manager{pools: make(map[coretypes.DatabaseId]*pgxpool.Pool), metrics: metrics}
}

// Open creates and pings a pool for cfg.DatabaseId, registering it for
// subsequent Get calls. It mirrors the teacher's New()'s
// configure-then-ping-then-fail-closed sequence.
func (m *Manager) Open(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return orcherr.Internal(fmt.Sprintf("parsing DSN for database %q", cfg.DatabaseId), err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return orcherr.ConnectionLost(fmt.Sprintf("opening pool for database %q", cfg.DatabaseId), err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return orcherr.ConnectionLost(fmt.Sprintf("pinging database %q", cfg.DatabaseId), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.pools[cfg.DatabaseId]; ok {
		existing.Close()
	}
	m.pools[cfg.DatabaseId] = pool
	return nil
}

// Get returns the pool for id, or DatabaseNotFound if Open was never called
// for it.
func (m *Manager) Get(id coretypes.DatabaseId) (*pgxpool.Pool, *orcherr.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pool, ok := m.pools[id]
	if !ok {
		return nil, orcherr.DatabaseNotFound(string(id))
	}
	return pool, nil
}

// SoleDatabase returns the single registered pool's id, used when a request
// omits DatabaseId and exactly one database is configured (spec §4.10 step
// 1). It returns AmbiguousDatabase if zero or more than one are registered.
func (m *Manager) SoleDatabase() (coretypes.DatabaseId, *orcherr.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.pools) != 1 {
		return "", orcherr.AmbiguousDatabase()
	}
	for id := range m.pools {
		return id, nil
	}
	return "", orcherr.AmbiguousDatabase()
}

// Stats reports the live connection count for id (the same figure
// RefreshGauges writes to the db_connections_active gauge), or 0 when id is
// not registered.
func (m *Manager) Stats(id coretypes.DatabaseId) (total int32) {
	m.mu.RLock()
	pool, ok := m.pools[id]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return pool.Stat().TotalConns()
}

// RefreshGauges updates db_connections_active for every registered database.
// Called periodically by cmd/gatewayd.
func (m *Manager) RefreshGauges() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, pool := range m.pools {
		m.metrics.DBConnectionsActive.WithLabelValues(string(id)).Set(float64(pool.Stat().TotalConns()))
	}
}

// Close shuts down every registered pool.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pool := range m.pools {
		pool.Close()
	}
	m.pools = make(map[coretypes.DatabaseId]*pgxpool.Pool)
}
