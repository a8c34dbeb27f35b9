// Package executor implements C2: runs already-validated SQL against a
// single database's connection pool inside a read-only transaction.
// Generalizes the teacher's internal/mysql/client.go (database/sql +
// go-sql-driver/mysql, manual USE-then-query session handling) to
// github.com/jackc/pgx/v5/pgxpool, replacing "USE <db>" with
// per-transaction SET LOCAL session parameters and database/sql's
// *sql.Rows column-scan loop with pgx.Rows' equivalent. Rows are counted
// as they stream; a row beyond policy.MaxRows fails the whole query with
// RowCapExceeded instead of truncating the result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askdba/govern/internal/coretypes"
	"github.com/askdba/govern/internal/observability"
	"github.com/askdba/govern/internal/orcherr"
	"github.com/askdba/govern/internal/util"
)

// Pool is the subset of *pgxpool.Pool's surface Execute needs, mirroring
// the teacher-pack's own pattern (StricklySoft's postgres-client.go Pool
// interface) of depending on a narrow interface so a mock implementation
// (github.com/pashagolub/pgxmock/v4) can stand in for *pgxpool.Pool in
// tests without a live database.
type Pool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// statter is implemented by *pgxpool.Pool; pgxmock fakes generally don't
// implement it; Execute degrades gracefully (skips the gauge update) when
// a Pool doesn't satisfy it.
type statter interface {
	Stat() *pgxpool.Stat
}

// searchPathPattern/rolePattern implement spec §4.2 item 3's exact
// character-class pre-validation: any character outside these sets fails
// closed with InvalidSessionParameter before the statement ever runs.
var (
	searchPathPattern = regexp.MustCompile(`^[A-Za-z0-9_,\s]*$`)
	rolePattern       = regexp.MustCompile(`^[A-Za-z0-9_]*$`)
)

// Executor is the C2 SQL Executor for one DatabaseId. It never creates or
// closes its pool — that is dbpool.Manager's responsibility — mirroring
// the teacher's Client when constructed via NewWithDB against a pool it
// does not own.
type Executor struct {
	databaseId coretypes.DatabaseId
	pool       Pool
	metrics    *observability.Metrics
}

func New(databaseId coretypes.DatabaseId, pool Pool, metrics *observability.Metrics) *Executor {
	return &Executor{databaseId: databaseId, pool: pool, metrics: metrics}
}

// Execute implements spec §4.2's execute(sql, timeout_override?). sql is
// trusted to have already passed C1 for this DatabaseId; Execute performs
// no semantic re-validation of its own.
func (e *Executor) Execute(ctx context.Context, sql string, policy coretypes.SecurityPolicy, timeoutOverride *time.Duration) (coretypes.QueryResult, *orcherr.Error) {
	budget := policy.MaxExecutionTime
	if timeoutOverride != nil {
		budget = *timeoutOverride
	}
	if budget <= 0 {
		budget = 30 * time.Second
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	if err := validateSessionParam(searchPathPattern, policy.SafeSearchPath); err != nil {
		return coretypes.QueryResult{}, err
	}
	if err := validateSessionParam(rolePattern, policy.ReadonlyRole); err != nil {
		return coretypes.QueryResult{}, err
	}

	result, execErr := e.runInTx(ctx, sql, policy)

	elapsed := time.Since(start)
	status := "ok"
	if execErr != nil {
		status = execErr.Code()
	}
	if e.metrics != nil {
		e.metrics.QueryDurationSecs.WithLabelValues(string(e.databaseId)).Observe(elapsed.Seconds())
		e.metrics.QueryRequestsTotal.WithLabelValues(status, string(e.databaseId)).Inc()
		if s, ok := e.pool.(statter); ok {
			e.metrics.DBConnectionsActive.WithLabelValues(string(e.databaseId)).Set(float64(s.Stat().TotalConns()))
		}
	}
	if execErr != nil {
		return coretypes.QueryResult{}, execErr
	}
	result.ExecutionTimeMs = elapsed.Milliseconds()
	return result, nil
}

func validateSessionParam(pattern *regexp.Regexp, value string) *orcherr.Error {
	if value == "" {
		return nil
	}
	if !pattern.MatchString(value) {
		return orcherr.InvalidSessionParameter(value)
	}
	return nil
}

func (e *Executor) runInTx(ctx context.Context, sqlText string, policy coretypes.SecurityPolicy) (coretypes.QueryResult, *orcherr.Error) {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return coretypes.QueryResult{}, classify(ctx, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	budgetMs := int64(0)
	if dl, ok := ctx.Deadline(); ok {
		budgetMs = time.Until(dl).Milliseconds()
	}
	if budgetMs > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", budgetMs)); err != nil {
			return coretypes.QueryResult{}, classify(ctx, err)
		}
	}
	if policy.SafeSearchPath != "" {
		if _, err := tx.Exec(ctx, "SET LOCAL search_path = "+policy.SafeSearchPath); err != nil {
			return coretypes.QueryResult{}, classify(ctx, err)
		}
	}
	if policy.ReadonlyRole != "" {
		quotedRole, qerr := util.QuoteIdent(policy.ReadonlyRole)
		if qerr != nil {
			return coretypes.QueryResult{}, orcherr.InvalidSessionParameter(policy.ReadonlyRole)
		}
		if _, err := tx.Exec(ctx, "SET LOCAL ROLE "+quotedRole); err != nil {
			return coretypes.QueryResult{}, classify(ctx, err)
		}
	}

	rows, err := tx.Query(ctx, sqlText)
	if err != nil {
		return coretypes.QueryResult{}, classify(ctx, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	maxRows := policy.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}

	var out []map[string]any
	count := 0
	for rows.Next() {
		if count >= maxRows {
			return coretypes.QueryResult{}, orcherr.RowCapExceeded(maxRows)
		}
		values, err := rows.Values()
		if err != nil {
			return coretypes.QueryResult{}, classify(ctx, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = util.NormalizeValue(values[i])
		}
		out = append(out, row)
		count++
	}
	if err := rows.Err(); err != nil {
		return coretypes.QueryResult{}, classify(ctx, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return coretypes.QueryResult{}, classify(ctx, err)
	}

	return coretypes.QueryResult{Columns: columns, Rows: out, RowCount: count}, nil
}

// classify maps pgx/pgconn/network errors into the §4.2 failure classes:
// Timeout, ConnectionLost (retryable), DriverTransient (retryable), and
// SQLExecutionError (not retryable).
func classify(ctx context.Context, err error) *orcherr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return orcherr.Timeout(err.Error())
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57014": // query_canceled
			return orcherr.Timeout(pgErr.Message)
		case "08000", "08003", "08006", "08001", "08004": // connection_exception class
			return orcherr.ConnectionLost(pgErr.Message, err)
		case "53300", "40001", "40P01": // too_many_connections, serialization_failure, deadlock_detected
			return orcherr.DriverTransient(pgErr.Message, err)
		default:
			return orcherr.SQLExecutionError(pgErr.Message, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return orcherr.DriverTransient(err.Error(), err)
	}

	if errors.Is(err, pgx.ErrTxClosed) || errors.Is(err, pgx.ErrTxCommitRollback) {
		return orcherr.Internal("transaction protocol error", err)
	}

	return orcherr.SQLExecutionError(err.Error(), err)
}
