// Package coretypes holds the data model shared across the orchestration
// core: the types every component (validator, executor, schema cache,
// generator, scorer, orchestrator) passes between each other.
package coretypes

import "time"

// DatabaseId is the stable textual identifier a database is configured
// under. The orchestrator keys every pool, policy, executor, and breaker
// by this value.
type DatabaseId string

// SecurityPolicy is the immutable per-database safety configuration. One
// instance is built at startup per DatabaseId and never mutated; the
// orchestrator never merges two policies.
type SecurityPolicy struct {
	BlockedTables    map[string]bool
	BlockedColumns   map[string]bool
	BlockedFunctions map[string]bool
	AllowExplain     bool
	MaxRows          int
	MaxExecutionTime time.Duration
	MaxSubqueryDepth int
	ReadonlyRole     string
	SafeSearchPath   string
	ConfidenceThreshold int
}

// ColumnMeta describes one column of one table as reported by
// information_schema.
type ColumnMeta struct {
	Name         string
	DataType     string
	IsNullable   bool
	IsPrimaryKey bool
}

// TableKey identifies a table within a schema.
type TableKey struct {
	Schema string
	Table  string
}

// SchemaSnapshot is an immutable point-in-time copy of schema metadata for
// one database. It is replaced atomically by the schema cache; readers see
// a consistent view for the lifetime of one request.
type SchemaSnapshot struct {
	Database  DatabaseId
	Tables    map[TableKey][]ColumnMeta
	FetchedAt time.Time
}

// StatementKind is the coarse classification of a parsed statement's top
// level node.
type StatementKind int

const (
	StatementUnknown StatementKind = iota
	StatementSelect
	StatementExplain
	StatementOther
)

func (k StatementKind) String() string {
	switch k {
	case StatementSelect:
		return "SELECT"
	case StatementExplain:
		return "EXPLAIN"
	case StatementOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// ColumnRef is a single column reference found in a parsed statement. Table
// is empty when the reference is unqualified.
type ColumnRef struct {
	Table  string
	Column string
}

// ParsedStatement is the validator's view over a single parsed SQL
// statement's AST: the sets the policy checks walk, plus the rewritten SQL
// once validation succeeds.
type ParsedStatement struct {
	TopLevelKind   StatementKind
	AllTables      []string
	AllColumns     []ColumnRef
	AllFunctions   []string
	SubqueryDepth  int
	RewrittenSQL   string
}

// QueryResult is the bounded, read-only result of one executed statement.
// It owns its row data and is consumed once by the response serializer.
type QueryResult struct {
	Columns         []string
	Rows            []map[string]any
	RowCount        int
	ExecutionTimeMs int64
}

// QueryRequest is the orchestrator's single entry point. Exactly one of
// NaturalLanguagePrompt or RawSQL must be set.
type QueryRequest struct {
	NaturalLanguagePrompt string
	RawSQL                string
	DatabaseId            DatabaseId
	MaxRetriesOverride    *int
}

// IsNaturalLanguage reports whether the request should go through the
// generator loop rather than direct validation.
func (r QueryRequest) IsNaturalLanguage() bool {
	return r.RawSQL == ""
}

// QueryResponse is the orchestrator's single success return value.
type QueryResponse struct {
	SQLExecuted string
	Result      QueryResult
	TokensUsed  int
	Warning     string
}

// CircuitPhase is the tagged-variant state of a CircuitState.
type CircuitPhase int

const (
	CircuitClosed CircuitPhase = iota
	CircuitOpen
	CircuitHalfOpen
)

func (p CircuitPhase) String() string {
	switch p {
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// CircuitState is a snapshot of a circuit breaker's state, suitable for
// serializing into the health RPC response.
type CircuitState struct {
	Phase        CircuitPhase
	FailureCount int
	OpenedAt     time.Time
}

// RequestContext carries the correlation id and start time that flow with
// every operation belonging to one client request.
type RequestContext struct {
	RequestID string
	StartTime time.Time
}

// Elapsed returns the time since the request started.
func (rc RequestContext) Elapsed() time.Duration {
	return time.Since(rc.StartTime)
}
