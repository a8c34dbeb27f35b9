// cmd/gatewayd/types.go
package main

import "fmt"

// RPCError is the structured error envelope spec §6/§7 document:
// {code, message, details?}, with the finer-grained validation sub-code
// (e.g. "BlockedTable") carried alongside Code ("ValidationError") rather
// than folded into one opaque string, so a client can branch on the
// error family without parsing Error().
type RPCError struct {
	Code    string            `json:"code"`
	SubCode string            `json:"sub_code,omitempty"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *RPCError) Error() string {
	if e.SubCode != "" {
		return fmt.Sprintf("%s/%s: %s", e.Code, e.SubCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ===== query tool =====

type QueryInput struct {
	Prompt     string `json:"prompt,omitempty" jsonschema:"natural-language question to translate into SQL; exactly one of prompt or sql must be set"`
	SQL        string `json:"sql,omitempty" jsonschema:"raw read-only SQL to validate and execute directly, skipping generation"`
	Database   string `json:"database,omitempty" jsonschema:"DatabaseId to target; optional when exactly one database is configured"`
	MaxRetries *int   `json:"max_retries,omitempty" jsonschema:"override the default number of generate/validate/execute attempts on the natural-language path"`
}

type QueryOutput struct {
	SQLExecuted     string          `json:"sql_executed" jsonschema:"the SQL statement that was actually run"`
	Columns         []string        `json:"columns" jsonschema:"result column names"`
	Rows            [][]interface{} `json:"rows" jsonschema:"result rows, one slice of values per row"`
	RowCount        int             `json:"row_count" jsonschema:"number of rows returned"`
	TokensUsed      int             `json:"tokens_used" jsonschema:"LLM tokens consumed generating this query; 0 on the raw-SQL path"`
	Warning         string          `json:"warning,omitempty" jsonschema:"set when a low-confidence result was returned anyway after exhausting retries"`
	ExecutionTimeMs int64           `json:"execution_time_ms" jsonschema:"query execution time in milliseconds"`
}

// ===== schema tool =====

type SchemaInput struct {
	Database string `json:"database,omitempty" jsonschema:"DatabaseId to describe; optional when exactly one database is configured"`
	Refresh  bool   `json:"refresh,omitempty" jsonschema:"bypass the schema cache and refetch from information_schema unconditionally"`
}

type SchemaColumnInfo struct {
	Name       string `json:"name" jsonschema:"column name"`
	Type       string `json:"type" jsonschema:"Postgres data type"`
	Nullable   bool   `json:"nullable" jsonschema:"true if the column accepts NULL"`
	PrimaryKey bool   `json:"primary_key" jsonschema:"true if the column is part of the table's primary key"`
}

type SchemaTableInfo struct {
	Schema  string             `json:"schema" jsonschema:"Postgres schema name"`
	Table   string             `json:"table" jsonschema:"table name"`
	Columns []SchemaColumnInfo `json:"columns" jsonschema:"column metadata"`
}

type SchemaOutput struct {
	Database  string            `json:"database" jsonschema:"DatabaseId this snapshot describes"`
	Tables    []SchemaTableInfo `json:"tables" jsonschema:"tables visible to the configured role, grouped by schema"`
	FetchedAt string            `json:"fetched_at" jsonschema:"RFC3339 timestamp the snapshot was fetched at"`
}

// ===== health tool =====

type HealthInput struct{}

type DatabaseHealth struct {
	Database     string `json:"database" jsonschema:"DatabaseId"`
	CircuitPhase string `json:"circuit_phase" jsonschema:"CLOSED, OPEN, or HALF_OPEN"`
	FailureCount int    `json:"failure_count" jsonschema:"consecutive failures recorded by the circuit breaker"`
}

type HealthOutput struct {
	Databases []DatabaseHealth `json:"databases" jsonschema:"per-database circuit breaker state"`
}
