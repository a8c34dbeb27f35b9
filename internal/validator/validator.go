// Package validator implements C1: parses a SQL string into a PostgreSQL
// AST, enforces the per-database SecurityPolicy, injects/clamps LIMIT, and
// returns the rewritten SQL. Grounded primarily on the teacher's
// internal/util/sql_parser.go (statement-kind switch, recursive AST walk,
// dangerous-function/schema denylists) generalized from the MySQL-dialect
// github.com/xwb1989/sqlparser to the real PostgreSQL AST via
// github.com/pganalyze/pg_query_go/v6, following the walk/validate shape
// of other_examples' wayli-app-fluxbase ai-validator.go and
// nonomal-WeKnora's database_query.go (both of which validate against this
// same parser). The teacher's regex-based internal/util/sql_validator.go
// survives as a second, defense-in-depth layer in combined.go.
package validator

import (
	"fmt"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/askdba/govern/internal/coretypes"
	"github.com/askdba/govern/internal/orcherr"
)

// builtinDangerousFunctions is the built-in list referenced by spec §4.1
// item 2 ("union of a built-in list ... and policy.blocked_functions").
// Grounded on nonomal-WeKnora's dangerousPrefixes/dangerousFunctions and
// the wayli-app-fluxbase ai-validator.go's dangerousFunctions map.
var builtinDangerousFunctions = map[string]bool{
	"pg_sleep":            true,
	"pg_terminate_backend": true,
	"pg_cancel_backend":   true,
	"pg_read_file":        true,
	"pg_read_binary_file": true,
	"pg_ls_dir":           true,
	"pg_stat_file":        true,
	"lo_import":           true,
	"lo_export":           true,
	"dblink":              true,
	"dblink_exec":         true,
	"set_config":          true,
	"current_setting":     true,
	"txid_current":        true,
	"query_to_xml":        true,
}

var dangerousFunctionPrefixes = []string{"pg_", "lo_", "dblink", "xp_"}

// Validator is the C1 SQL Validator. It is stateless; the same instance is
// shared across all databases, with per-database behavior coming entirely
// from the SecurityPolicy argument to Validate.
type Validator struct{}

func New() *Validator { return &Validator{} }

// Validate implements spec §4.1's `validate(sql, policy) -> (ok,
// statement) | ValidationError`. On success it returns the ParsedStatement
// with RewrittenSQL set to the LIMIT-injected/clamped, normalized SQL.
func (v *Validator) Validate(sql string, policy coretypes.SecurityPolicy) (*coretypes.ParsedStatement, *orcherr.Error) {
	parseResult, err := pg_query.Parse(sql)
	if err != nil {
		return nil, orcherr.Validation("MultipleStatements", fmt.Sprintf("parse error: %v", err))
	}
	if len(parseResult.Stmts) == 0 {
		return nil, orcherr.Validation("MultipleStatements", "empty statement")
	}
	if len(parseResult.Stmts) > 1 {
		return nil, orcherr.Validation("MultipleStatements", "only one statement is allowed")
	}

	raw := parseResult.Stmts[0]
	node := raw.Stmt

	kind, explainedSelect := classify(node, policy.AllowExplain)
	if kind == coretypes.StatementOther {
		return nil, orcherr.Validation("StatementKindRejected", "only SELECT or EXPLAIN statements are permitted")
	}

	selectStmt := explainedSelect
	if kind == coretypes.StatementSelect {
		selectStmt = node.GetSelectStmt()
	}
	if selectStmt == nil {
		return nil, orcherr.Validation("StatementKindRejected", "only SELECT or EXPLAIN statements are permitted")
	}

	w := &walker{policy: policy}
	if err := w.walkSelect(selectStmt, 0); err != nil {
		return nil, err
	}

	if kind == coretypes.StatementSelect {
		if err := applyLimit(selectStmt, policy.MaxRows); err != nil {
			return nil, err
		}
	}

	rewritten, deparseErr := pg_query.Deparse(parseResult)
	if deparseErr != nil {
		return nil, orcherr.New(orcherr.KindValidationError, "InvalidLimit", fmt.Sprintf("failed to rewrite SQL: %v", deparseErr))
	}

	stmt := &coretypes.ParsedStatement{
		TopLevelKind:  kind,
		AllTables:     sortedKeys(w.tables),
		AllColumns:    w.columns,
		AllFunctions:  sortedKeys(w.functions),
		SubqueryDepth: w.maxDepth,
		RewrittenSQL:  rewritten,
	}
	return stmt, nil
}

func classify(node *pg_query.Node, allowExplain bool) (coretypes.StatementKind, *pg_query.SelectStmt) {
	if sel := node.GetSelectStmt(); sel != nil {
		return coretypes.StatementSelect, sel
	}
	if exp := node.GetExplainStmt(); exp != nil {
		if !allowExplain {
			return coretypes.StatementOther, nil
		}
		if inner := exp.GetQuery(); inner != nil {
			if sel := inner.GetSelectStmt(); sel != nil {
				return coretypes.StatementExplain, sel
			}
		}
		return coretypes.StatementOther, nil
	}
	return coretypes.StatementOther, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// applyLimit enforces spec §4.1 item 5: inject LIMIT policy.MaxRows when
// absent, clamp the literal to min(existing, policy.MaxRows) when present.
func applyLimit(stmt *pg_query.SelectStmt, maxRows int) *orcherr.Error {
	if stmt.Op != pg_query.SetOperation_SETOP_NONE {
		// UNION/INTERSECT/EXCEPT: limit applies to the compound statement
		// as a whole, which pg_query_go already models on the top node.
	}
	if stmt.LimitCount == nil {
		stmt.LimitCount = intConst(maxRows)
		return nil
	}
	existing, ok := constInt(stmt.LimitCount)
	if !ok {
		// A non-literal LIMIT (e.g. LIMIT $1, LIMIT (subquery)) cannot be
		// safely clamped; reject rather than silently trust it.
		return orcherr.New(orcherr.KindValidationError, "InvalidLimit", "LIMIT must be a literal integer")
	}
	limit := existing
	if maxRows < limit {
		limit = maxRows
	}
	stmt.LimitCount = intConst(limit)
	return nil
}

func intConst(n int) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_AConst{AConst: &pg_query.A_Const{
		Val: &pg_query.A_Const_Ival{Ival: &pg_query.Integer{Ival: int32(n)}},
	}}}
}

func constInt(node *pg_query.Node) (int, bool) {
	aconst := node.GetAConst()
	if aconst == nil {
		return 0, false
	}
	if ival := aconst.GetIval(); ival != nil {
		return int(ival.Ival), true
	}
	return 0, false
}

// qualifies reports whether a qualified policy entry like "users.password"
// matches columnTable/columnName, where columnTable may be an alias.
func qualifies(entry, table, column string) bool {
	if !strings.Contains(entry, ".") {
		return strings.EqualFold(entry, column)
	}
	parts := strings.SplitN(entry, ".", 2)
	return strings.EqualFold(parts[0], table) && strings.EqualFold(parts[1], column)
}
