// internal/util/sql_validator.go
//
// Defense-in-depth regex layer, adapted from the teacher's MySQL-oriented
// pattern set to PostgreSQL. The primary defense is the AST-based
// validator.Validator; this package's ValidateSQL runs as a cheap second
// opinion ahead of it (see validator.ValidateCombined), and
// ValidateWhereClause is a standalone check that ValidateCombined does not
// call. This is the same "regex catches what slips past the parser, parser catches what
// regex can't express" layering the teacher used for MySQL.
package util

import (
	"fmt"
	"regexp"
	"strings"
)

// SQLValidationError contains details about why a query was rejected.
type SQLValidationError struct {
	Reason  string
	Pattern string
}

func (e *SQLValidationError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Pattern)
	}
	return e.Reason
}

// Blocked SQL patterns - these are dangerous even in SELECT statements.
var blockedPatterns = []*regexp.Regexp{
	// File/process operations
	regexp.MustCompile(`(?i)\bPG_READ_FILE\s*\(`),
	regexp.MustCompile(`(?i)\bPG_READ_BINARY_FILE\s*\(`),
	regexp.MustCompile(`(?i)\bPG_LS_DIR\s*\(`),
	regexp.MustCompile(`(?i)\bLO_IMPORT\s*\(`),
	regexp.MustCompile(`(?i)\bLO_EXPORT\s*\(`),
	regexp.MustCompile(`(?i)\bCOPY\b`),

	// DDL statements that might slip through
	regexp.MustCompile(`(?i)^\s*CREATE\b`),
	regexp.MustCompile(`(?i)^\s*ALTER\b`),
	regexp.MustCompile(`(?i)^\s*DROP\b`),
	regexp.MustCompile(`(?i)^\s*TRUNCATE\b`),

	// DML statements
	regexp.MustCompile(`(?i)^\s*INSERT\b`),
	regexp.MustCompile(`(?i)^\s*UPDATE\b`),
	regexp.MustCompile(`(?i)^\s*DELETE\b`),

	// Administrative commands
	regexp.MustCompile(`(?i)^\s*GRANT\b`),
	regexp.MustCompile(`(?i)^\s*REVOKE\b`),
	regexp.MustCompile(`(?i)^\s*SET\s+(ROLE|SESSION|GLOBAL)\b`),
	regexp.MustCompile(`(?i)^\s*RESET\b`),
	regexp.MustCompile(`(?i)^\s*VACUUM\b`),

	// Locking
	regexp.MustCompile(`(?i)\bFOR\s+UPDATE\b`),
	regexp.MustCompile(`(?i)\bFOR\s+SHARE\b`),

	// Transactions (should not be user-controlled; the executor opens its own)
	regexp.MustCompile(`(?i)^\s*BEGIN\b`),
	regexp.MustCompile(`(?i)^\s*COMMIT\b`),
	regexp.MustCompile(`(?i)^\s*ROLLBACK\b`),
	regexp.MustCompile(`(?i)^\s*SAVEPOINT\b`),

	// Prepared statements (could be abused to stash a later statement)
	regexp.MustCompile(`(?i)^\s*PREPARE\b`),
	regexp.MustCompile(`(?i)^\s*EXECUTE\b`),
	regexp.MustCompile(`(?i)^\s*DEALLOCATE\b`),

	// Functions that can stall or cross databases
	regexp.MustCompile(`(?i)\bPG_SLEEP\s*\(`),
	regexp.MustCompile(`(?i)\bPG_TERMINATE_BACKEND\s*\(`),
	regexp.MustCompile(`(?i)\bDBLINK\s*\(`),
	regexp.MustCompile(`(?i)\bDBLINK_EXEC\s*\(`),

	// SQL comments (could be used to truncate/hide malicious SQL)
	regexp.MustCompile(`--`),
	regexp.MustCompile(`/\*`),
}

// stringLiteralPattern matches a single-quoted SQL string literal, including
// a quote escaped by doubling it. Literals are blanked before pattern matching so that
// ';', '--' or '/*' inside a string value is not mistaken for syntax.
var stringLiteralPattern = regexp.MustCompile(`'(?:[^']|'')*'`)

// allowedPrefixes lists the statement kinds spec §4.1 permits; EXPLAIN is
// gated separately by policy.allow_explain in validator.Validator, but this
// cheap layer still needs to admit it so the AST layer gets a chance to
// apply that gate. WITH admits a SELECT led by common table expressions;
// the AST layer rejects a WITH whose main statement is not a SELECT.
var allowedPrefixes = []string{
	"SELECT",
	"EXPLAIN",
	"WITH",
}

// ValidateSQL performs the cheap regex safety pass described above. It is
// not a substitute for validator.Validator — callers run both.
func ValidateSQL(sqlText string) error {
	s := strings.TrimSpace(sqlText)
	if s == "" {
		return &SQLValidationError{Reason: "empty query"}
	}

	unquoted := stringLiteralPattern.ReplaceAllString(s, "''")
	cleaned := strings.TrimRight(unquoted, "; \t\n\r")
	if strings.Contains(cleaned, ";") {
		return &SQLValidationError{
			Reason:  "multi-statement queries are not allowed",
			Pattern: ";",
		}
	}

	for _, pattern := range blockedPatterns {
		if pattern.MatchString(unquoted) {
			return &SQLValidationError{
				Reason:  "query contains blocked pattern",
				Pattern: pattern.String(),
			}
		}
	}

	upper := strings.ToUpper(s)
	allowed := false
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(upper, prefix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return &SQLValidationError{
			Reason: "only SELECT and EXPLAIN queries are allowed",
		}
	}

	return nil
}

// IsReadOnlySQL is a convenience wrapper for ValidateSQL.
func IsReadOnlySQL(sqlText string) bool {
	return ValidateSQL(sqlText) == nil
}

// ValidateSelectColumns validates and quotes column names in a SELECT list.
// Accepts: "col1, col2, col3" or "col1 AS alias, col2".
func ValidateSelectColumns(selectStr string) (string, error) {
	if selectStr == "" {
		return "*", nil
	}

	dangerousPatterns := []string{
		"(", ")", ";", "--", "/*", "*/", "PG_SLEEP",
		"PG_READ_FILE", "COPY", "UNION", "INFORMATION_SCHEMA", "PG_CATALOG",
	}
	upperSelect := strings.ToUpper(selectStr)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(upperSelect, pattern) {
			return "", fmt.Errorf("select contains forbidden pattern: %s", pattern)
		}
	}

	parts := strings.Split(selectStr, ",")
	var quotedCols []string

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var colName, alias string
		if idx := strings.Index(strings.ToUpper(part), " AS "); idx != -1 {
			colName = strings.TrimSpace(part[:idx])
			alias = strings.TrimSpace(part[idx+4:])
		} else {
			colName = part
		}

		if colName == "*" {
			quotedCols = append(quotedCols, "*")
			continue
		}

		if strings.Contains(colName, ".") {
			dotParts := strings.Split(colName, ".")
			if len(dotParts) != 2 {
				return "", fmt.Errorf("invalid column reference: %s", colName)
			}
			tablePart, err := QuoteIdent(strings.TrimSpace(dotParts[0]))
			if err != nil {
				return "", fmt.Errorf("invalid table in column reference: %w", err)
			}
			colPart, err := QuoteIdent(strings.TrimSpace(dotParts[1]))
			if err != nil {
				return "", fmt.Errorf("invalid column in reference: %w", err)
			}
			colName = tablePart + "." + colPart
		} else {
			quoted, err := QuoteIdent(colName)
			if err != nil {
				return "", fmt.Errorf("invalid column name: %w", err)
			}
			colName = quoted
		}

		if alias != "" {
			quotedAlias, err := QuoteIdent(alias)
			if err != nil {
				return "", fmt.Errorf("invalid alias: %w", err)
			}
			quotedCols = append(quotedCols, colName+" AS "+quotedAlias)
		} else {
			quotedCols = append(quotedCols, colName)
		}
	}

	if len(quotedCols) == 0 {
		return "*", nil
	}

	return strings.Join(quotedCols, ", "), nil
}

// Patterns for WHERE clause validation.
var dangerousWherePatterns = []struct {
	pattern *regexp.Regexp
	reason  string
}{
	{regexp.MustCompile(`(?i);\s*`), "semicolon (multi-statement)"},
	{regexp.MustCompile(`(?i)--`), "SQL comment"},
	{regexp.MustCompile(`(?i)/\*`), "SQL block comment"},
	{regexp.MustCompile(`(?i)\bUNION\b`), "UNION keyword"},
	{regexp.MustCompile(`(?i)\bPG_READ_FILE\s*\(`), "pg_read_file function"},
	{regexp.MustCompile(`(?i)\bPG_SLEEP\s*\(`), "pg_sleep function"},
	{regexp.MustCompile(`(?i)\bDBLINK\s*\(`), "dblink function"},
	{regexp.MustCompile(`(?i)\bINFORMATION_SCHEMA\b`), "information_schema access"},
	{regexp.MustCompile(`(?i)\bPG_CATALOG\b`), "pg_catalog access"},
	{regexp.MustCompile(`(?i)\bPG_TEMP\b`), "pg_temp access"},
	{regexp.MustCompile(`(?i)\bEXEC\s*\(`), "EXEC function"},
	{regexp.MustCompile(`(?i)0x[0-9a-fA-F]{10,}`), "long hex string (possible injection)"},
}

// ValidateWhereClause checks a WHERE clause for SQL injection attempts.
// Defense-in-depth: the primary protection is the read-only transaction
// and the AST validator, but obvious injection patterns are blocked here
// too.
func ValidateWhereClause(where string) error {
	if where == "" {
		return nil
	}

	unquoted := stringLiteralPattern.ReplaceAllString(where, "''")
	for _, dp := range dangerousWherePatterns {
		if dp.pattern.MatchString(unquoted) {
			return fmt.Errorf("forbidden pattern detected: %s", dp.reason)
		}
	}

	openParens := strings.Count(where, "(")
	closeParens := strings.Count(where, ")")
	if openParens != closeParens {
		return fmt.Errorf("unbalanced parentheses in WHERE clause")
	}

	if len(where) > 1000 {
		return fmt.Errorf("WHERE clause too long (max 1000 characters)")
	}

	return nil
}
