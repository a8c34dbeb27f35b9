// Package scorer implements C5: a cheap heuristic confidence score for a
// generated (prompt, sql, result) triple, combining the signals named in
// spec §4.5. No external library fits this narrow a heuristic, so it stays
// on stdlib strings/regexp, following the teacher's own keyword-matching
// style in internal/util/sql_validator.go's ValidateSelectColumns.
package scorer

import (
	"regexp"
	"strings"

	"github.com/askdba/govern/internal/coretypes"
)

var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// Score is the result of scoring a generated query, matching spec §4.5's
// {confidence: 0-100, acceptable: bool}.
type Score struct {
	Confidence int
	Acceptable bool
}

// Scorer is the C5 Result Validator.
type Scorer struct {
	confidenceThreshold int
}

func New(confidenceThreshold int) *Scorer {
	if confidenceThreshold <= 0 {
		confidenceThreshold = 70
	}
	return &Scorer{confidenceThreshold: confidenceThreshold}
}

// ScoreResult implements spec §4.5's score(prompt, sql, result). It is
// only consulted on the natural-language path; the raw-SQL path skips it
// entirely (enforced by the orchestrator, not here).
func (s *Scorer) ScoreResult(prompt, sql string, result coretypes.QueryResult) Score {
	points := 0
	maxPoints := 0

	// Signal 1: result non-empty.
	maxPoints += 30
	if result.RowCount > 0 {
		points += 30
	}

	// Signal 2: column count is plausible: at least 1 and at most 20. The
	// prompt's wording is not consulted for this signal.
	maxPoints += 20
	if len(result.Columns) > 0 && len(result.Columns) <= 20 {
		points += 20
	}

	// Signal 3: SQL structurally references keywords present in the
	// prompt — a cheap proxy for "the model read the question."
	maxPoints += 30
	overlap := keywordOverlap(prompt, sql)
	points += int(float64(overlap) * 30)

	// Signal 4: SQL is a single well-formed SELECT (already guaranteed by
	// the validator by the time Score runs, but a structural sanity check
	// costs nothing and catches a generator regression).
	maxPoints += 20
	if looksStructurallySound(sql) {
		points += 20
	}

	confidence := 0
	if maxPoints > 0 {
		confidence = (points * 100) / maxPoints
	}
	return Score{
		Confidence: confidence,
		Acceptable: confidence >= s.confidenceThreshold,
	}
}

// keywordOverlap returns the fraction (0..1) of significant prompt words
// that also appear, case-insensitively, as identifiers in sql.
func keywordOverlap(prompt, sql string) float64 {
	promptWords := significantWords(prompt)
	if len(promptWords) == 0 {
		return 0.5 // neutral: nothing to compare against
	}
	sqlWords := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(sql, -1) {
		sqlWords[strings.ToLower(w)] = true
	}
	hits := 0
	for w := range promptWords {
		if sqlWords[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(promptWords))
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "in": true, "on": true,
	"for": true, "and": true, "or": true, "is": true, "are": true,
	"what": true, "show": true, "me": true, "list": true, "all": true,
	"how": true, "many": true, "get": true, "find": true, "with": true,
}

func significantWords(prompt string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(prompt, -1) {
		lw := strings.ToLower(w)
		if len(lw) < 3 || stopWords[lw] {
			continue
		}
		out[lw] = true
	}
	return out
}

func looksStructurallySound(sql string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	return (strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")) &&
		strings.Contains(upper, "FROM") &&
		!strings.Contains(upper, ";SELECT")
}
