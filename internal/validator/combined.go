package validator

import (
	"github.com/askdba/govern/internal/coretypes"
	"github.com/askdba/govern/internal/orcherr"
	"github.com/askdba/govern/internal/util"
)

// ValidateCombined runs the teacher-derived regex pass (internal/util) ahead
// of the AST pass. The regex layer is cheap and catches a few things the
// parser alone does not flag as an error (e.g. SQL comments, which the
// parser silently discards; and a non-SQL string is reported as
// StatementKindRejected rather than as a parse error), but the AST walker in this package remains the authority on table/column/
// function denylists and LIMIT enforcement.
func (v *Validator) ValidateCombined(sql string, policy coretypes.SecurityPolicy) (*coretypes.ParsedStatement, *orcherr.Error) {
	if err := util.ValidateSQL(sql); err != nil {
		return nil, orcherr.Validation("StatementKindRejected", err.Error())
	}
	return v.Validate(sql, policy)
}
