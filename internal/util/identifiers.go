// internal/util/identifiers.go
package util

import (
	"fmt"
	"strings"
)

// QuoteIdent safely double-quotes a PostgreSQL identifier, returning an
// error if the name contains potentially dangerous characters. Adapted
// from the teacher's backtick-quoting MySQL QuoteIdent: PostgreSQL quotes
// identifiers with " rather than `, and doubles any embedded " instead of
// rejecting it, but the dangerous-character and length rejections are
// unchanged.
func QuoteIdent(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("identifier cannot be empty")
	}
	if strings.ContainsAny(name, " \t\n\r;`\\") {
		return "", fmt.Errorf("identifier contains invalid characters: %q", name)
	}
	if len(name) > 63 {
		return "", fmt.Errorf("identifier too long: %d characters (max 63)", len(name))
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`, nil
}

// NormalizeValue converts raw DB value into something JSON-friendly.
func NormalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	default:
		return x
	}
}
