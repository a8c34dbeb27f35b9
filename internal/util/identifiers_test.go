// internal/util/identifiers_test.go
package util

import (
	"testing"
)

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      string
		wantError bool
	}{
		{"valid simple", "users", `"users"`, false},
		{"valid with underscore", "user_accounts", `"user_accounts"`, false},
		{"valid with numbers", "table123", `"table123"`, false},
		{"empty string", "", "", true},
		{"contains space", "user accounts", "", true},
		{"contains semicolon", "users;", "", true},
		{"contains backtick", "users`drop", "", true},
		{"contains tab", "users\ttable", "", true},
		{"contains newline", "users\ntable", "", true},
		{"contains backslash", "users\\table", "", true},
		{"too long", string(make([]byte, 64)), "", true},
		{"max length (63)", string(make([]byte, 63)), `"` + string(make([]byte, 63)) + `"`, false},
		{"embedded double quote", `us"ers`, `"us""ers"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := QuoteIdent(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("QuoteIdent() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if got != tt.want {
				t.Errorf("QuoteIdent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  interface{}
	}{
		{"nil value", nil, nil},
		{"byte slice", []byte("hello"), "hello"},
		{"string", "hello", "hello"},
		{"int", 42, 42},
		{"float", 3.14, 3.14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeValue(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeValue() = %v, want %v", got, tt.want)
			}
		})
	}
}
