// cmd/gatewayd/tools_test.go
package main

import (
	"testing"

	"github.com/askdba/govern/internal/orcherr"
)

func TestToRPCError_KeepsCodeAndSubCodeSeparate(t *testing.T) {
	err := orcherr.Validation("BlockedTable", "query references a blocked table: passwords")
	rpcErr := toRPCError(err)

	if rpcErr.Code != "ValidationError" {
		t.Errorf("Code = %q, want %q", rpcErr.Code, "ValidationError")
	}
	if rpcErr.SubCode != "BlockedTable" {
		t.Errorf("SubCode = %q, want %q", rpcErr.SubCode, "BlockedTable")
	}
	if rpcErr.Message != err.Message {
		t.Errorf("Message = %q, want %q", rpcErr.Message, err.Message)
	}
}

func TestToRPCError_NoSubCode(t *testing.T) {
	err := orcherr.DatabaseNotFound("reporting")
	rpcErr := toRPCError(err)

	if rpcErr.Code != "DatabaseNotFound" {
		t.Errorf("Code = %q, want %q", rpcErr.Code, "DatabaseNotFound")
	}
	if rpcErr.SubCode != "" {
		t.Errorf("SubCode = %q, want empty", rpcErr.SubCode)
	}
}
