// cmd/gatewayd/tools.go
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/askdba/govern/internal/coretypes"
	"github.com/askdba/govern/internal/orcherr"
	"github.com/askdba/govern/internal/orchestrator"
	"github.com/askdba/govern/internal/schema"
)

// toRPCError converts an internal orcherr.Error into the structured
// {code, sub_code?, message, details?} envelope spec §6/§7 documents,
// keeping the top-level code ("ValidationError") and the finer-grained
// sub-code ("BlockedTable") as separate fields instead of one flattened
// string.
func toRPCError(err *orcherr.Error) *RPCError {
	return &RPCError{
		Code:    err.Code(),
		SubCode: err.SubCode(),
		Message: err.Message,
		Details: err.Details,
	}
}

// gateway holds the process-wide collaborators every tool handler needs.
// Unlike the teacher's package-level db/maxRows/connManager globals, every
// handler is a method on gateway and resolves its DatabaseId per call —
// there is no "active connection" to switch.
type gateway struct {
	orchestrator *orchestrator.Orchestrator
}

func (g *gateway) toolQuery(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input QueryInput,
) (*mcp.CallToolResult, QueryOutput, error) {
	if (input.Prompt == "") == (input.SQL == "") {
		return nil, QueryOutput{}, fmt.Errorf("exactly one of prompt or sql must be set")
	}

	qreq := coretypes.QueryRequest{
		NaturalLanguagePrompt: input.Prompt,
		RawSQL:                input.SQL,
		DatabaseId:            coretypes.DatabaseId(input.Database),
		MaxRetriesOverride:    input.MaxRetries,
	}
	rc := coretypes.RequestContext{RequestID: uuid.NewString(), StartTime: time.Now()}

	resp, err := g.orchestrator.ExecuteQuery(ctx, qreq, rc)
	if err != nil {
		return nil, QueryOutput{}, toRPCError(err)
	}

	rows := make([][]interface{}, 0, len(resp.Result.Rows))
	for _, row := range resp.Result.Rows {
		values := make([]interface{}, len(resp.Result.Columns))
		for i, col := range resp.Result.Columns {
			values[i] = row[col]
		}
		rows = append(rows, values)
	}

	return nil, QueryOutput{
		SQLExecuted:     resp.SQLExecuted,
		Columns:         resp.Result.Columns,
		Rows:            rows,
		RowCount:        resp.Result.RowCount,
		TokensUsed:      resp.TokensUsed,
		Warning:         resp.Warning,
		ExecutionTimeMs: resp.Result.ExecutionTimeMs,
	}, nil
}

func (g *gateway) toolSchema(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SchemaInput,
) (*mcp.CallToolResult, SchemaOutput, error) {
	snap, err := g.orchestrator.Schema(ctx, coretypes.DatabaseId(input.Database), input.Refresh)
	if err != nil {
		return nil, SchemaOutput{}, toRPCError(err)
	}

	out := SchemaOutput{Database: string(snap.Database), FetchedAt: snap.FetchedAt.UTC().Format(time.RFC3339)}
	for _, key := range schema.SortedTableKeys(snap) {
		cols := snap.Tables[key]
		tableInfo := SchemaTableInfo{Schema: key.Schema, Table: key.Table, Columns: make([]SchemaColumnInfo, 0, len(cols))}
		for _, col := range cols {
			tableInfo.Columns = append(tableInfo.Columns, SchemaColumnInfo{
				Name:       col.Name,
				Type:       col.DataType,
				Nullable:   col.IsNullable,
				PrimaryKey: col.IsPrimaryKey,
			})
		}
		out.Tables = append(out.Tables, tableInfo)
	}
	return nil, out, nil
}

func (g *gateway) toolHealth(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input HealthInput,
) (*mcp.CallToolResult, HealthOutput, error) {
	states := g.orchestrator.Health()
	out := HealthOutput{Databases: make([]DatabaseHealth, 0, len(states))}
	for id, state := range states {
		out.Databases = append(out.Databases, DatabaseHealth{
			Database:     string(id),
			CircuitPhase: state.Phase.String(),
			FailureCount: state.FailureCount,
		})
	}
	return nil, out, nil
}
