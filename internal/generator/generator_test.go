package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/askdba/govern/internal/coretypes"
)

type fakeLLM struct {
	resp CompletionResponse
	err  error
}

func (f *fakeLLM) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return f.resp, f.err
}

func testSnapshot() coretypes.SchemaSnapshot {
	return coretypes.SchemaSnapshot{
		Tables: map[coretypes.TableKey][]coretypes.ColumnMeta{
			{Schema: "public", Table: "users"}: {
				{Name: "id", DataType: "integer", IsPrimaryKey: true},
				{Name: "email", DataType: "text"},
			},
		},
	}
}

func TestGenerate_ExtractsFencedSQL(t *testing.T) {
	llm := &fakeLLM{resp: CompletionResponse{
		Content:          "Here you go:\n```sql\nSELECT id, email FROM users;\n```",
		PromptTokens:     40,
		CompletionTokens: 10,
	}}
	g := New(llm, 0.1, 256, nil)
	sql, tokens, err := g.Generate(t.Context(), "list users", testSnapshot(), "postgresql")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if sql != "SELECT id, email FROM users" {
		t.Errorf("sql = %q", sql)
	}
	if tokens != 50 {
		t.Errorf("tokens = %d, want 50", tokens)
	}
}

func TestGenerate_NoFenceUsesWholeBody(t *testing.T) {
	llm := &fakeLLM{resp: CompletionResponse{Content: "SELECT id FROM users;"}}
	g := New(llm, 0.1, 256, nil)
	sql, _, err := g.Generate(t.Context(), "list user ids", testSnapshot(), "postgresql")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if sql != "SELECT id FROM users" {
		t.Errorf("sql = %q", sql)
	}
}

func TestGenerate_NonSelectIsMalformed(t *testing.T) {
	llm := &fakeLLM{resp: CompletionResponse{Content: "DROP TABLE users;"}}
	g := New(llm, 0.1, 256, nil)
	_, _, err := g.Generate(t.Context(), "delete everything", testSnapshot(), "postgresql")
	if err == nil || err.Sub != "MalformedOutput" {
		t.Fatalf("Generate() = %v, want MalformedOutput", err)
	}
}

func TestGenerate_EmptyResponseIsMalformed(t *testing.T) {
	llm := &fakeLLM{resp: CompletionResponse{Content: "   "}}
	g := New(llm, 0.1, 256, nil)
	_, _, err := g.Generate(t.Context(), "anything", testSnapshot(), "postgresql")
	if err == nil || err.Sub != "MalformedOutput" {
		t.Fatalf("Generate() = %v, want MalformedOutput", err)
	}
}

func TestGenerate_NetworkFailureIsRetryable(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection reset")}
	g := New(llm, 0.1, 256, nil)
	_, _, err := g.Generate(t.Context(), "anything", testSnapshot(), "postgresql")
	if err == nil || !err.Retryable() {
		t.Fatalf("Generate() = %v, want a retryable error", err)
	}
}

func TestBuildSystemPrompt_ListsSchemaAndDialect(t *testing.T) {
	prompt := buildSystemPrompt(testSnapshot(), "postgresql")
	if !strings.Contains(prompt, "postgresql") {
		t.Error("expected dialect to appear in system prompt")
	}
	if !strings.Contains(prompt, "public.users") {
		t.Error("expected table name to appear in system prompt")
	}
	if !strings.Contains(prompt, "id integer PK") {
		t.Error("expected primary key marker to appear in system prompt")
	}
}
