// Package generator implements C4: turns a natural-language prompt plus a
// schema snapshot into a single SELECT statement. The LLMClient call
// surface and system-prompt framing ("you are a SQL expert; output only
// one SELECT statement for <dialect>") follow
// other_examples/f8f82967_subnetmarco-pgmcp__server-main.go.go's
// generateSQL — the pack's one directly on-topic NL-to-SQL reference,
// itself built on an OpenAI chat-completions client — adapted from that
// file's raw openai-go SDK call to github.com/sashabaranov/go-openai (the
// real pinned dependency in nonomal-WeKnora's go.mod), and from its
// schema-as-free-text block to a topic-sorted, character-budget-truncated
// rendering of coretypes.SchemaSnapshot built with internal/schema's
// deterministic table ordering.
package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/askdba/govern/internal/coretypes"
	"github.com/askdba/govern/internal/observability"
	"github.com/askdba/govern/internal/orcherr"
	"github.com/askdba/govern/internal/schema"
)

// LLMClient is the §6 call surface: {system, user, temperature, max_tokens}
// -> {content, prompt_tokens, completion_tokens}. Generator depends on this
// interface, not on go-openai directly, so tests substitute a fake.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

type CompletionRequest struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

type CompletionResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// OpenAIClient implements LLMClient with github.com/sashabaranov/go-openai.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return CompletionResponse{}, err
	}
	if len(resp.Choices) == 0 {
		return CompletionResponse{}, fmt.Errorf("provider returned no choices")
	}
	return CompletionResponse{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// maxSchemaChars bounds the system-message schema block, mirroring spec
// §4.4's "truncated to a configured character budget."
const maxSchemaChars = 6000

// Generator is the C4 SQL Generator.
type Generator struct {
	llm         LLMClient
	temperature float32
	maxTokens   int
	metrics     *observability.Metrics
}

func New(llm LLMClient, temperature float32, maxTokens int, metrics *observability.Metrics) *Generator {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Generator{llm: llm, temperature: temperature, maxTokens: maxTokens, metrics: metrics}
}

// Generate implements spec §4.4's generate(prompt, schema_snapshot, dialect).
func (g *Generator) Generate(ctx context.Context, prompt string, snap coretypes.SchemaSnapshot, dialect string) (string, int, *orcherr.Error) {
	system := buildSystemPrompt(snap, dialect)

	start := time.Now()
	resp, err := g.llm.Complete(ctx, CompletionRequest{
		System:      system,
		User:        prompt,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if g.metrics != nil {
		g.metrics.LLMLatencySecs.WithLabelValues("generate").Observe(time.Since(start).Seconds())
		g.metrics.LLMCallsTotal.WithLabelValues("generate").Inc()
	}
	if err != nil {
		return "", 0, orcherr.GenerationTransient(fmt.Sprintf("LLM call failed: %v", err), err)
	}

	sql := extractSQL(resp.Content)
	tokens := resp.PromptTokens + resp.CompletionTokens
	if g.metrics != nil {
		g.metrics.LLMTokensUsed.WithLabelValues("generate").Add(float64(tokens))
	}

	if sql == "" || !looksLikeSelect(sql) {
		return "", tokens, orcherr.GenerationMalformed(fmt.Sprintf("model did not return a SELECT statement: %q", truncate(resp.Content, 200)))
	}
	return sql, tokens, nil
}

func buildSystemPrompt(snap coretypes.SchemaSnapshot, dialect string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a SQL expert. Output only one SELECT statement for %s. ", dialect)
	b.WriteString("Do not write anything except the SQL statement, optionally fenced in a ```sql code block. ")
	b.WriteString("Use only the tables and columns listed below; never invent a column.\n\n")
	b.WriteString("Schema:\n")

	remaining := maxSchemaChars
	for _, key := range schema.SortedTableKeys(snap) {
		cols := snap.Tables[key]
		line := formatTableLine(key, cols)
		if remaining-len(line) < 0 {
			b.WriteString("...(schema truncated)\n")
			break
		}
		b.WriteString(line)
		remaining -= len(line)
	}
	return b.String()
}

func formatTableLine(key coretypes.TableKey, cols []coretypes.ColumnMeta) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s.%s(", key.Schema, key.Table)
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		b.WriteString(" ")
		b.WriteString(c.DataType)
		if c.IsPrimaryKey {
			b.WriteString(" PK")
		}
	}
	b.WriteString(")\n")
	return b.String()
}

// extractSQL implements spec §4.4's "extract the first fenced SQL block
// (or the whole body if no fence); strip trailing semicolons," grounded on
// pgmcp's generateSQL trimming of ``` fences and a leading "sql" language
// tag.
func extractSQL(content string) string {
	s := strings.TrimSpace(content)
	if idx := strings.Index(s, "```"); idx != -1 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "sql")
		rest = strings.TrimPrefix(rest, "\n")
		if end := strings.Index(rest, "```"); end != -1 {
			s = rest[:end]
		} else {
			s = rest
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "; \t\n\r")
	return s
}

func looksLikeSelect(sql string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
