// Package orchestrator implements C10: the single entry point that routes
// a QueryRequest to its DatabaseId's isolated (pool, policy, executor,
// breaker) tuple and drives the end-to-end state machine of spec §4.10.
// Generalized from the teacher's ConnectionManager, which kept one active
// MySQL connection a caller switched between with "USE"/connect calls — a
// shape spec §9 calls out as a blended-access hazard under concurrent
// requests. Here every request resolves its own DatabaseId and never
// touches another database's resources, closing that hazard.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/askdba/govern/internal/coretypes"
	"github.com/askdba/govern/internal/executor"
	"github.com/askdba/govern/internal/generator"
	"github.com/askdba/govern/internal/observability"
	"github.com/askdba/govern/internal/orcherr"
	"github.com/askdba/govern/internal/resilience/breaker"
	"github.com/askdba/govern/internal/resilience/ratelimit"
	"github.com/askdba/govern/internal/resilience/retry"
	"github.com/askdba/govern/internal/schema"
	"github.com/askdba/govern/internal/scorer"
	"github.com/askdba/govern/internal/validator"
)

const defaultMaxLLMRetries = 3

// database bundles the per-DatabaseId tuple the spec requires be isolated:
// "an isolated (pool, policy, executor, breaker) tuple per DatabaseId,
// looked up per-request, never switched globally."
type database struct {
	policy  coretypes.SecurityPolicy
	exec    *executor.Executor
	breaker *breaker.Breaker
	querier schema.Querier
}

// Dependencies bundles the shared (not per-database) collaborators the
// orchestrator composes: the single schema cache, validator, generator,
// scorer, rate limiter, retry configs, and the LLM's own circuit breaker.
type Dependencies struct {
	Validator     *validator.Validator
	SchemaCache   *schema.Cache
	Generator     *generator.Generator
	Scorer        *scorer.Scorer
	RateLimiter   *ratelimit.Limiter
	LLMBreaker    *breaker.Breaker
	QueryRetry    retry.Config
	LLMRetry      retry.Config
	Metrics       *observability.Metrics
	Logger        *observability.Logger
	Dialect       string
	MaxLLMRetries int
}

// Orchestrator is the C10 component.
type Orchestrator struct {
	deps      Dependencies
	databases map[coretypes.DatabaseId]*database
}

func New(deps Dependencies) *Orchestrator {
	if deps.MaxLLMRetries <= 0 {
		deps.MaxLLMRetries = defaultMaxLLMRetries
	}
	if deps.Dialect == "" {
		deps.Dialect = "postgresql"
	}
	return &Orchestrator{deps: deps, databases: make(map[coretypes.DatabaseId]*database)}
}

// RegisterDatabase wires one DatabaseId's isolated tuple. Called once per
// configured database at startup.
func (o *Orchestrator) RegisterDatabase(id coretypes.DatabaseId, policy coretypes.SecurityPolicy, exec *executor.Executor, breakerCfg breaker.Config, querier schema.Querier) {
	o.databases[id] = &database{
		policy:  policy,
		exec:    exec,
		breaker: breaker.New(breakerCfg),
		querier: querier,
	}
}

// ExecuteQuery implements spec §4.10's execute_query(QueryRequest,
// RequestContext) -> QueryResponse | OrchestrationError, steps 1-8.
func (o *Orchestrator) ExecuteQuery(ctx context.Context, req coretypes.QueryRequest, rc coretypes.RequestContext) (coretypes.QueryResponse, *orcherr.Error) {
	ctx = observability.WithRequestID(ctx, rc.RequestID)

	// Step 1: ResolveDatabase.
	id, db, err := o.resolveDatabase(req)
	if err != nil {
		o.countError(err)
		return coretypes.QueryResponse{}, err
	}

	// Step 2: Branch on input.
	if !req.IsNaturalLanguage() {
		sql, verr := o.deps.Validator.ValidateCombined(req.RawSQL, db.policy)
		if verr != nil {
			o.rejectSQL(verr)
			return coretypes.QueryResponse{}, verr
		}
		result, execErr := o.executeWithResilience(ctx, id, db, sql.RewrittenSQL, req)
		if execErr != nil {
			o.countError(execErr)
			return coretypes.QueryResponse{}, execErr
		}
		return coretypes.QueryResponse{SQLExecuted: sql.RewrittenSQL, Result: result, TokensUsed: 0}, nil
	}

	return o.naturalLanguageFlow(ctx, id, db, req)
}

func (o *Orchestrator) resolveDatabase(req coretypes.QueryRequest) (coretypes.DatabaseId, *database, *orcherr.Error) {
	if req.DatabaseId != "" {
		db, ok := o.databases[req.DatabaseId]
		if !ok {
			return "", nil, orcherr.DatabaseNotFound(string(req.DatabaseId))
		}
		return req.DatabaseId, db, nil
	}
	if len(o.databases) != 1 {
		return "", nil, orcherr.AmbiguousDatabase()
	}
	for id, db := range o.databases {
		return id, db, nil
	}
	return "", nil, orcherr.AmbiguousDatabase()
}

// naturalLanguageFlow implements steps 3-7 for the NL path: LoadSchema,
// then up to MaxLLMRetries rounds of GenerateLoop -> Validate -> Execute ->
// Score, feeding the prior round's error or low-confidence summary back
// into the next prompt attempt.
func (o *Orchestrator) naturalLanguageFlow(ctx context.Context, id coretypes.DatabaseId, db *database, req coretypes.QueryRequest) (coretypes.QueryResponse, *orcherr.Error) {
	maxAttempts := o.deps.MaxLLMRetries
	if req.MaxRetriesOverride != nil && *req.MaxRetriesOverride > 0 {
		maxAttempts = *req.MaxRetriesOverride
	}

	// Step 3: LoadSchema.
	snap, serr := o.deps.SchemaCache.Get(ctx, id, db.querier)
	if serr != nil {
		o.countError(serr)
		return coretypes.QueryResponse{}, serr
	}

	prompt := req.NaturalLanguagePrompt
	totalTokens := 0

	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Step 4: GenerateLoop, gated by llm rate limit + LLM breaker + retry.
		sqlText, tokens, genErr := o.generate(ctx, prompt, snap)
		totalTokens += tokens
		if genErr != nil {
			if !genErr.Retryable() {
				o.countError(genErr)
				return coretypes.QueryResponse{}, genErr
			}
			continue
		}

		// Step 5: Validate.
		parsed, verr := o.deps.Validator.ValidateCombined(sqlText, db.policy)
		if verr != nil {
			o.rejectSQL(verr)
			prompt = feedbackPrompt(req.NaturalLanguagePrompt, sqlText, verr.Error())
			continue
		}

		// Step 6: Execute, gated by query rate limit + DB breaker + retry.
		result, execErr := o.executeWithResilience(ctx, id, db, parsed.RewrittenSQL, req)
		if execErr != nil {
			if !execErr.Retryable() {
				o.countError(execErr)
				return coretypes.QueryResponse{}, execErr
			}
			prompt = feedbackPrompt(req.NaturalLanguagePrompt, sqlText, execErr.Error())
			continue
		}

		// Step 7: Score (NL only).
		score := o.deps.Scorer.ScoreResult(req.NaturalLanguagePrompt, parsed.RewrittenSQL, result)
		if score.Acceptable {
			return coretypes.QueryResponse{SQLExecuted: parsed.RewrittenSQL, Result: result, TokensUsed: totalTokens}, nil
		}
		if attempt == maxAttempts-1 {
			return coretypes.QueryResponse{
				SQLExecuted: parsed.RewrittenSQL,
				Result:      result,
				TokensUsed:  totalTokens,
				Warning:     fmt.Sprintf("result accepted despite low confidence (%d)", score.Confidence),
			}, nil
		}
		prompt = feedbackPrompt(req.NaturalLanguagePrompt, sqlText, fmt.Sprintf("low confidence result (%d); reconsider the query", score.Confidence))
	}

	err := orcherr.GenerationExhausted()
	o.countError(err)
	return coretypes.QueryResponse{}, err
}

func feedbackPrompt(original, lastSQL, problem string) string {
	return fmt.Sprintf("%s\n\nYour previous attempt:\n%s\n\nThat failed because: %s\nPlease produce a corrected single SELECT statement.", original, lastSQL, problem)
}

// generate wraps C4 in the llm rate limiter, the LLM circuit breaker, and
// the retry engine, per step 4a-4c.
func (o *Orchestrator) generate(ctx context.Context, prompt string, snap coretypes.SchemaSnapshot) (string, int, *orcherr.Error) {
	release, rlErr := o.deps.RateLimiter.Acquire(ctx, "llm")
	if rlErr != nil {
		if oe, ok := rlErr.(*orcherr.Error); ok {
			return "", 0, oe
		}
		return "", 0, orcherr.Internal("rate limiter failure", rlErr)
	}
	defer release()

	var sql string
	var tokens int
	var genErr *orcherr.Error

	retryErr := retry.Do(ctx, o.deps.LLMRetry, func(err error) bool {
		oe, ok := err.(*orcherr.Error)
		return ok && oe.Retryable()
	}, func(ctx context.Context) error {
		breakerErr := o.deps.LLMBreaker.Call(func() error {
			s, t, gerr := o.deps.Generator.Generate(ctx, prompt, snap, o.deps.Dialect)
			sql, tokens, genErr = s, t, gerr
			if gerr != nil {
				return gerr
			}
			return nil
		}, func(err error) bool {
			oe, ok := err.(*orcherr.Error)
			return ok && oe.Retryable()
		})
		return breakerErr
	})

	if retryErr != nil {
		if oe, ok := retryErr.(*orcherr.Error); ok {
			return "", tokens, oe
		}
		return "", tokens, orcherr.Internal("generation failed", retryErr)
	}
	return sql, tokens, genErr
}

// executeWithResilience wraps C2 in the query rate limiter, the
// per-database circuit breaker, and the retry engine, per step 6a-6c.
func (o *Orchestrator) executeWithResilience(ctx context.Context, id coretypes.DatabaseId, db *database, sql string, req coretypes.QueryRequest) (coretypes.QueryResult, *orcherr.Error) {
	release, rlErr := o.deps.RateLimiter.Acquire(ctx, "query")
	if rlErr != nil {
		if oe, ok := rlErr.(*orcherr.Error); ok {
			return coretypes.QueryResult{}, oe
		}
		return coretypes.QueryResult{}, orcherr.Internal("rate limiter failure", rlErr)
	}
	defer release()

	var result coretypes.QueryResult
	var execErr *orcherr.Error

	retryErr := retry.Do(ctx, o.deps.QueryRetry, func(err error) bool {
		oe, ok := err.(*orcherr.Error)
		if !ok {
			return false
		}
		switch oe.Kind.String() {
		case "DriverTransient", "ConnectionLost":
			return true
		default:
			return false
		}
	}, func(ctx context.Context) error {
		breakerErr := db.breaker.Call(func() error {
			r, e := db.exec.Execute(ctx, sql, db.policy, nil)
			result, execErr = r, e
			if e != nil {
				return e
			}
			return nil
		}, func(err error) bool {
			oe, ok := err.(*orcherr.Error)
			return ok && oe.Retryable()
		})
		return breakerErr
	})

	if retryErr != nil {
		if oe, ok := retryErr.(*orcherr.Error); ok {
			return coretypes.QueryResult{}, oe
		}
		return coretypes.QueryResult{}, orcherr.Internal("execution failed", retryErr)
	}
	return result, execErr
}

func (o *Orchestrator) rejectSQL(err *orcherr.Error) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.SQLRejectedTotal.WithLabelValues(err.Reason()).Inc()
	}
}

// Schema returns the cached schema snapshot for the named database (or the
// sole configured database if id is empty), refreshing it on a cache miss.
// When refresh is true the cache entry is bypassed and refetched
// unconditionally, per spec §6's "schema" RPC operation input
// {database, refresh?}. Used by the gatewayd "schema" RPC operation.
func (o *Orchestrator) Schema(ctx context.Context, id coretypes.DatabaseId, refresh bool) (coretypes.SchemaSnapshot, *orcherr.Error) {
	resolvedID, db, err := o.resolveDatabase(coretypes.QueryRequest{DatabaseId: id})
	if err != nil {
		return coretypes.SchemaSnapshot{}, err
	}
	if refresh {
		return o.deps.SchemaCache.Refresh(ctx, resolvedID, db.querier)
	}
	return o.deps.SchemaCache.Get(ctx, resolvedID, db.querier)
}

// Health returns a circuit-breaker snapshot per registered database, for
// the health RPC surface exposed by cmd/gatewayd.
func (o *Orchestrator) Health() map[coretypes.DatabaseId]coretypes.CircuitState {
	out := make(map[coretypes.DatabaseId]coretypes.CircuitState, len(o.databases))
	for id, db := range o.databases {
		out[id] = db.breaker.State()
	}
	return out
}

func (o *Orchestrator) countError(err *orcherr.Error) {
	if o.deps.Metrics != nil && err.Kind.String() == "InternalError" {
		o.deps.Metrics.ErrorsTotal.WithLabelValues("orchestrator").Inc()
	}
}
