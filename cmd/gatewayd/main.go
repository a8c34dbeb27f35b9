// cmd/gatewayd/main.go
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/askdba/govern/internal/config"
	"github.com/askdba/govern/internal/coretypes"
	"github.com/askdba/govern/internal/dbpool"
	"github.com/askdba/govern/internal/executor"
	"github.com/askdba/govern/internal/generator"
	"github.com/askdba/govern/internal/observability"
	"github.com/askdba/govern/internal/orchestrator"
	"github.com/askdba/govern/internal/resilience/breaker"
	"github.com/askdba/govern/internal/resilience/ratelimit"
	"github.com/askdba/govern/internal/resilience/retry"
	"github.com/askdba/govern/internal/schema"
	"github.com/askdba/govern/internal/scorer"
	"github.com/askdba/govern/internal/validator"
)

func main() {
	flag.StringVar(&config.ConfigFilePath, "config", "", "path to a govern config file (YAML or JSON)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := observability.NewLogger(cfg.JSONLogging, logLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()
	zlog := logger.For(context.Background(), "gatewayd")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	pools := dbpool.NewManager(metrics)
	defer pools.Close()

	ctx := context.Background()
	for _, db := range cfg.Databases {
		openCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout+5*time.Second)
		err := pools.Open(openCtx, dbpool.Config{
			DatabaseId:      coretypes.DatabaseId(db.Name),
			DSN:             db.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.ConnMaxLifetime,
			MaxConnIdleTime: cfg.ConnMaxIdleTime,
			PingTimeout:     cfg.PingTimeout,
		})
		cancel()
		if err != nil {
			log.Fatalf("failed to open database %q: %v", db.Name, err)
		}
		zlog.Info("database pool opened", zap.String("database", db.Name), zap.String("dsn", observability.MaskDSN(db.DSN)))
	}

	deps := orchestrator.Dependencies{
		Validator:     validator.New(),
		SchemaCache:   schema.New(cfg.SchemaCacheTTL, metrics),
		Generator:     generator.New(generator.NewOpenAIClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel), float32(cfg.LLMTemperature), cfg.LLMMaxTokens, metrics),
		Scorer:        scorer.New(0),
		RateLimiter:   ratelimit.New(map[string]int{"query": cfg.RateLimitQueryCap, "llm": cfg.RateLimitLLMCap}, metrics),
		LLMBreaker:    breaker.New(breaker.Config{FailureThreshold: cfg.LLMBreakerFailureThreshold, CooldownTimeout: cfg.LLMBreakerCooldown}),
		QueryRetry:    retry.Config{BaseDelay: cfg.QueryRetryBaseDelay, MaxDelay: cfg.QueryRetryMaxDelay, Factor: cfg.QueryRetryFactor, MaxAttempts: cfg.QueryRetryMaxAttempts, Jitter: cfg.QueryRetryJitter},
		LLMRetry:      retry.Config{BaseDelay: cfg.LLMRetryBaseDelay, MaxDelay: cfg.LLMRetryMaxDelay, Factor: cfg.LLMRetryFactor, MaxAttempts: cfg.LLMRetryMaxAttempts, Jitter: cfg.LLMRetryJitter},
		Metrics:       metrics,
		Logger:        logger,
		Dialect:       cfg.Dialect,
		MaxLLMRetries: cfg.MaxLLMRetries,
	}
	orch := orchestrator.New(deps)

	for _, db := range cfg.Databases {
		id := coretypes.DatabaseId(db.Name)
		pool, perr := pools.Get(id)
		if perr != nil {
			log.Fatalf("database %q missing from pool manager after Open: %v", db.Name, perr)
		}
		policy := coretypes.SecurityPolicy{
			BlockedTables:       toSet(db.BlockedTables),
			BlockedColumns:      toSet(db.BlockedColumns),
			BlockedFunctions:    toSet(db.BlockedFunctions),
			AllowExplain:        db.AllowExplain,
			MaxRows:             db.MaxRows,
			MaxExecutionTime:    db.MaxExecutionTime,
			MaxSubqueryDepth:    db.MaxSubqueryDepth,
			ReadonlyRole:        db.ReadonlyRole,
			SafeSearchPath:      db.SafeSearchPath,
			ConfidenceThreshold: db.ConfidenceThreshold,
		}
		exec := executor.New(id, pool, metrics)
		orch.RegisterDatabase(id, policy, exec, breaker.Config{
			FailureThreshold: cfg.QueryBreakerFailureThreshold,
			CooldownTimeout:  cfg.QueryBreakerCooldown,
		}, pool)
	}

	gw := &gateway{orchestrator: orch}

	if cfg.HTTPMode {
		go serveHTTP(*cfg, registry, gw, zlog)
	}

	go refreshGaugesLoop(pools)

	server := mcp.NewServer(&mcp.Implementation{Name: "govern-gatewayd", Version: "0.1.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query",
		Description: "Translate a natural-language question into read-only SQL (or validate and run raw SQL) against a configured Postgres database",
	}, gw.toolQuery)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "schema",
		Description: "Describe the tables and columns visible to a configured database",
	}, gw.toolSchema)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "health",
		Description: "Report circuit breaker state for every configured database",
	}, gw.toolHealth)

	zlog.Info("govern-gatewayd started", zap.Int("databases", len(cfg.Databases)), zap.Bool("http_mode", cfg.HTTPMode))

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatal(err)
	}
}

func refreshGaugesLoop(pools *dbpool.Manager) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		pools.RefreshGauges()
	}
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func logLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.Set(level); err != nil {
		return zapcore.InfoLevel
	}
	return l
}
