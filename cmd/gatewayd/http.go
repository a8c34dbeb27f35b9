// cmd/gatewayd/http.go
package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/askdba/govern/internal/api"
	"github.com/askdba/govern/internal/config"
)

// serveHTTP runs the optional JSON/HTTP surface (spec §6) alongside the MCP
// stdio transport, mirroring the query/schema/health tools for callers that
// can't speak MCP. It reuses the teacher's internal/api request-limiting and
// response-envelope helpers unchanged — they never assumed a MySQL shape.
func serveHTTP(cfg config.Config, registry *prometheus.Registry, gw *gateway, zlog *zap.Logger) {
	mux := http.NewServeMux()

	var middlewares []func(http.HandlerFunc) http.HandlerFunc
	if cfg.RateLimitEnabled {
		limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		middlewares = append(middlewares, api.WithRateLimit(limiter))
	}
	middlewares = append(middlewares, api.WithCORS, func(next http.HandlerFunc) http.HandlerFunc {
		return api.WithTimeout(cfg.HTTPRequestTimeout, next)
	})

	mux.HandleFunc("/query", api.Chain(api.RequirePOST(httpQuery(gw)), middlewares...))
	mux.HandleFunc("/schema", api.Chain(api.RequireGET(httpSchema(gw)), middlewares...))
	mux.HandleFunc("/health", api.Chain(api.RequireGET(httpHealth(gw)), middlewares...))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	zlog.Info("http surface listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		zlog.Error("http server stopped", zap.Error(err))
	}
}

func httpQuery(gw *gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input QueryInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			api.WriteBadRequest(w, "invalid JSON body: "+err.Error())
			return
		}
		_, out, err := gw.toolQuery(r.Context(), nil, input)
		if err != nil {
			api.WriteError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		api.WriteSuccess(w, out)
	}
}

func httpSchema(gw *gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input := SchemaInput{
			Database: r.URL.Query().Get("database"),
			Refresh:  r.URL.Query().Get("refresh") == "true",
		}
		_, out, err := gw.toolSchema(r.Context(), nil, input)
		if err != nil {
			api.WriteError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		api.WriteSuccess(w, out)
	}
}

func httpHealth(gw *gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, out, err := gw.toolHealth(r.Context(), nil, HealthInput{})
		if err != nil {
			api.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		api.WriteSuccess(w, out)
	}
}
