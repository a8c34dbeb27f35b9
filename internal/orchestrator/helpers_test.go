package orchestrator

import (
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
)

func newTestRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func pgxTxOpts() pgx.TxOptions {
	return pgx.TxOptions{AccessMode: pgx.ReadOnly}
}
