package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.QueryRequestsTotal.WithLabelValues("ok", "main").Inc()
	m.SQLRejectedTotal.WithLabelValues("BlockedTable").Inc()
	m.DBConnectionsActive.WithLabelValues("main").Set(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	byName := map[string]*dto.MetricFamily{}
	for _, mf := range mfs {
		byName[mf.GetName()] = mf
	}

	if _, ok := byName["query_requests_total"]; !ok {
		t.Error("expected query_requests_total to be registered")
	}
	if _, ok := byName["sql_rejected_total"]; !ok {
		t.Error("expected sql_rejected_total to be registered")
	}
	if _, ok := byName["db_connections_active"]; !ok {
		t.Error("expected db_connections_active to be registered")
	}
}
