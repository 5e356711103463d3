package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewPipelineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.HTTPRequestsTotal.WithLabelValues("GET", "/api/users", "200").Inc()
	m.PublishedTotal.WithLabelValues("acked").Add(2)
	m.ConsumedTotal.WithLabelValues("log-group", "handled").Inc()

	if got := testutil.ToFloat64(m.PublishedTotal.WithLabelValues("acked")); got != 2 {
		t.Errorf("expected 2 acked publishes, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/users", "200")); got != 1 {
		t.Errorf("expected 1 request, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"http_requests_total", "log_pipeline_publisher_events_total", "log_pipeline_consumer_messages_total"} {
		if !names[want] {
			t.Errorf("expected metric %s to be registered", want)
		}
	}
}

func TestNewPipelineMetrics_SeparateRegistries(t *testing.T) {
	// Two instances must not collide when each has its own registry.
	NewPipelineMetrics(prometheus.NewRegistry())
	NewPipelineMetrics(prometheus.NewRegistry())
}
