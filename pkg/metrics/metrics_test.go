package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/datalift/callrail-extract/pkg/ratelimit"
)

func TestRegistry_Default(t *testing.T) {
	if Registry == nil {
		t.Fatal("Registry is nil")
	}
	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry is not the default registerer")
	}
}

func TestEngineMetricsRegistered(t *testing.T) {
	// Importing a metric-defining package registers its collectors via
	// promauto; unlabeled collectors are visible immediately.
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}

	for _, name := range []string{
		"extract_budget_wait_seconds",
		"extract_cooldowns_total",
		"extract_cooldown_waits_total",
	} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}
