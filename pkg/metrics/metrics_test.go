package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/goshaper/internal/testutil"
)

func TestResolveDisabled(t *testing.T) {
	if r := Resolve(Config{Enabled: false, Registry: prometheus.NewRegistry()}); r != nil {
		t.Fatalf("expected nil registry when disabled, got %v", r)
	}
}

func TestResolveSharesPerNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()

	tests := []struct {
		name      string
		a, b      string
		wantShare bool
	}{
		{"same namespace", "alpha", "alpha", true},
		{"empty means default", "", DefaultNamespace, true},
		{"different namespaces", "alpha", "beta", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ra := Resolve(Config{Enabled: true, Registry: reg, Namespace: tt.a})
			rb := Resolve(Config{Enabled: true, Registry: reg, Namespace: tt.b})
			testutil.AssertEqual(t, ra == rb, tt.wantShare)
		})
	}
}

func TestResolveNamespaceReachesMetricNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	alpha := Resolve(Config{Enabled: true, Registry: reg, Namespace: "alpha"})
	beta := Resolve(Config{Enabled: true, Registry: reg, Namespace: "beta"})

	alpha.ShaperRefillTicks.WithLabelValues("s").Inc()
	beta.ShaperRefillTicks.WithLabelValues("s").Add(2)

	n, err := promtest.GatherAndCount(reg, "alpha_shaper_refill_ticks_total", "beta_shaper_refill_ticks_total")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, n, 2)
	testutil.AssertEqual(t, promtest.ToFloat64(alpha.ShaperRefillTicks.WithLabelValues("s")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(beta.ShaperRefillTicks.WithLabelValues("s")), 2.0)
}
