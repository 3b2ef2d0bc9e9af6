// Package metrics provides Prometheus instrumentation for goshaper components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name unless Config.Namespace is set.
const DefaultNamespace = "goshaper"

// Packet outcome label values used with ShaperPackets.
const (
	OutcomeForwardedDirect = "forwarded_direct"
	OutcomeForwardedQueued = "forwarded_queued"
	OutcomeQueued          = "queued"
	OutcomeDropped         = "dropped"
	OutcomeReleased        = "released"
)

// Registry holds all metric instances for goshaper components.
type Registry struct {
	// Shaper Metrics
	ShaperPackets         *prometheus.CounterVec
	ShaperTokens          *prometheus.GaugeVec
	ShaperQueueLength     *prometheus.GaugeVec
	ShaperRefillTicks     *prometheus.CounterVec
	ShaperTokensDiscarded *prometheus.CounterVec

	// Traffic Endpoint Metrics
	SourcePackets *prometheus.CounterVec
	SinkPackets   *prometheus.CounterVec

	// Kernel Metrics
	KernelEvents      *prometheus.CounterVec
	KernelVirtualTime *prometheus.GaugeVec
}

type registryKey struct {
	reg       prometheus.Registerer
	namespace string
}

var (
	registriesMu sync.Mutex
	registries   = make(map[registryKey]*Registry)
)

// Resolve returns the Registry for cfg, or nil when metrics are disabled.
// Components sharing a Registerer and namespace share one Registry, so each
// collector is registered exactly once.
func Resolve(cfg Config) *Registry {
	if !cfg.Enabled {
		return nil
	}

	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	key := registryKey{reg: reg, namespace: cfg.Namespace}
	if key.namespace == "" {
		key.namespace = DefaultNamespace
	}

	registriesMu.Lock()
	defer registriesMu.Unlock()

	if r, ok := registries[key]; ok {
		return r
	}
	r := newRegistry(reg, key.namespace)
	registries[key] = r
	return r
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return Resolve(Config{Enabled: true, Registry: reg})
}

func newRegistry(reg prometheus.Registerer, namespace string) *Registry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Registry{
		// Shaper Metrics
		ShaperPackets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "shaper",
				Name:      "packets_total",
				Help:      "Packets handled by the shaper, by outcome",
			},
			[]string{"shaper_name", "outcome"},
		),

		ShaperTokens: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "shaper",
				Name:      "tokens_available",
				Help:      "Tokens currently in the bucket",
			},
			[]string{"shaper_name"},
		),

		ShaperQueueLength: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "shaper",
				Name:      "queue_length",
				Help:      "Packets currently waiting in the shaper queue",
			},
			[]string{"shaper_name"},
		),

		ShaperRefillTicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "shaper",
				Name:      "refill_ticks_total",
				Help:      "Refill timer firings",
			},
			[]string{"shaper_name"},
		),

		ShaperTokensDiscarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "shaper",
				Name:      "tokens_discarded_total",
				Help:      "Refill tokens discarded because the bucket was full",
			},
			[]string{"shaper_name"},
		),

		// Traffic Endpoint Metrics
		SourcePackets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "packets_total",
				Help:      "Packets emitted by the traffic source",
			},
			[]string{"source_name"},
		),

		SinkPackets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "packets_total",
				Help:      "Packets received by the traffic sink",
			},
			[]string{"sink_name"},
		),

		// Kernel Metrics
		KernelEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kernel",
				Name:      "events_processed_total",
				Help:      "Events dispatched by the discrete-event kernel",
			},
			[]string{"kernel_name"},
		),

		KernelVirtualTime: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "kernel",
				Name:      "virtual_time_seconds",
				Help:      "Current virtual time of the kernel",
			},
			[]string{"kernel_name"},
		),
	}
}
