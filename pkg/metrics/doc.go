// Package metrics provides Prometheus instrumentation for goshaper components.
//
// # Overview
//
// The shaper, the traffic source and sink, and the discrete-event kernel all
// accept a metrics.Config. When Enabled, they resolve a *Registry for the
// configured Registerer and update it as the simulation runs.
//
//	reg := prometheus.NewRegistry()
//	cfg := metrics.Config{Enabled: true, Registry: reg}
//
//	s, err := shaper.New(k, sink, shaper.Config{
//		QueueCapacity:  10,
//		BucketCapacity: 5,
//		TokenRate:      2,
//		Metrics:        cfg,
//	})
//
// Expose metrics via HTTP with promhttp:
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # Available Metrics
//
//   - goshaper_shaper_packets_total{shaper_name,outcome}
//   - goshaper_shaper_tokens_available{shaper_name}
//   - goshaper_shaper_queue_length{shaper_name}
//   - goshaper_shaper_refill_ticks_total{shaper_name}
//   - goshaper_shaper_tokens_discarded_total{shaper_name}
//   - goshaper_source_packets_total{source_name}
//   - goshaper_sink_packets_total{sink_name}
//   - goshaper_kernel_events_processed_total{kernel_name}
//   - goshaper_kernel_virtual_time_seconds{kernel_name}
//
// The outcome label takes the values forwarded_direct, forwarded_queued,
// queued, dropped and released.
//
// Resolve caches one Registry per Registerer, so several components can share
// a Prometheus registry without duplicate registration.
package metrics
