package shaper

import (
	"github.com/vnykmshr/goshaper/pkg/metrics"
)

var _ metrics.Instrumentable = (*Shaper)(nil)

// EnableMetrics enables metrics collection.
func (s *Shaper) EnableMetrics(config metrics.Config) error {
	s.enabled = config.Enabled
	if config.Enabled {
		s.registry = metrics.Resolve(config)
		s.updateGauges()
	}
	return nil
}

// DisableMetrics disables metrics collection.
func (s *Shaper) DisableMetrics() {
	s.enabled = false
}

// MetricsEnabled returns true if metrics are currently enabled.
func (s *Shaper) MetricsEnabled() bool {
	return s.enabled
}

func (s *Shaper) count(outcome string) {
	if !s.enabled {
		return
	}
	s.registry.ShaperPackets.WithLabelValues(s.name, outcome).Inc()
}

func (s *Shaper) updateGauges() {
	if !s.enabled {
		return
	}
	s.registry.ShaperTokens.WithLabelValues(s.name).Set(float64(s.bucket.Tokens()))
	s.registry.ShaperQueueLength.WithLabelValues(s.name).Set(float64(s.queue.Len()))
}
