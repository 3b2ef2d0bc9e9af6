/*
Package goshaper simulates a token-bucket traffic shaper in virtual time.

A shaper sits between a packet source and a sink. It forwards packets while
tokens last, holds the overflow in a bounded FIFO queue, drops what does not
fit, and refills its bucket one token per tick of a timer on a
discrete-event kernel.

Shaping (pkg/shaping):
  - shaper: Admission, refill and teardown logic
  - tokenbucket: Discrete token counter with a hard cap
  - queue: Bounded drop-tail FIFO

Simulation (pkg/sim, pkg/traffic, pkg/simulation):
  - kernel: Single-threaded discrete-event scheduler
  - probe: Cron-scheduled state snapshots in virtual time
  - source: Seeded exponential packet generator
  - sink: Counting and recording endpoint
  - simulation: YAML scenarios and end-to-end runs

Running and reporting (pkg/batch, pkg/report, cmd/shapersim):
  - batch: Concurrent runs of independent scenarios
  - report: Run summaries in memory or Redis
  - shapersim: Command-line front end

Example usage:

	import (
		"github.com/vnykmshr/goshaper/pkg/shaping/shaper"
		"github.com/vnykmshr/goshaper/pkg/sim/kernel"
	)

	k := kernel.New()
	s, _ := shaper.New(k, sink, shaper.Config{
		QueueCapacity:  3,
		BucketCapacity: 5,
		TokenRate:      1,
	})
	defer s.Close()

	s.DeliverPacket(&shaper.Packet{ID: 1})
	k.Run(60)

All components report through the metrics package when metrics are enabled,
and log state transitions through zap.
*/
package goshaper
