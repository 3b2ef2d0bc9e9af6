package shaper

import (
	"fmt"

	"github.com/vnykmshr/goshaper/pkg/sim/kernel"
)

// Packet is an opaque unit of traffic. The shaper only looks at its identity
// and stamps its arrival time.
type Packet struct {
	ID      uint64
	Name    string
	Created kernel.Time
	Arrived kernel.Time
}

func (p *Packet) String() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("packet-%d", p.ID)
}

// Outcome is the admission decision for an arriving packet.
type Outcome int

const (
	// Forwarded means the packet bypassed the queue and went straight to the sink.
	Forwarded Outcome = iota

	// Queued means the packet is waiting for a token.
	Queued

	// Dropped means the packet was discarded because the queue was full.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Forwarded:
		return "forwarded"
	case Queued:
		return "queued"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// DiscardReason says why the shaper released a packet without forwarding it.
type DiscardReason int

const (
	// DiscardDropped is an admission drop: no token and no queue space.
	DiscardDropped DiscardReason = iota

	// DiscardTeardown is a packet still queued when the shaper was closed.
	DiscardTeardown
)

func (r DiscardReason) String() string {
	switch r {
	case DiscardDropped:
		return "dropped"
	case DiscardTeardown:
		return "teardown"
	default:
		return fmt.Sprintf("DiscardReason(%d)", int(r))
	}
}
