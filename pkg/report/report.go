// Package report stores run summaries so simulations can be compared later.
//
// A Summary is a flat, JSON-friendly digest of a simulation.Result. Stores
// keep summaries by name; saving under an existing name replaces it.
// MemoryStore serves tests and one-off runs, RedisStore shares results
// between processes.
package report

import (
	"context"
	"time"

	"github.com/vnykmshr/goshaper/pkg/shaping/shaper"
	"github.com/vnykmshr/goshaper/pkg/sim/probe"
	"github.com/vnykmshr/goshaper/pkg/simulation"
)

// Summary is the stored digest of one run.
type Summary struct {
	Name     string    `json:"name"`
	StoredAt time.Time `json:"storedAt"`

	Duration float64 `json:"duration"`
	EndTime  float64 `json:"endTime"`
	Events   int     `json:"events"`

	Sent      uint64  `json:"sent"`
	Received  uint64  `json:"received"`
	DropRate  float64 `json:"dropRate"`
	MeanDelay float64 `json:"meanDelay"`
	MaxDelay  float64 `json:"maxDelay"`

	Final     shaper.State     `json:"final"`
	Shaper    shaper.Stats     `json:"shaper"`
	Snapshots []probe.Snapshot `json:"snapshots,omitempty"`
}

// FromResult builds a Summary from a completed run. StoredAt is left for the
// store to fill.
func FromResult(res *simulation.Result) *Summary {
	if res == nil {
		return nil
	}
	return &Summary{
		Name:      res.Name,
		Duration:  res.Duration,
		EndTime:   res.EndTime,
		Events:    res.Events,
		Sent:      res.Sent,
		Received:  res.Received,
		DropRate:  res.DropRate(),
		MeanDelay: res.MeanDelay,
		MaxDelay:  res.MaxDelay,
		Final:     res.Final,
		Shaper:    res.Shaper,
		Snapshots: res.Snapshots,
	}
}

// Store persists run summaries.
type Store interface {
	// Save stores s under s.Name, replacing any previous summary.
	Save(ctx context.Context, s *Summary) error

	// Load returns the summary stored under name, or an error wrapping
	// errors.ErrNotFound.
	Load(ctx context.Context, name string) (*Summary, error)

	// List returns the names of all stored summaries in sorted order.
	List(ctx context.Context) ([]string, error)

	// Close releases the store. Further calls fail with errors.ErrClosed.
	Close() error
}
