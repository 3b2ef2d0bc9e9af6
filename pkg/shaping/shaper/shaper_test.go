package shaper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/goshaper/internal/testutil"
	gserrors "github.com/vnykmshr/goshaper/pkg/common/errors"
	"github.com/vnykmshr/goshaper/pkg/sim/kernel"
)

func TestNewValidation(t *testing.T) {
	valid := Config{QueueCapacity: 3, BucketCapacity: 5, TokenRate: 1}
	sink := newRecordingSink()

	tests := []struct {
		name   string
		sched  Scheduler
		sink   Sink
		mutate func(*Config)
		field  string
	}{
		{"nil scheduler", nil, sink, func(*Config) {}, "scheduler"},
		{"nil sink", kernel.New(), nil, func(*Config) {}, "sink"},
		{"zero queue", kernel.New(), sink, func(c *Config) { c.QueueCapacity = 0 }, "queueCapacity"},
		{"negative bucket", kernel.New(), sink, func(c *Config) { c.BucketCapacity = -1 }, "bucketCapacity"},
		{"zero rate", kernel.New(), sink, func(c *Config) { c.TokenRate = 0 }, "tokenRate"},
		{"negative rate", kernel.New(), sink, func(c *Config) { c.TokenRate = -2 }, "tokenRate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			s, err := New(tt.sched, tt.sink, cfg)
			require.Error(t, err)
			require.Nil(t, s)
			require.True(t, errors.Is(err, gserrors.ErrInvalidConfiguration))

			var verr *gserrors.ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestNewInitialState(t *testing.T) {
	k := kernel.NewWithConfig(kernel.Config{Start: 2})
	s, err := New(k, newRecordingSink(), Config{QueueCapacity: 3, BucketCapacity: 5, TokenRate: 4})
	require.NoError(t, err)

	require.Equal(t, "shaper", s.Name())
	require.Equal(t, State{Tokens: 5, QueueLen: 0}, s.State())
	require.Equal(t, kernel.Time(0.25), s.Interval())
	require.Equal(t, 1, k.Pending())

	next, ok := k.NextEventTime()
	require.True(t, ok)
	require.Equal(t, kernel.Time(2.25), next)
}

func TestNewScheduleFailure(t *testing.T) {
	k := kernel.New()
	k.Stop()

	s, err := New(k, newRecordingSink(), Config{QueueCapacity: 1, BucketCapacity: 1, TokenRate: 1})
	require.Error(t, err)
	require.Nil(t, s)
	require.True(t, errors.Is(err, gserrors.ErrClosed))
}

// TestScenarios walks the reference sequence: a burst drains the bucket,
// overflow queues then drops, a refill forwards the oldest queued packet, and
// teardown releases the rest.
func TestScenarios(t *testing.T) {
	sched := newFakeScheduler()
	sink := newRecordingSink()
	var discarded []*Packet
	var reasons []DiscardReason

	s, err := New(sched, sink, Config{
		QueueCapacity:  3,
		BucketCapacity: 5,
		TokenRate:      1,
		OnDiscard: func(p *Packet, reason DiscardReason) {
			discarded = append(discarded, p)
			reasons = append(reasons, reason)
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, sched.scheduled)

	// A: five simultaneous arrivals are all forwarded directly.
	for _, p := range packets(1, 5) {
		require.Equal(t, Forwarded, s.DeliverPacket(p))
	}
	require.Equal(t, State{Tokens: 0, QueueLen: 0}, s.State())
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, sink.ids())

	// B: a sixth arrival before any refill is queued.
	require.Equal(t, Queued, s.DeliverPacket(&Packet{ID: 6}))
	require.Equal(t, 1, s.QueueLen())

	// C: the queue fills to capacity and the next arrival is dropped.
	require.Equal(t, Queued, s.DeliverPacket(&Packet{ID: 7}))
	require.Equal(t, Queued, s.DeliverPacket(&Packet{ID: 8}))
	require.Equal(t, 3, s.QueueLen())
	before := s.State()
	require.Equal(t, Dropped, s.DeliverPacket(&Packet{ID: 9}))
	require.Equal(t, before, s.State())
	require.Len(t, discarded, 1)
	require.Equal(t, uint64(9), discarded[0].ID)
	require.Equal(t, DiscardDropped, reasons[0])

	// D: one refill tick forwards exactly the oldest queued packet.
	require.True(t, sched.fireNext())
	require.Equal(t, kernel.Time(1), sched.now)
	require.Equal(t, State{Tokens: 0, QueueLen: 2}, s.State())
	require.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, sink.ids())
	require.Equal(t, 2, sched.scheduled) // re-armed before draining

	// E: teardown releases both remaining packets and cancels the timer once.
	require.NoError(t, s.Close())
	require.Equal(t, 1, sched.cancels)
	require.Empty(t, sched.pending)
	require.Equal(t, State{Tokens: 0, QueueLen: 0, Closed: true}, s.State())
	require.Len(t, discarded, 3)
	require.Equal(t, uint64(7), discarded[1].ID)
	require.Equal(t, uint64(8), discarded[2].ID)
	require.Equal(t, DiscardTeardown, reasons[1])
	require.Equal(t, DiscardTeardown, reasons[2])
	require.Equal(t, 6, sink.Len())

	stats := s.Stats()
	require.Equal(t, uint64(9), stats.Arrived)
	require.Equal(t, uint64(6), stats.Forwarded)
	require.Equal(t, uint64(5), stats.ForwardedDirect)
	require.Equal(t, uint64(1), stats.ForwardedQueued)
	require.Equal(t, uint64(3), stats.Queued)
	require.Equal(t, uint64(1), stats.Dropped)
	require.Equal(t, uint64(2), stats.Released)
	require.Equal(t, uint64(1), stats.RefillTicks)
	require.Equal(t, uint64(1), stats.TokensAdded)

	// Close is idempotent: no second cancel, no second release.
	require.NoError(t, s.Close())
	require.Equal(t, 1, sched.cancels)
	require.Len(t, discarded, 3)
}

func TestQueuedPacketBlocksBypass(t *testing.T) {
	sched := newFakeScheduler()
	sink := newRecordingSink()
	s, err := New(sched, sink, Config{QueueCapacity: 4, BucketCapacity: 1, TokenRate: 1})
	require.NoError(t, err)

	require.Equal(t, Forwarded, s.DeliverPacket(&Packet{ID: 1}))
	require.Equal(t, Queued, s.DeliverPacket(&Packet{ID: 2}))
	require.Equal(t, Queued, s.DeliverPacket(&Packet{ID: 3}))

	// The tick refills and drains one; packet 3 still waits.
	require.True(t, sched.fireNext())
	require.Equal(t, []uint64{1, 2}, sink.ids())

	// A fresh arrival queues behind packet 3.
	require.Equal(t, Queued, s.DeliverPacket(&Packet{ID: 4}))
	require.True(t, sched.fireNext())
	require.True(t, sched.fireNext())
	require.Equal(t, []uint64{1, 2, 3, 4}, sink.ids())
	require.Equal(t, 0, s.Tokens())

	// With the queue empty again, a refilled token is used directly.
	require.True(t, sched.fireNext())
	require.Equal(t, Forwarded, s.DeliverPacket(&Packet{ID: 5}))
}

func TestRefillCapsAtBucketCapacity(t *testing.T) {
	k := kernel.New()
	s, err := New(k, newRecordingSink(), Config{QueueCapacity: 2, BucketCapacity: 3, TokenRate: 10})
	require.NoError(t, err)

	for _, p := range packets(1, 3) {
		require.Equal(t, Forwarded, s.DeliverPacket(p))
	}
	require.Equal(t, 0, s.Tokens())

	k.Run(5.05) // fifty ticks with no arrivals
	testutil.AssertEqual(t, s.Tokens(), 3)

	stats := s.Stats()
	testutil.AssertEqual(t, stats.RefillTicks, uint64(50))
	testutil.AssertEqual(t, stats.TokensAdded, uint64(3))
	testutil.AssertEqual(t, stats.TokensDiscarded, uint64(47))
}

func TestRefillCadence(t *testing.T) {
	k := kernel.New()
	s, err := New(k, newRecordingSink(), Config{QueueCapacity: 1, BucketCapacity: 1, TokenRate: 4})
	require.NoError(t, err)

	k.Run(10.1)
	require.Equal(t, uint64(40), s.Stats().RefillTicks)

	next, ok := k.NextEventTime()
	require.True(t, ok)
	require.InDelta(t, 10.25, float64(next), 1e-9)
}

func TestDeliverAfterClose(t *testing.T) {
	sched := newFakeScheduler()
	sink := newRecordingSink()
	var reasons []DiscardReason
	s, err := New(sched, sink, Config{
		QueueCapacity:  1,
		BucketCapacity: 1,
		TokenRate:      1,
		OnDiscard:      func(_ *Packet, r DiscardReason) { reasons = append(reasons, r) },
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.Equal(t, Dropped, s.DeliverPacket(&Packet{ID: 1}))
	require.Equal(t, 0, sink.Len())
	require.Equal(t, []DiscardReason{DiscardDropped}, reasons)
	require.Equal(t, uint64(0), s.Stats().Arrived)
	require.Equal(t, Dropped, s.DeliverPacket(nil))
}

func TestCloseZeroValue(t *testing.T) {
	var s Shaper
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	var nilShaper *Shaper
	require.NoError(t, nilShaper.Close())
}

func TestRescheduleFailureLeavesNoTimer(t *testing.T) {
	sched := newFakeScheduler()
	sched.failAfter = 1
	s, err := New(sched, newRecordingSink(), Config{QueueCapacity: 1, BucketCapacity: 2, TokenRate: 1})
	require.NoError(t, err)
	s.DeliverPacket(&Packet{ID: 1})

	require.True(t, sched.fireNext())
	require.Equal(t, 2, s.Tokens())
	require.Empty(t, sched.pending)

	require.NoError(t, s.Close())
	require.Equal(t, 0, sched.cancels)
}

func TestShaperAsSink(t *testing.T) {
	k := kernel.New()
	sink := newRecordingSink()
	downstream, err := New(k, sink, Config{Name: "downstream", QueueCapacity: 1, BucketCapacity: 1, TokenRate: 1})
	require.NoError(t, err)
	upstream, err := New(k, downstream, Config{Name: "upstream", QueueCapacity: 1, BucketCapacity: 2, TokenRate: 1})
	require.NoError(t, err)

	require.Equal(t, Forwarded, upstream.DeliverPacket(&Packet{ID: 1}))
	require.Equal(t, Forwarded, upstream.DeliverPacket(&Packet{ID: 2}))
	require.Equal(t, []uint64{1}, sink.ids())
	require.Equal(t, 1, downstream.QueueLen())
}

func TestOutcomeStrings(t *testing.T) {
	require.Equal(t, "forwarded", Forwarded.String())
	require.Equal(t, "queued", Queued.String())
	require.Equal(t, "dropped", Dropped.String())
	require.Equal(t, "Outcome(7)", Outcome(7).String())
	require.Equal(t, "teardown", DiscardTeardown.String())
	require.Equal(t, "packet-3", (&Packet{ID: 3}).String())
	require.Equal(t, "probe", (&Packet{ID: 3, Name: "probe"}).String())
}
