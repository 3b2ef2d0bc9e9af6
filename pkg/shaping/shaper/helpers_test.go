package shaper

import (
	"github.com/vnykmshr/goshaper/internal/testutil"
	"github.com/vnykmshr/goshaper/pkg/sim/kernel"
)

// fakeScheduler records scheduling calls and lets tests fire the pending
// refill by hand.
type fakeScheduler struct {
	now       kernel.Time
	next      kernel.Handle
	pending   map[kernel.Handle]scheduled
	scheduled int
	cancels   int
	failAfter int // Schedule fails once scheduled reaches this count (0 = never)
}

type scheduled struct {
	at kernel.Time
	fn kernel.Handler
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{pending: make(map[kernel.Handle]scheduled)}
}

func (f *fakeScheduler) Now() kernel.Time { return f.now }

func (f *fakeScheduler) Schedule(at kernel.Time, fn kernel.Handler) (kernel.Handle, error) {
	if f.failAfter > 0 && f.scheduled >= f.failAfter {
		return 0, kernel.ErrPastEvent
	}
	f.scheduled++
	f.next++
	f.pending[f.next] = scheduled{at: at, fn: fn}
	return f.next, nil
}

func (f *fakeScheduler) Cancel(h kernel.Handle) bool {
	f.cancels++
	if _, ok := f.pending[h]; !ok {
		return false
	}
	delete(f.pending, h)
	return true
}

// fireNext runs the earliest pending event, advancing now to its time.
func (f *fakeScheduler) fireNext() bool {
	var (
		best  kernel.Handle
		found bool
	)
	for h, ev := range f.pending {
		if !found || ev.at < f.pending[best].at || (ev.at == f.pending[best].at && h < best) {
			best, found = h, true
		}
	}
	if !found {
		return false
	}
	ev := f.pending[best]
	delete(f.pending, best)
	f.now = ev.at
	ev.fn(ev.at)
	return true
}

// recordingSink collects forwarded packets.
type recordingSink struct {
	*testutil.Recorder[*Packet]
}

func newRecordingSink() recordingSink {
	return recordingSink{testutil.NewRecorder[*Packet]()}
}

func (r recordingSink) Receive(p *Packet) {
	r.Record(p)
}

func (r recordingSink) ids() []uint64 {
	values := r.Values()
	ids := make([]uint64, len(values))
	for i, p := range values {
		ids[i] = p.ID
	}
	return ids
}

func packets(from, to uint64) []*Packet {
	out := make([]*Packet, 0, to-from+1)
	for id := from; id <= to; id++ {
		out = append(out, &Packet{ID: id})
	}
	return out
}
