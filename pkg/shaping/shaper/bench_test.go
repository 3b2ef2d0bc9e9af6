package shaper

import (
	"testing"

	"github.com/vnykmshr/goshaper/pkg/sim/kernel"
)

// BenchmarkDeliverForwarded measures the direct path with a bucket that never empties.
func BenchmarkDeliverForwarded(b *testing.B) {
	k := kernel.New()
	s, err := New(k, SinkFunc(func(*Packet) {}), Config{
		QueueCapacity:  16,
		BucketCapacity: 1,
		TokenRate:      1,
	})
	if err != nil {
		b.Fatal(err)
	}
	p := &Packet{ID: 1}
	b.ReportAllocs()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.DeliverPacket(p)
		s.bucket.Add()
	}
}

// BenchmarkSaturated measures arrivals at twice the token rate under the kernel.
func BenchmarkSaturated(b *testing.B) {
	k := kernel.New()
	s, err := New(k, SinkFunc(func(*Packet) {}), Config{
		QueueCapacity:  64,
		BucketCapacity: 8,
		TokenRate:      1000,
	})
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.DeliverPacket(&Packet{ID: uint64(i)})
		s.DeliverPacket(&Packet{ID: uint64(i)})
		k.Run(k.Now() + s.Interval())
	}
}
