package source_test

import (
	"fmt"

	"github.com/vnykmshr/goshaper/pkg/shaping/shaper"
	"github.com/vnykmshr/goshaper/pkg/sim/kernel"
	"github.com/vnykmshr/goshaper/pkg/traffic/source"
)

func Example() {
	k := kernel.New()
	target := source.ReceiverFunc(func(p *shaper.Packet) shaper.Outcome {
		fmt.Printf("t=%.2f %s\n", k.Now().Seconds(), p)
		return shaper.Forwarded
	})

	src, err := source.New(k, target, source.Config{
		Interarrival: func() float64 { return 0.25 },
		MaxPackets:   3,
	})
	if err != nil {
		panic(err)
	}
	if err := src.Start(); err != nil {
		panic(err)
	}
	k.Run(1)
	fmt.Println("sent:", src.Sent())

	// Output:
	// t=0.25 packet-1
	// t=0.50 packet-2
	// t=0.75 packet-3
	// sent: 3
}
