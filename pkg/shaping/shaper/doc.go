/*
Package shaper implements a token-bucket traffic shaper driven by a
discrete-event kernel.

A Shaper sits between a traffic source and a sink. Each arriving packet is
handled by DeliverPacket:

  - if the queue is empty and a token is available, the token is spent and
    the packet goes straight to the sink (Forwarded)
  - otherwise, if the queue has room, the packet waits in FIFO order (Queued)
  - otherwise the packet is dropped (Dropped)

A refill timer fires every 1/TokenRate seconds of virtual time. Each firing
re-arms the timer, adds one token unless the bucket is already full, and then
forwards queued packets while tokens remain. Packets therefore leave in
arrival order, and a token is consumed exactly when a packet leaves.

Basic usage:

	k := kernel.New()
	s, err := shaper.New(k, sink, shaper.Config{
		QueueCapacity:  3,
		BucketCapacity: 5,
		TokenRate:      1,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	s.DeliverPacket(&shaper.Packet{ID: 1})
	k.Run(10)

Close cancels the refill timer and releases every packet still queued without
forwarding it. Config.OnDiscard observes both admission drops and packets
released at teardown.

A Shaper is not safe for concurrent use. It must be driven from the goroutine
that runs its kernel, the same way the kernel itself is.
*/
package shaper
