// Package probe takes periodic snapshots of a shaper during a simulation.
//
// Schedules are cron expressions parsed by robfig/cron and evaluated on the
// virtual clock: virtual time zero is kernel.Epoch, so "@every 10s" samples at
// t=10, 20, 30 and "*/5 * * * *" samples at every fifth virtual minute.
//
//	p, err := probe.New(k, s, probe.Config{Schedule: "@every 10s"})
//	if err != nil {
//		return err
//	}
//	p.Start()
//	k.Run(60)
//	p.Stop()
//	for _, snap := range p.Snapshots() {
//		fmt.Println(snap.At, snap.State.Tokens, snap.State.QueueLen)
//	}
package probe
