/*
Package kernel provides a single-threaded discrete-event scheduler driven by
virtual time.

Components register handlers at absolute or relative virtual times and keep
the returned Handle when they may need to cancel the event later:

	k := kernel.New()
	h, _ := k.ScheduleAfter(0.5, func(now kernel.Time) {
		fmt.Println("fired at", now)
	})
	k.Cancel(h) // idempotent
	k.Run(10)

Ordering guarantees:
  - events fire in non-decreasing virtual time
  - events scheduled for the same instant fire in scheduling order
  - a handler runs to completion before the next event is dispatched

Virtual time is owned by the kernel. Handlers receive the firing time as an
argument and should treat it as an input rather than caching it.
*/
package kernel
