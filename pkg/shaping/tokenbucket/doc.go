// Package tokenbucket implements a discrete token bucket for scheduler-driven
// traffic shaping.
//
// Unlike a wall-clock limiter, the bucket does not accrue tokens from elapsed
// time. An external timer calls Add once per refill interval, and a token is
// consumed with TryTake exactly when a packet is forwarded:
//
//	b, _ := tokenbucket.New(5) // starts full
//	if b.TryTake() {
//		// forward packet
//	}
//	b.Add() // one refill tick; no-op when already full
//
// The invariant 0 <= Tokens() <= Capacity() holds after every call.
package tokenbucket
