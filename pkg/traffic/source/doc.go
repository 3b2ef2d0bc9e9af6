// Package source generates packet arrivals for a simulation.
//
// A Source emits numbered packets into a Receiver, usually a shaper, with
// exponentially distributed gaps drawn from a seeded PCG stream, so the same
// seed reproduces the same arrival times. Tests and scenarios that need a
// fixed pattern supply Config.Interarrival instead.
package source
