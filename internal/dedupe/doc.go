// Package dedupe provides a best-effort, in-memory dedup window: a key marked
// in the Cache is reported as seen until its TTL elapses.
//
// Expired entries are swept on access rather than by timers, so a Cache holds
// no goroutines and needs no Close. Tests drive time with WithClock.
package dedupe
