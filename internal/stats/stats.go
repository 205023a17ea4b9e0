// Package stats holds the process-wide counters and latency gauge described by the data model:
// three monotonic counters (udp_queries, tcp_queries, errors) and the most recent successful
// upstream round-trip latency in milliseconds. All fields are independent atomics - no mutex is
// needed since none of them are updated jointly.
package stats

import (
	"fmt"
	"sync/atomic"
)

// Counters is the process-wide stats block. Zero value is ready to use.
type Counters struct {
	udpQueries  atomic.Int64
	tcpQueries  atomic.Int64
	errors      atomic.Int64
	lastLatency atomic.Int64 // milliseconds, last successful upstream round-trip
	latencySamples atomic.Int64
}

// IncUDPQueries records one query accepted on the UDP listener.
func (c *Counters) IncUDPQueries() { c.udpQueries.Add(1) }

// IncTCPQueries records one query accepted on the TCP listener.
func (c *Counters) IncTCPQueries() { c.tcpQueries.Add(1) }

// IncErrors records one query that exhausted its retry budget without a usable response.
func (c *Counters) IncErrors() { c.errors.Add(1) }

// RecordLatency stores the most recent successful upstream round-trip, in milliseconds. Per
// SPEC_FULL.md §8 property 5, each call bumps the sample index so the gauge is never mistaken for
// having reset mid-run even if the millisecond value itself happens to repeat.
func (c *Counters) RecordLatency(ms int64) {
	c.lastLatency.Store(ms)
	c.latencySamples.Add(1)
}

// LastLatencyMillis returns the most recently recorded successful round-trip latency.
func (c *Counters) LastLatencyMillis() int64 { return c.lastLatency.Load() }

// LatencySamples returns how many successful round-trips have been recorded this run.
func (c *Counters) LatencySamples() int64 { return c.latencySamples.Load() }

// Name satisfies reporter.Reporter.
func (c *Counters) Name() string { return "Stats" }

// Report satisfies reporter.Reporter. Counters are never reset by Report - the data model forbids
// resetting stats counters within a run - resetCounters only controls whether future Report calls
// should be read as deltas by the caller, which this implementation doesn't need since it always
// reports the running total.
func (c *Counters) Report(resetCounters bool) string {
	return fmt.Sprintf("udp=%d tcp=%d errs=%d lastLatency=%dms samples=%d",
		c.udpQueries.Load(), c.tcpQueries.Load(), c.errors.Load(),
		c.lastLatency.Load(), c.latencySamples.Load())
}
