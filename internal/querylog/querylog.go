// Package querylog maintains the bounded, human-readable query log ring described by the data
// model: at most 50 strings of the form "[HH:MM:SS] <domain> -> <status>", oldest evicted on
// overflow. Writes arrive from many concurrent forwarding goroutines; a single consumer goroutine
// owns the ring so the lock is only ever held briefly, following the buffered-channel,
// single-consumer delivery idiom used for refresh requests in mikispag's DoT forwarder. SetMirror
// additionally streams every entry to an io.Writer (stdout, for -log-queries) as it is consumed.
package querylog

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Capacity is the maximum number of entries retained in the ring.
const Capacity = 50

// entryChanSize bounds how many pending log lines may be queued before a burst of queries starts
// dropping its own log entries rather than blocking the forwarding pipeline.
const entryChanSize = 256

// Log is a bounded FIFO of formatted query outcomes.
type Log struct {
	mu      sync.Mutex
	entries []string
	mirror  io.Writer // optional; set by SetMirror, nil means no mirroring

	entryCh chan string
	now     func() time.Time
}

// New constructs a Log and starts its consumer goroutine. The goroutine exits when ctx is
// cancelled.
func New(ctx context.Context) *Log {
	l := &Log{
		entries: make([]string, 0, Capacity),
		entryCh: make(chan string, entryChanSize),
		now:     time.Now,
	}
	go l.consume(ctx)
	return l
}

// Record formats and enqueues one query outcome. Domain and status are caller-supplied; Record
// never blocks - if the consumer is backlogged, the entry is dropped rather than stalling the
// forwarding pipeline.
func (l *Log) Record(domain, status string) {
	line := fmt.Sprintf("[%s] %s -> %s", l.now().Format("15:04:05"), domain, status)
	select {
	case l.entryCh <- line:
	default:
	}
}

func (l *Log) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-l.entryCh:
			l.mu.Lock()
			l.entries = append(l.entries, line)
			if len(l.entries) > Capacity {
				l.entries = l.entries[len(l.entries)-Capacity:]
			}
			mirror := l.mirror
			l.mu.Unlock()
			if mirror != nil {
				fmt.Fprintln(mirror, line)
			}
		}
	}
}

// SetMirror causes every future Record call to also be written to w, one line per call, in
// addition to the ring. Used by -log-queries to mirror the query log to stdout. A nil w disables
// mirroring. Safe to call concurrently with Record, but intended to be set once at startup before
// the first query arrives.
func (l *Log) SetMirror(w io.Writer) {
	l.mu.Lock()
	l.mirror = w
	l.mu.Unlock()
}

// Snapshot returns a copy of the current ring contents, oldest first.
func (l *Log) Snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear empties the ring.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// Name satisfies reporter.Reporter.
func (l *Log) Name() string { return "QueryLog" }

// Report satisfies reporter.Reporter, summarizing ring occupancy rather than dumping every line.
func (l *Log) Report(resetCounters bool) string {
	l.mu.Lock()
	n := len(l.entries)
	l.mu.Unlock()
	return fmt.Sprintf("entries=%d/%d", n, Capacity)
}
