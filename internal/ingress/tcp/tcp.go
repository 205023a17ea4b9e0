// Package tcp implements the TCP ingress listener (component H): one accept loop, bounded
// concurrency via a counting semaphore, RFC 1035 §4.2.2 length-prefix framing, one query per
// accepted connection. The semaphore generalizes the teacher's internal/concurrencytracker, which
// only counts concurrency for reporting - this adds an actual acquire/release gate around it so the
// configured tcp_client_limit is enforced, not just observed.
package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/halvorsen/dohproxy/internal/concurrencytracker"
	"github.com/halvorsen/dohproxy/internal/forwarder"
	"github.com/halvorsen/dohproxy/internal/stats"
)

// DefaultClientLimit is the semaphore capacity used when Listen's limit is zero or negative.
const DefaultClientLimit = 20

// MaxMessageSize bounds a single length-prefixed DNS message, per RFC 1035 §4.2.2's 16-bit length
// field.
const MaxMessageSize = 65535

// bindRetries and bindRetryDelay implement SPEC_FULL.md §4.I step 2: "if bind fails, retry up to 5
// times at 500ms intervals" applied to the real listener, not a throwaway probe.
const bindRetries = 5
const bindRetryDelay = 500 * time.Millisecond

// Listener runs the TCP ingress accept loop against one bound listener.
type Listener struct {
	ln       net.Listener
	pipeline *forwarder.Pipeline
	stats    *stats.Counters
	sem      chan struct{}
	peak     concurrencytracker.Counter
}

// Listen binds addr (host:port) and returns a Listener with a semaphore of the given capacity
// (DefaultClientLimit if limit <= 0). A failed bind is retried up to bindRetries times at
// bindRetryDelay intervals before Listen gives up, since this is the real listener the proxy will
// serve on, not a probe.
func Listen(addr string, limit int, pipeline *forwarder.Pipeline, st *stats.Counters) (*Listener, error) {
	if limit <= 0 {
		limit = DefaultClientLimit
	}

	var ln net.Listener
	var err error
	for attempt := 0; attempt < bindRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(bindRetryDelay)
		}
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return &Listener{
		ln:       ln,
		pipeline: pipeline,
		stats:    st,
		sem:      make(chan struct{}, limit),
	}, nil
}

// LocalAddr returns the bound listener's address.
func (l *Listener) LocalAddr() net.Addr { return l.ln.Addr() }

// Close releases the underlying listener, causing a blocked Serve to return.
func (l *Listener) Close() error { return l.ln.Close() }

// PeakConcurrency reports (and optionally resets) the highest number of simultaneously-handled
// connections observed, for the status-interval reporter digest.
func (l *Listener) PeakConcurrency(resetCounters bool) int { return l.peak.Peak(resetCounters) }

// Name satisfies reporter.Reporter.
func (l *Listener) Name() string { return "TCP Listener (" + l.ln.Addr().String() + ")" }

// Report satisfies reporter.Reporter.
func (l *Listener) Report(resetCounters bool) string {
	return "peakConcurrency=" + strconv.Itoa(l.PeakConcurrency(resetCounters))
}

// Serve runs the accept loop until ctx is cancelled or the listener is closed. Accept errors are
// logged and the loop continues; only a closed listener (or ctx cancellation) ends Serve.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			log.Printf("tcp: accept error: %v", err)
			continue
		}

		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			return nil
		}

		l.peak.Add()
		l.stats.IncTCPQueries()
		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		l.peak.Done()
		<-l.sem
	}()

	var lenBuf [2]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return
	}
	n := binary.BigEndian.Uint16(lenBuf[:])

	query := make([]byte, n)
	if _, err := io.ReadFull(conn, query); err != nil {
		return
	}

	resp, err := l.pipeline.Handle(ctx, query)
	if err != nil {
		log.Printf("tcp: query from %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	if len(resp) > MaxMessageSize {
		log.Printf("tcp: response to %s exceeds %d bytes, dropping", conn.RemoteAddr(), MaxMessageSize)
		return
	}

	var respLen [2]byte
	binary.BigEndian.PutUint16(respLen[:], uint16(len(resp)))
	if _, err := conn.Write(respLen[:]); err != nil {
		return
	}
	if _, err := conn.Write(resp); err != nil {
		return
	}
}
