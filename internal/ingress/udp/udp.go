// Package udp implements the UDP ingress listener (component G): one socket, one receive loop,
// spawning a detached goroutine per datagram to run the forwarding pipeline. Deliberately NOT the
// per-core multi-socket/fixed-worker-pool architecture jroosing-HydraDNS's udp_server.go builds -
// this proxy's ingress is the literal "one socket, one receive loop" shape; only the SO_REUSEPORT
// sockopt technique is borrowed from that file's listenReusePort helper.
package udp

import (
	"context"
	"errors"
	"log"
	"net"
	"syscall"
	"time"

	"github.com/halvorsen/dohproxy/internal/forwarder"
	"github.com/halvorsen/dohproxy/internal/stats"
	"golang.org/x/sys/unix"
)

// BufferSize is the maximum size of a UDP DNS datagram accepted, per RFC 1035 §4.2.1's classic
// 4096-byte practical ceiling (SPEC_FULL.md §4.G).
const BufferSize = 4096

// bindRetries and bindRetryDelay implement SPEC_FULL.md §4.I step 2: "if bind fails, retry up to 5
// times at 500ms intervals" applied to the real socket, not a throwaway probe.
const bindRetries = 5
const bindRetryDelay = 500 * time.Millisecond

// Listener runs the UDP ingress loop against one bound socket.
type Listener struct {
	conn     *net.UDPConn
	pipeline *forwarder.Pipeline
	stats    *stats.Counters
}

// Listen binds addr (host:port) with SO_REUSEADDR/SO_REUSEPORT set, per SPEC_FULL.md §4.I step 2,
// so a restart can rebind immediately and, in principle, so multiple processes could share the
// port. A failed bind is retried up to bindRetries times at bindRetryDelay intervals before Listen
// gives up, since this is the real socket the proxy will serve on, not a probe. The returned
// Listener owns the socket; call Serve to run its receive loop and Close to release it.
func Listen(addr string, pipeline *forwarder.Pipeline, st *stats.Counters) (*Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = err
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	var pc net.PacketConn
	var err error
	for attempt := 0; attempt < bindRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(bindRetryDelay)
		}
		pc, err = lc.ListenPacket(context.Background(), "udp", addr)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return &Listener{conn: pc.(*net.UDPConn), pipeline: pipeline, stats: st}, nil
}

// LocalAddr returns the bound socket's address.
func (l *Listener) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Name satisfies reporter.Reporter.
func (l *Listener) Name() string { return "UDP Listener (" + l.conn.LocalAddr().String() + ")" }

// Report satisfies reporter.Reporter. The interesting counters (udp_queries, errors) live on the
// shared stats.Counters block, already reported separately; this just confirms liveness.
func (l *Listener) Report(resetCounters bool) string { return "listening" }

// Close releases the underlying socket, causing a blocked Serve to return.
func (l *Listener) Close() error { return l.conn.Close() }

// Serve runs the receive loop until ctx is cancelled or the socket is closed. Per-datagram receive
// errors are logged and the loop continues; only a closed socket (or ctx cancellation) ends Serve.
func (l *Listener) Serve(ctx context.Context) error {
	buf := make([]byte, BufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, peer, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("udp: receive error: %v", err)
			continue
		}

		l.stats.IncUDPQueries()
		query := make([]byte, n)
		copy(query, buf[:n])

		go l.respond(ctx, query, peer)
	}
}

func (l *Listener) respond(ctx context.Context, query []byte, peer *net.UDPAddr) {
	resp, err := l.pipeline.Handle(ctx, query)
	if err != nil {
		log.Printf("udp: query from %s failed: %v", peer, err)
		return
	}
	if _, err := l.conn.WriteToUDP(resp, peer); err != nil {
		log.Printf("udp: write to %s failed: %v", peer, err)
	}
}
