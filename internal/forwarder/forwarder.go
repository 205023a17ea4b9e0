// Package forwarder implements the forwarding pipeline (component F): the per-query algorithm that
// turns a raw DNS request into a raw DNS response, consulting the answer cache and dispatching to
// the upstream DoH resolver with retries. Grounded step-for-step on original_source/src/lib.rs's
// forward_to_doh and its extract_domain helper - the authoritative ground truth for step ordering,
// the retry/backoff formula, and the query-log message formats.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/halvorsen/dohproxy/internal/cache"
	"github.com/halvorsen/dohproxy/internal/dnsutil"
	"github.com/halvorsen/dohproxy/internal/dohclient"
	"github.com/halvorsen/dohproxy/internal/querylog"
	"github.com/halvorsen/dohproxy/internal/stats"
	"github.com/miekg/dns"
)

// Kind classifies a pipeline failure, per SPEC_FULL.md §7.
type Kind int

const (
	KindMalformedRequest Kind = iota
	KindUpstreamStatus
	KindTransport
	KindNotPinned
	KindBootstrapFailed
	KindBindFailed
)

func (k Kind) String() string {
	switch k {
	case KindMalformedRequest:
		return "MalformedRequest"
	case KindUpstreamStatus:
		return "UpstreamStatus"
	case KindTransport:
		return "Transport"
	case KindNotPinned:
		return "NotPinned"
	case KindBootstrapFailed:
		return "BootstrapFailed"
	case KindBindFailed:
		return "BindFailed"
	default:
		return "Unknown"
	}
}

// Error is the pipeline's error taxonomy. Code is populated only for KindUpstreamStatus.
type Error struct {
	Kind Kind
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindUpstreamStatus {
		return fmt.Sprintf("forwarder: %s(%d): %v", e.Kind, e.Code, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("forwarder: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("forwarder: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

const maxAttempts = 3

const retryBackoffUnit = 100 * time.Millisecond

// Pipeline runs the forwarding algorithm. The zero value is not usable; construct with New.
type Pipeline struct {
	cache         *cache.Cache
	client        *dohclient.Client
	stats         *stats.Counters
	log           *querylog.Log
	resolverURL   string
	excludeDomain string
}

// Config configures a Pipeline.
type Config struct {
	Cache         *cache.Cache
	Client        *dohclient.Client
	Stats         *stats.Counters
	Log           *querylog.Log
	ResolverURL   string
	ExcludeDomain string // case-insensitive; answers for this name are never cached
}

// New constructs a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		cache:         cfg.Cache,
		client:        cfg.Client,
		stats:         cfg.Stats,
		log:           cfg.Log,
		resolverURL:   cfg.ResolverURL,
		excludeDomain: cfg.ExcludeDomain,
	}
}

// Handle runs the 8-step forwarding algorithm against request and returns the bytes to send back to
// the querying client.
func (p *Pipeline) Handle(ctx context.Context, request []byte) ([]byte, error) {
	// 1. Validate.
	if len(request) < 12 {
		return nil, &Error{Kind: KindMalformedRequest, Err: errors.New("request shorter than a DNS header")}
	}

	// 2. Capture + extract.
	var originalID [2]byte
	copy(originalID[:], request[:2])
	domain := dnsutil.ExtractDomain(request)
	shouldCache := !p.isExcluded(domain)

	// 3. Cache lookup.
	fingerprint := string(request[2:])
	if shouldCache {
		if cached, remaining, ok := p.cache.Get(fingerprint); ok {
			resp := make([]byte, len(cached))
			copy(resp, cached)
			resp[0], resp[1] = originalID[0], originalID[1]
			p.log.Record(domain, fmt.Sprintf("OK (Cache, TTL %d)", int(remaining.Seconds())))
			return resp, nil
		}
	}

	// 4. ID zeroing.
	reqCopy := make([]byte, len(request))
	copy(reqCopy, request)
	reqCopy[0], reqCopy[1] = 0, 0

	// 5. Retry loop.
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepOrCancel(ctx, time.Duration(attempt)*retryBackoffUnit); err != nil {
				lastErr = err
				break
			}
		}

		resp, err := p.client.Send(ctx, p.resolverURL, reqCopy)
		if err != nil {
			lastErr = classify(err)
			continue
		}

		latency := time.Since(start)
		p.stats.RecordLatency(latency.Milliseconds())
		p.log.Record(domain, fmt.Sprintf("OK (%dms, att %d)", latency.Milliseconds(), attempt+1))

		// 6. TTL extraction + cache insert.
		if shouldCache && len(resp) > 2 {
			ttl, ok := dnsutil.MinTTLClamped(resp, uint32(cache.MinTTL/time.Second), uint32(cache.MaxTTL/time.Second))
			var ttlDuration time.Duration
			if ok {
				ttlDuration = time.Duration(ttl) * time.Second
			}
			p.cache.Insert(fingerprint, resp, ttlDuration)
		}

		// 7. ID restoration.
		final := make([]byte, len(resp))
		copy(final, resp)
		if len(final) >= 2 {
			final[0], final[1] = originalID[0], originalID[1]
		}
		return final, nil
	}

	// 8. Exhaustion.
	p.stats.IncErrors()
	p.log.Record(domain, "Error: "+categorize(lastErr)+" "+compactQueryDump(reqCopy))
	return nil, lastErr
}

// compactQueryDump renders the query that exhausted its retry budget via dnsutil.CompactMsgString,
// for the query-log line an operator greps when a domain is consistently failing. Returns "" if
// reqCopy doesn't unpack as a DNS message; the length check in step 1 does not rule that out.
func compactQueryDump(reqCopy []byte) string {
	m := new(dns.Msg)
	if err := m.Unpack(reqCopy); err != nil {
		return ""
	}
	return dnsutil.CompactMsgString(m)
}

// isExcluded compares domain (always FQDN form, per dnsutil.ExtractDomain) against the configured
// exclude-domain name, which arrives from the CLI with no such guarantee - both sides are put
// through dns.Fqdn before comparing so "-exclude-domain metrics.internal" matches the wire form
// "metrics.internal.".
func (p *Pipeline) isExcluded(domain string) bool {
	if p.excludeDomain == "" {
		return false
	}
	return strings.EqualFold(dns.Fqdn(domain), dns.Fqdn(p.excludeDomain))
}

func classify(err error) error {
	var statusErr *dohclient.StatusError
	if errors.As(err, &statusErr) {
		return &Error{Kind: KindUpstreamStatus, Code: statusErr.Code, Err: err}
	}
	return &Error{Kind: KindTransport, Err: err}
}

// categorize mirrors the original forwarder's substring-based error message tagging, used only for
// the human-readable query log line.
func categorize(err error) string {
	if err == nil {
		return "Unknown Error"
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "connection closed"), strings.Contains(lower, "broken pipe"):
		return "Conn Closed: " + msg
	case strings.Contains(lower, "timed out"), strings.Contains(lower, "timeout"),
		strings.Contains(lower, "deadline exceeded"):
		return "Timeout: " + msg
	default:
		return msg
	}
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
