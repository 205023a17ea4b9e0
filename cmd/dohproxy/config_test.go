package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/halvorsen/dohproxy/internal/cache"
	"github.com/halvorsen/dohproxy/internal/dohclient"
	"github.com/halvorsen/dohproxy/internal/forwarder"
	"github.com/halvorsen/dohproxy/internal/pin"
	"github.com/halvorsen/dohproxy/internal/querylog"
	"github.com/halvorsen/dohproxy/internal/stats"
	"github.com/miekg/dns"
)

func TestNewConfigRequiresResolverURL(t *testing.T) {
	if _, err := newConfig("dohproxy", []string{"dohproxy"}); err == nil {
		t.Fatal("newConfig() without -resolver-url: want error, got nil")
	}
}

func TestNewConfigDefaultsListenAddress(t *testing.T) {
	cfg, err := newConfig("dohproxy", []string{"dohproxy", "-resolver-url", "https://doh.example.net/dns-query"})
	if err != nil {
		t.Fatalf("newConfig: %v", err)
	}
	if got := cfg.listenAddresses.Args(); len(got) != 1 || got[0] != "127.0.0.1:5053" {
		t.Errorf("listenAddresses = %v, want [127.0.0.1:5053]", got)
	}
}

func TestNewConfigRejectsConflictingHTTPVersions(t *testing.T) {
	_, err := newConfig("dohproxy", []string{
		"dohproxy", "-resolver-url", "https://doh.example.net/dns-query", "-http1.1", "-http3",
	})
	if err == nil {
		t.Fatal("newConfig() with both -http1.1 and -http3: want error, got nil")
	}
}

func TestNewConfigRejectsBadProxyScheme(t *testing.T) {
	_, err := newConfig("dohproxy", []string{
		"dohproxy", "-resolver-url", "https://doh.example.net/dns-query", "-proxy-server", "ftp://proxy.example.net",
	})
	if err == nil {
		t.Fatal("newConfig() with an unsupported -proxy-server scheme: want error, got nil")
	}
}

// TestExcludeDomainFlagThreadsThroughToPipeline exercises -exclude-domain exactly as an operator
// would supply it - no trailing dot - through real flag parsing, and confirms the resulting
// forwarder.Pipeline actually honors it. This guards against config.go and forwarder.go silently
// disagreeing on FQDN form.
func TestExcludeDomainFlagThreadsThroughToPipeline(t *testing.T) {
	var upstreamCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls++
		m := new(dns.Msg)
		m.SetQuestion("metrics.internal.", dns.TypeA)
		m.Response = true
		rr, _ := dns.NewRR("metrics.internal. 60 IN A 203.0.113.10")
		m.Answer = append(m.Answer, rr)
		out, _ := m.Pack()
		w.WriteHeader(http.StatusOK)
		w.Write(out)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}

	// The dial keeps the URL's port and only swaps the host for the pinned IP, so the resolver URL
	// carries the test server's port.
	cfg, err := newConfig("dohproxy", []string{
		"dohproxy",
		"-resolver-url", "http://doh.example.net:" + u.Port() + "/dns-query",
		"-exclude-domain", "metrics.internal",
	})
	if err != nil {
		t.Fatalf("newConfig: %v", err)
	}

	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("u.Port: %v", err)
	}
	pins := pin.New()
	pins.Set("doh.example.net", []netip.AddrPort{netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(port))})

	client, err := dohclient.New(dohclient.Options{Pins: pins, HTTPVersion: dohclient.VersionHTTP1})
	if err != nil {
		t.Fatalf("dohclient.New: %v", err)
	}

	pipeline := forwarder.New(forwarder.Config{
		Cache:         cache.New(30 * time.Second),
		Client:        client,
		Stats:         &stats.Counters{},
		Log:           querylog.New(context.Background()),
		ResolverURL:   cfg.resolverURL,
		ExcludeDomain: cfg.excludeDomain,
	})

	q := new(dns.Msg)
	q.Id = 0x1234
	q.SetQuestion("metrics.internal.", dns.TypeA)
	req, err := q.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	if _, err := pipeline.Handle(context.Background(), req); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, err := pipeline.Handle(context.Background(), req); err != nil {
		t.Fatalf("Handle (second): %v", err)
	}
	if upstreamCalls != 2 {
		t.Errorf("upstream called %d times, want 2 (an excluded domain must never be served from cache)", upstreamCalls)
	}
}
