package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"

	"github.com/halvorsen/dohproxy/internal/bootstrap"
	"github.com/halvorsen/dohproxy/internal/cache"
	"github.com/halvorsen/dohproxy/internal/dohclient"
	"github.com/halvorsen/dohproxy/internal/forwarder"
	"github.com/halvorsen/dohproxy/internal/ingress/tcp"
	"github.com/halvorsen/dohproxy/internal/ingress/udp"
	"github.com/halvorsen/dohproxy/internal/pin"
	"github.com/halvorsen/dohproxy/internal/querylog"
	"github.com/halvorsen/dohproxy/internal/refresh"
	"github.com/halvorsen/dohproxy/internal/reporter"
	"github.com/halvorsen/dohproxy/internal/stats"
	"github.com/halvorsen/dohproxy/internal/tlsutil"
)

// proxy is the lifecycle controller (component I): it owns every stateful component built during
// startup and exposes the observability surface of SPEC_FULL.md §4.J to anything outside the main
// run loop.
type proxy struct {
	cfg          *config
	resolverHost string

	pins        *pin.Map
	cache       *cache.Cache
	client      *dohclient.Client
	pipeline    *forwarder.Pipeline
	stats       *stats.Counters
	log         *querylog.Log
	refreshLoop refreshRunner

	udpListeners []*udp.Listener
	tcpListeners []*tcp.Listener
	reporters    []reporter.Reporter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// refreshRunner is satisfied by internal/refresh.Loop; the proxy holds its refresh loop through this
// interface rather than the refresh package's concrete type.
type refreshRunner interface {
	Run(ctx context.Context, refreshNow <-chan struct{})
	Name() string
	Report(resetCounters bool) string
}

// newProxy performs steps 1 through 5 of SPEC_FULL.md §4.I, in this order: bootstrap (step 3), DoH
// client (step 4) and cache (step 5) first, then binding every listen address (steps 1/2), so a
// bootstrap failure returns before any ingress socket is opened. Step 6 (starting the refresh loop
// and both ingress listeners) is performed by Start, once the caller is ready to begin serving.
func newProxy(ctx context.Context, cfg *config) (*proxy, error) {
	resolverHost, err := hostOf(cfg.resolverURL)
	if err != nil {
		return nil, err
	}

	// Step 3: run the bootstrap resolver once and populate the pin map.
	pins := pin.New()
	addrs, err := bootstrap.Resolve(resolverHost, cfg.bootstrapDNS.Args(), addressPolicy(cfg))
	if err != nil {
		return nil, &forwarder.Error{Kind: forwarder.KindBootstrapFailed, Err: err}
	}
	pins.Set(resolverHost, addrs)

	// Step 4: construct the DoH client, referring to the pin map for name resolution.
	tlsConfig, err := tlsutil.NewClientTLSConfig(true, cfg.caPaths.Args(), "", "")
	if err != nil {
		return nil, err
	}

	clientOpt := dohclient.Options{
		Pins:                pins,
		TLSConfig:           tlsConfig,
		IdleConnTimeout:     cfg.maxIdleTime,
		MaxIdleConnsPerHost: dohclient.DefaultMaxIdleConnsPerHost,
		ConnectTimeout:      cfg.connectTimeout,
		UserAgent:           "dohproxy/1",
	}
	switch {
	case cfg.http11:
		clientOpt.HTTPVersion = dohclient.VersionHTTP1
	case cfg.http3:
		clientOpt.HTTPVersion = dohclient.VersionHTTP3
	default:
		clientOpt.HTTPVersion = dohclient.VersionAuto
	}
	if cfg.sourceAddr != "" {
		clientOpt.LocalAddr = net.ParseIP(cfg.sourceAddr)
	}
	if cfg.proxyServer != "" {
		pu, err := url.Parse(cfg.proxyServer)
		if err != nil {
			return nil, err
		}
		clientOpt.ProxyURL = pu
	}

	client, err := dohclient.New(clientOpt)
	if err != nil {
		return nil, err
	}

	// Step 5: create the answer cache.
	answerCache := cache.New(cfg.cacheTTL)

	st := &stats.Counters{}
	log := querylog.New(ctx)
	if cfg.logQueries {
		log.SetMirror(os.Stdout)
	}

	pipeline := forwarder.New(forwarder.Config{
		Cache:         answerCache,
		Client:        client,
		Stats:         st,
		Log:           log,
		ResolverURL:   cfg.resolverURL,
		ExcludeDomain: cfg.excludeDomain,
	})

	p := &proxy{
		cfg:          cfg,
		resolverHost: resolverHost,
		pins:         pins,
		cache:        answerCache,
		client:       client,
		pipeline:     pipeline,
		stats:        st,
		log:          log,
	}

	// Step 1/2: bind every listen address on both UDP and TCP. udp.Listen/tcp.Listen each retry
	// their own bind up to 5 times at 500ms intervals before giving up.
	for _, addr := range cfg.listenAddresses.Args() {
		ul, err := udp.Listen(addr, pipeline, st)
		if err != nil {
			return nil, &forwarder.Error{Kind: forwarder.KindBindFailed, Err: err}
		}
		p.udpListeners = append(p.udpListeners, ul)

		tl, err := tcp.Listen(addr, cfg.tcpClientLimit, pipeline, st)
		if err != nil {
			return nil, &forwarder.Error{Kind: forwarder.KindBindFailed, Err: err}
		}
		p.tcpListeners = append(p.tcpListeners, tl)
	}

	p.reporters = append(p.reporters, st, answerCache, log)
	for _, ul := range p.udpListeners {
		p.reporters = append(p.reporters, ul)
	}
	for _, tl := range p.tcpListeners {
		p.reporters = append(p.reporters, tl)
	}

	return p, nil
}

// Start runs step 6: the refresh loop and both ingress listener families, all cancelled together by
// ctx.
func (p *proxy) Start(ctx context.Context, refreshNow <-chan struct{}) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	rl := newRefreshLoop(p.cfg, p.pins)
	p.refreshLoop = rl
	p.reporters = append(p.reporters, rl)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		rl.Run(ctx, refreshNow)
	}()

	for _, ul := range p.udpListeners {
		ul := ul
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ul.Serve(ctx)
		}()
	}
	for _, tl := range p.tcpListeners {
		tl := tl
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			tl.Serve(ctx)
		}()
	}
}

// Stop cancels every running component and waits for them to return, per §4.I's shutdown
// description: in-flight per-query tasks are allowed to complete, not aborted.
func (p *proxy) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	for _, ul := range p.udpListeners {
		ul.Close()
	}
	for _, tl := range p.tcpListeners {
		tl.Close()
	}
	p.wg.Wait()
}

// Reporters returns every component that should contribute to the periodic status digest.
func (p *proxy) Reporters() []reporter.Reporter { return p.reporters }

// LastLatencyMillis is part of the §4.J observability surface.
func (p *proxy) LastLatencyMillis() int64 { return p.stats.LastLatencyMillis() }

// QueryLog is part of the §4.J observability surface.
func (p *proxy) QueryLog() []string { return p.log.Snapshot() }

// ClearQueryLog is part of the §4.J observability surface.
func (p *proxy) ClearQueryLog() { p.log.Clear() }

// ClearCache is part of the §4.J observability surface.
func (p *proxy) ClearCache() { p.cache.Clear() }

// newRefreshLoop builds the refresh loop for the resolver host/stub resolvers/address-family
// policy already resolved once during newProxy.
func newRefreshLoop(cfg *config, pins *pin.Map) *refresh.Loop {
	host, _ := hostOf(cfg.resolverURL)
	return refresh.New(refresh.Config{
		Host:          host,
		StubResolvers: cfg.bootstrapDNS.Args(),
		Policy:        addressPolicy(cfg),
		Interval:      cfg.pollInterval,
	}, pins)
}

func addressPolicy(cfg *config) bootstrap.IPPolicy {
	if cfg.allowIPv6 && !cfg.forceIPv4 {
		return bootstrap.IPv4ThenIPv6
	}
	return bootstrap.IPv4Only
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("resolver URL %q has no host", rawURL)
	}
	return host, nil
}
