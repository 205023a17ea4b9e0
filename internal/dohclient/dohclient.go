// Package dohclient implements the DoH client (component D): a reusable HTTPS client that sends
// RFC 8484 DNS-over-HTTPS POST requests and returns the raw response body. Name resolution for the
// upstream host is delegated to the pinned resolver (component B, internal/pin) rather than the OS
// resolver, breaking the circular dependency between TLS verification and DNS lookups that this
// whole proxy exists to solve. When an outbound proxy is configured, the pin map is not consulted:
// the proxy is dialed directly and resolves the upstream host itself. Grounded on folbricht-routedns's dohTcpTransport/dohQuicTransport
// (custom DialContext substituting a bootstrap/pinned address for the host, HTTP/2 via
// golang.org/x/net/http2.ConfigureTransport, optional HTTP/3 via quic-go/http3) and on the teacher's
// own TLS/HTTP2 client construction in cmd/trustydns-proxy/main.go.
package dohclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/halvorsen/dohproxy/internal/pin"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// Version selects the HTTP version policy used to reach the upstream resolver.
type Version int

const (
	// VersionAuto negotiates via ALPN: HTTP/2 is offered and preferred over HTTP/1.1.
	VersionAuto Version = iota
	// VersionHTTP1 forces HTTP/1.1, disabling ALPN negotiation of h2.
	VersionHTTP1
	// VersionHTTP3 uses QUIC/HTTP3 exclusively.
	VersionHTTP3
)

const (
	// DefaultIdleConnTimeout matches the "server" default of SPEC_FULL.md §4.D; callers targeting a
	// mobile embedding host should pass 30s instead.
	DefaultIdleConnTimeout = 118 * time.Second
	// DefaultMaxIdleConnsPerHost is the connection pool ceiling per host.
	DefaultMaxIdleConnsPerHost = 8
	// DefaultConnectTimeout bounds the TCP/QUIC handshake.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultUserAgent identifies the proxy to the upstream resolver when Options.UserAgent is empty.
	DefaultUserAgent = "dohproxy/1"

	acceptHeader      = "application/dns-message"
	contentTypeHeader = "application/dns-message"
)

// StatusError reports a non-2xx HTTP response from the upstream resolver. The forwarding pipeline
// (component F) maps this to the UpstreamStatus(code) error kind.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dohclient: upstream returned status %d", e.Code)
}

// Options configures a Client, built once at startup per SPEC_FULL.md §4.D.
type Options struct {
	// Pins resolves the upstream host to pinned socket addresses in place of the OS resolver. Must
	// not be nil.
	Pins *pin.Map

	TLSConfig *tls.Config // caller-supplied; InsecureSkipVerify/RootCAs already resolved by tlsutil

	IdleConnTimeout     time.Duration
	MaxIdleConnsPerHost int
	ConnectTimeout      time.Duration

	HTTPVersion Version

	// ProxyURL, if set, routes outbound connections through an HTTP(S) or socks5:// proxy.
	ProxyURL *url.URL

	// LocalAddr optionally binds outbound sockets to a specific local source address.
	LocalAddr net.IP

	UserAgent string
}

// Client is the DoH client. Construct with New; the zero value is not usable.
type Client struct {
	http      *http.Client
	userAgent string
}

// New builds a Client per opt. Defaults are applied for zero-valued timeout fields.
func New(opt Options) (*Client, error) {
	if opt.Pins == nil {
		return nil, fmt.Errorf("dohclient: Options.Pins must not be nil")
	}
	if opt.IdleConnTimeout <= 0 {
		opt.IdleConnTimeout = DefaultIdleConnTimeout
	}
	if opt.MaxIdleConnsPerHost <= 0 {
		opt.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	if opt.ConnectTimeout <= 0 {
		opt.ConnectTimeout = DefaultConnectTimeout
	}
	userAgent := opt.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	tlsConfig := opt.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	} else {
		tlsConfig = tlsConfig.Clone()
	}
	if opt.HTTPVersion == VersionHTTP1 {
		tlsConfig.NextProtos = []string{"http/1.1"}
	}

	var rt http.RoundTripper
	var err error
	if opt.HTTPVersion == VersionHTTP3 {
		rt, err = quicTransport(tlsConfig, opt)
	} else {
		rt, err = tcpTransport(tlsConfig, opt)
	}
	if err != nil {
		return nil, err
	}

	return &Client{
		http:      &http.Client{Transport: rt},
		userAgent: userAgent,
	}, nil
}

// tcpTransport builds the HTTP/1.1-or-HTTP/2 RoundTripper, dialing through the pinned resolver
// instead of the OS resolver, or through a SOCKS5/HTTP proxy when one is configured. Grounded on
// folbricht-routedns's dohTcpTransport.
func tcpTransport(tlsConfig *tls.Config, opt Options) (http.RoundTripper, error) {
	dialer := &net.Dialer{Timeout: opt.ConnectTimeout}
	if opt.LocalAddr != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: opt.LocalAddr}
	}

	tr := &http.Transport{
		TLSClientConfig:       tlsConfig,
		DisableCompression:    true,
		IdleConnTimeout:       opt.IdleConnTimeout,
		MaxIdleConnsPerHost:   opt.MaxIdleConnsPerHost,
		ResponseHeaderTimeout: 10 * time.Second,
		DialContext:           pinnedDialContext(opt.Pins, dialer.DialContext),
	}

	if opt.ProxyURL != nil {
		if err := applyProxy(tr, opt.ProxyURL, dialer); err != nil {
			return nil, err
		}
	}

	if opt.HTTPVersion == VersionAuto {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("dohclient: configuring HTTP/2: %w", err)
		}
	}
	return tr, nil
}

// applyProxy points tr at opt's outbound proxy. An http(s):// URL is handled by the stock
// http.Transport.Proxy hook; a socks5:// URL is turned into a golang.org/x/net/proxy.Dialer and
// spliced in as DialContext, since http.Transport has no native SOCKS5 support.
func applyProxy(tr *http.Transport, proxyURL *url.URL, dialer *net.Dialer) error {
	switch proxyURL.Scheme {
	case "http", "https":
		tr.Proxy = http.ProxyURL(proxyURL)
		// The transport dials the proxy's own address, which is not in the pin map; the proxy
		// resolves the upstream host itself, as with SOCKS5 below.
		tr.DialContext = dialer.DialContext
		return nil
	case "socks5":
		var auth *proxy.Auth
		if proxyURL.User != nil {
			auth = &proxy.Auth{User: proxyURL.User.Username()}
			if pw, ok := proxyURL.User.Password(); ok {
				auth.Password = pw
			}
		}
		d, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, dialer)
		if err != nil {
			return fmt.Errorf("dohclient: socks5 dialer: %w", err)
		}
		inner := tr.DialContext
		tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := d.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return d.Dial(network, addr)
		}
		_ = inner // the SOCKS5 dialer replaces pin resolution; the proxy itself resolves addr
		return nil
	default:
		return fmt.Errorf("dohclient: unsupported proxy scheme %q", proxyURL.Scheme)
	}
}

// pinnedDialContext wraps next, substituting the pinned address(es) for addr's host while leaving
// the port and the TLS ServerName (derived by net/http from the request URL, independent of the
// dialed IP) untouched. It tries every pinned address in order until one connects.
func pinnedDialContext(pins *pin.Map, next func(ctx context.Context, network, addr string) (net.Conn, error)) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		addrs, err := pins.Resolve(host)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, a := range addrs {
			conn, err := next(ctx, network, net.JoinHostPort(a.Addr().String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}

// quicTransport builds the HTTP/3 RoundTripper. Grounded on folbricht-routedns's dohQuicTransport;
// simplified to this proxy's needs (no 0-RTT, no custom quic.Config).
func quicTransport(tlsConfig *tls.Config, opt Options) (http.RoundTripper, error) {
	cfg := tlsConfig.Clone()
	cfg.ClientSessionCache = tls.NewLRUClientSessionCache(32)

	dial := func(ctx context.Context, addr string, tlsCfg *tls.Config, qcfg *quic.Config) (quic.EarlyConnection, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		pinned, err := opt.Pins.Resolve(host)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, a := range pinned {
			target := net.JoinHostPort(a.Addr().String(), port)
			conn, err := quic.DialAddrEarly(ctx, target, tlsCfg, qcfg)
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}

	return &http3.Transport{
		TLSClientConfig: cfg,
		Dial:            dial,
	}, nil
}

// Send issues an RFC 8484 POST of body to url and returns the raw response body on a 2xx status.
// On a non-2xx status it returns a *StatusError; on any dial/TLS/IO failure it returns the
// underlying error wrapped for context - the forwarding pipeline classifies both into its own error
// kinds.
func (c *Client) Send(ctx context.Context, upstreamURL string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dohclient: building request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeHeader)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dohclient: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dohclient: reading response: %w", err)
	}
	return out, nil
}
