package main

import (
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/halvorsen/dohproxy/internal/flagutil"
)

// config holds every operator-supplied setting enumerated in SPEC_FULL.md §6, populated by
// newConfig from a flag.FlagSet. Validation happens here rather than scattered through main so
// mainInit/mainExecute stay testable without a real process exit.
type config struct {
	help    bool
	version bool
	gops    bool
	verbose bool
	logQueries bool

	listenAddresses flagutil.StringValue // host:port, repeatable

	resolverURL   string
	bootstrapDNS  flagutil.StringValue // repeatable stub resolver addresses
	allowIPv6     bool
	forceIPv4     bool
	pollInterval  time.Duration
	statusInterval time.Duration

	tcpClientLimit int

	maxIdleTime    time.Duration
	connectTimeout time.Duration

	http11 bool
	http3  bool

	proxyServer string
	sourceAddr  string

	caPaths flagutil.StringValue // repeatable PEM file paths

	cacheTTL      time.Duration
	excludeDomain string

	setuidName, setgidName, chrootDir string
}

// newConfig parses args (as passed to main, args[0] is the program name) into a config, returning
// a usage error rather than exiting directly so callers stay testable.
func newConfig(progName string, args []string) (*config, error) {
	fs := flag.NewFlagSet(progName, flag.ContinueOnError)
	cfg := &config{}

	fs.BoolVar(&cfg.help, "help", false, "Print usage and exit")
	fs.BoolVar(&cfg.version, "version", false, "Print version and exit")
	fs.BoolVar(&cfg.gops, "gops", false, "Enable github.com/google/gops/agent process introspection")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Print startup/shutdown/status messages")
	fs.BoolVar(&cfg.logQueries, "log-queries", false, "Mirror the query log ring to stdout")

	fs.Var(&cfg.listenAddresses, "listen", "Ingress bind address host:port (repeatable)")

	fs.StringVar(&cfg.resolverURL, "resolver-url", "", "Upstream DoH resolver URL (required)")
	fs.Var(&cfg.bootstrapDNS, "bootstrap-dns", "Stub resolver IP or IP:port for bootstrap (repeatable)")
	fs.BoolVar(&cfg.allowIPv6, "allow-ipv6", false, "Fall back to AAAA if bootstrap A lookup fails (requires -force-ipv4=false)")
	fs.BoolVar(&cfg.forceIPv4, "force-ipv4", true, "Restrict bootstrap to IPv4; set false together with -allow-ipv6 to enable AAAA fallback")
	fs.DurationVar(&cfg.pollInterval, "polling-interval", 120*time.Second, "Bootstrap refresh interval")
	fs.DurationVar(&cfg.statusInterval, "status-interval", 60*time.Second, "Periodic status report interval")

	fs.IntVar(&cfg.tcpClientLimit, "tcp-client-limit", 20, "Maximum concurrent TCP connections")

	fs.DurationVar(&cfg.maxIdleTime, "max-idle-time", 118*time.Second, "Upstream connection pool idle timeout")
	fs.DurationVar(&cfg.connectTimeout, "connect-timeout", 10*time.Second, "Upstream connect timeout")

	fs.BoolVar(&cfg.http11, "http1.1", false, "Force HTTP/1.1 to the upstream resolver")
	fs.BoolVar(&cfg.http3, "http3", false, "Use HTTP/3 (QUIC) to the upstream resolver")

	fs.StringVar(&cfg.proxyServer, "proxy-server", "", "Outbound proxy URL (http://, https://, or socks5://)")
	fs.StringVar(&cfg.sourceAddr, "source-addr", "", "Local source address for upstream sockets")

	fs.Var(&cfg.caPaths, "ca-path", "Additional trusted root CA PEM file (repeatable)")

	fs.DurationVar(&cfg.cacheTTL, "cache-ttl", 300*time.Second, "Default cache TTL when not derivable from the response")
	fs.StringVar(&cfg.excludeDomain, "exclude-domain", "", "Domain name (case-insensitive) never cached")

	fs.StringVar(&cfg.setuidName, "setuid", "", "Drop to this user after binding (Unix only)")
	fs.StringVar(&cfg.setgidName, "setgid", "", "Drop to this group after binding (Unix only)")
	fs.StringVar(&cfg.chrootDir, "chroot", "", "Chroot to this directory after binding")

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	if cfg.help || cfg.version {
		return cfg, nil
	}

	if cfg.listenAddresses.NArg() == 0 {
		cfg.listenAddresses.Set("127.0.0.1:5053")
	}

	if cfg.resolverURL == "" {
		return nil, fmt.Errorf("-resolver-url is required")
	}
	u, err := url.Parse(cfg.resolverURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("-resolver-url %q does not parse to a valid URL with a host", cfg.resolverURL)
	}

	if cfg.http11 && cfg.http3 {
		return nil, fmt.Errorf("-http1.1 and -http3 are mutually exclusive")
	}

	if cfg.tcpClientLimit < 1 {
		return nil, fmt.Errorf("-tcp-client-limit must be at least 1")
	}

	if cfg.proxyServer != "" {
		pu, err := url.Parse(cfg.proxyServer)
		if err != nil {
			return nil, fmt.Errorf("-proxy-server: %w", err)
		}
		switch pu.Scheme {
		case "http", "https", "socks5":
		default:
			return nil, fmt.Errorf("-proxy-server: unsupported scheme %q", pu.Scheme)
		}
	}

	return cfg, nil
}
