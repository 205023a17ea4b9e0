package main

import (
	"fmt"
	"io"
	"text/template"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative
// tty width for the usage output.

const usageMessageTemplate = `
NAME
          {{.ProgramName}} -- a DNS over HTTPS forwarding proxy

SYNOPSIS
          {{.ProgramName}} -resolver-url <url> [options]

DESCRIPTION
          {{.ProgramName}} is a local DNS forwarder based on {{.RFC}} (DoH). It accepts plain DNS
          queries over UDP and TCP and forwards them over HTTPS to a DoH resolver, caching
          answers locally. The intent is to provide a private, trustworthy local resolver without
          requiring every client on a network to speak DoH itself.

OPTIONS
          -listen host:port
                    Ingress bind address. Repeatable; default 127.0.0.1:5053.

          -resolver-url url
                    Upstream DoH resolver URL. Required.

          -bootstrap-dns ip[:port]
                    Stub resolver used once at startup (and on each refresh) to resolve the DoH
                    resolver's hostname, since {{.ProgramName}} cannot use its own output to
                    resolve its own input. Repeatable.

          -allow-ipv6, -force-ipv4
                    Bootstrap address-family policy. IPv4-only unless -force-ipv4=false is given
                    together with -allow-ipv6.

          -polling-interval duration
                    How often the bootstrap resolution is repeated. Default 120s.

          -tcp-client-limit n
                    Maximum number of concurrent TCP connections. Default 20.

          -max-idle-time duration, -connect-timeout duration
                    Upstream HTTP connection pool tuning.

          -http1.1, -http3
                    Force a specific HTTP version to the upstream resolver instead of ALPN
                    negotiation (HTTP/2 preferred).

          -proxy-server url
                    Outbound proxy for reaching the upstream resolver: http://, https://, or
                    socks5://.

          -source-addr ip
                    Local source address for upstream sockets.

          -ca-path file
                    Additional trusted root CA, in PEM form. Repeatable.

          -cache-ttl duration
                    Default answer TTL when the upstream response carries none. Default 300s.

          -exclude-domain name
                    Domain name (case-insensitive) whose answers are never cached.

          -gops
                    Start the github.com/google/gops agent for external process introspection.

          -verbose, -log-queries
                    Print startup/shutdown/status messages, and mirror the query log to stdout.

          -setuid name, -setgid name, -chroot dir
                    Drop privileges after binding. See {{.PackageURL}}.

          -status-interval duration
                    Period between status reports when -verbose is set. Default 60s.

          -help
                    Print this message.

          -version
                    Print version and exit.

SIGNALS
          SIGINT, SIGTERM
                    Graceful shutdown.

          SIGHUP
                    Trigger an immediate out-of-cycle bootstrap refresh.

          SIGUSR1
                    Print a status report without resetting counters.

SEE ALSO
          {{.PackageURL}}
`

func usage(out io.Writer) {
	t := template.Must(template.New("usage").Parse(usageMessageTemplate))
	if err := t.Execute(out, consts); err != nil {
		fmt.Fprintln(out, "Internal error generating usage:", err)
	}
}
