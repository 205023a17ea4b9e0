// Package bootstrap implements the bootstrap resolver (component A): a one-shot plaintext DNS
// lookup of the DoH upstream host, performed against a caller-supplied list of stub resolvers. This
// is the only package in the system permitted to speak plaintext DNS - everything downstream of it
// talks exclusively to the pinned addresses it discovers here.
package bootstrap

import (
	"errors"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ErrBootstrapFailed is returned when no stub resolver answers, or the answers contain zero usable
// addresses. SPEC_FULL.md §7 classifies this as BootstrapFailed: fatal at startup, tolerated (and
// logged) on refresh.
var ErrBootstrapFailed = errors.New("bootstrap: failed to resolve upstream host")

// IPPolicy selects which address families the bootstrap resolver requests and in what order.
type IPPolicy int

const (
	// IPv4Only requests only A records.
	IPv4Only IPPolicy = iota
	// IPv4ThenIPv6 requests A first; if no A record comes back, falls back to AAAA. This is the
	// policy the original source's Ipv4thenIpv6 strategy implements and SPEC_FULL.md §9 pins as
	// the specified behavior.
	IPv4ThenIPv6
)

const (
	httpsPortNum = 443
	dnsPort      = "53"
	exchangeTime = 5 * time.Second
)

// Resolve performs a single A/AAAA lookup of host against every address in stubResolvers (each a
// bare IP, defaulting to port 53, or an explicit IP:port; an element may hold several such
// addresses separated by commas), honoring policy. It returns a
// non-empty, ordered list of (IP, 443) socket addresses, or ErrBootstrapFailed.
//
// Both UDP and TCP are attempted per stub resolver, UDP first, matching RFC 1035's normal
// transport preference; a stub that only answers over TCP (rare, but legal for large responses)
// still succeeds.
func Resolve(host string, stubResolvers []string, policy IPPolicy) ([]netip.AddrPort, error) {
	servers, err := normalizeStubs(stubResolvers)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, ErrBootstrapFailed
	}

	ips := lookup(host, servers, dns.TypeA)
	if len(ips) == 0 && policy == IPv4ThenIPv6 {
		ips = lookup(host, servers, dns.TypeAAAA)
	}
	if len(ips) == 0 {
		return nil, ErrBootstrapFailed
	}

	out := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		out = append(out, netip.AddrPortFrom(addr.Unmap(), httpsPortNum))
	}
	if len(out) == 0 {
		return nil, ErrBootstrapFailed
	}
	return out, nil
}

// normalizeStubs turns each entry of stubResolvers (itself possibly a comma-separated list) into a
// dialable "IP:port" string, defaulting to port 53 when the entry is a bare IP.
func normalizeStubs(stubResolvers []string) ([]string, error) {
	out := make([]string, 0, len(stubResolvers))
	for _, list := range stubResolvers {
		for _, s := range strings.Split(list, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, _, err := net.SplitHostPort(s); err == nil {
				out = append(out, s)
				continue
			}
			if net.ParseIP(s) != nil {
				out = append(out, net.JoinHostPort(s, dnsPort))
				continue
			}
			return nil, errors.New("bootstrap: invalid stub resolver address: " + s)
		}
	}
	return out, nil
}

// lookup issues a single query of qtype against every server in turn, over UDP then TCP, and
// returns the first successful, non-empty set of answer IPs.
func lookup(host string, servers []string, qtype uint16) []net.IP {
	fqdn := dns.Fqdn(host)
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, qtype)
	msg.RecursionDesired = true

	for _, net := range []string{"udp", "tcp"} {
		client := &dns.Client{Net: net, Timeout: exchangeTime}
		for _, server := range servers {
			reply, _, err := client.Exchange(msg, server)
			if err != nil || reply == nil || reply.Rcode != dns.RcodeSuccess {
				continue
			}
			ips := ipsFromAnswer(reply.Answer, qtype)
			if len(ips) > 0 {
				return ips
			}
		}
	}
	return nil
}

func ipsFromAnswer(answer []dns.RR, qtype uint16) []net.IP {
	var ips []net.IP
	for _, rr := range answer {
		switch qtype {
		case dns.TypeA:
			if a, ok := rr.(*dns.A); ok {
				ips = append(ips, a.A)
			}
		case dns.TypeAAAA:
			if aaaa, ok := rr.(*dns.AAAA); ok {
				ips = append(ips, aaaa.AAAA)
			}
		}
	}
	return ips
}
