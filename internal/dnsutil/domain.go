package dnsutil

import "github.com/miekg/dns"

// unknownDomain is substituted whenever the query name cannot be determined, per SPEC_FULL.md
// §4.F step 2 ("tolerate truncation - on any parse error use 'unknown'").
const unknownDomain = "unknown"

// ExtractDomain returns the QNAME of the first question in a raw DNS wire message, or "unknown"
// if the message is too short or malformed to carry one. It never errors: a forwarding pipeline
// must keep going with a placeholder name when the logging path can't parse the query.
//
// The fast path unpacks the whole message with miekg/dns; a manual label walk from offset 12
// covers messages that fail full unpacking (e.g. an unsupported record type further down the
// packet) but still carry a well-formed question section.
func ExtractDomain(raw []byte) string {
	m := new(dns.Msg)
	if err := m.Unpack(raw); err == nil && len(m.Question) > 0 {
		return m.Question[0].Name
	}
	if name, ok := walkQName(raw); ok {
		return name
	}
	return unknownDomain
}

// walkQName manually decodes the label sequence of the first question, starting at offset 12
// (immediately after the fixed 12-byte header). It stops at the first zero-length label or any
// malformed length octet, returning ok=false in the latter case.
func walkQName(raw []byte) (string, bool) {
	const headerLen = 12
	if len(raw) < headerLen+1 {
		return "", false
	}
	var labels []string
	off := headerLen
	for off < len(raw) {
		length := int(raw[off])
		if length == 0 {
			break
		}
		if length&0xc0 != 0 { // compression pointer - bail, this is the logging path only
			return "", false
		}
		off++
		if off+length > len(raw) {
			return "", false
		}
		labels = append(labels, string(raw[off:off+length]))
		off += length
	}
	if len(labels) == 0 {
		return "", false
	}
	name := ""
	for _, l := range labels {
		name += l + "."
	}
	return name, true
}
