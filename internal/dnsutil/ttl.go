package dnsutil

import "github.com/miekg/dns"

// MinTTLClamped returns the minimum TTL across the answer records of a DNS message, clamped to
// [minTTL, maxTTL] per SPEC_FULL.md §4.F step 6 and the original forwarder's forward_to_doh, which
// derives the cached TTL from the answer section alone. ok is false if the message carries no
// answer records with a TTL, or fails to unpack, in which case the caller should fall back to its
// own configured default.
func MinTTLClamped(raw []byte, minTTL, maxTTL uint32) (ttl uint32, ok bool) {
	m := new(dns.Msg)
	if err := m.Unpack(raw); err != nil {
		return 0, false
	}
	t, found := minAnswerTTL(m.Answer)
	if !found {
		return 0, false
	}
	return clamp(t, minTTL, maxTTL), true
}

// minAnswerTTL returns the smallest TTL among answer's records.
func minAnswerTTL(answer []dns.RR) (uint32, bool) {
	found := false
	var min uint32
	for _, rr := range answer {
		if _, isOPT := rr.(*dns.OPT); isOPT {
			continue
		}
		h := rr.Header()
		if !found || h.Ttl < min {
			min = h.Ttl
			found = true
		}
	}
	return min, found
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
