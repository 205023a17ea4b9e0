package dnsutil

import (
	"strconv"
	"testing"

	"github.com/miekg/dns"
)

func TestMinTTLClampedWithinBounds(t *testing.T) {
	m := newTestMsg(t, 60, 120, 90)
	raw, err := m.Pack()
	checkFatal(t, err, "pack")

	ttl, ok := MinTTLClamped(raw, 10, 3600)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ttl != 60 {
		t.Errorf("ttl = %d, want 60", ttl)
	}
}

func TestMinTTLClampedBelowMinimum(t *testing.T) {
	m := newTestMsg(t, 2)
	raw, err := m.Pack()
	checkFatal(t, err, "pack")

	ttl, ok := MinTTLClamped(raw, 10, 3600)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ttl != 10 {
		t.Errorf("ttl = %d, want clamped to 10", ttl)
	}
}

func TestMinTTLClampedAboveMaximum(t *testing.T) {
	m := newTestMsg(t, 999999)
	raw, err := m.Pack()
	checkFatal(t, err, "pack")

	ttl, ok := MinTTLClamped(raw, 10, 3600)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ttl != 3600 {
		t.Errorf("ttl = %d, want clamped to 3600", ttl)
	}
}

func TestMinTTLClampedNoAnswers(t *testing.T) {
	raw := make([]byte, 12)
	_, ok := MinTTLClamped(raw, 10, 3600)
	if ok {
		t.Error("expected ok=false for a header-only message with no records")
	}
}

func TestMinTTLClampedMalformed(t *testing.T) {
	_, ok := MinTTLClamped([]byte{1, 2, 3}, 10, 3600)
	if ok {
		t.Error("expected ok=false for an unparseable message")
	}
}

func TestMinTTLClampedIgnoresNsAndExtra(t *testing.T) {
	m := newTestMsg(t, 300)

	nsRR, err := dns.NewRR("example.com. 5 IN NS ns1.example.com.")
	checkFatal(t, err, "newRR ns")
	m.Ns = append(m.Ns, nsRR)

	extraRR, err := dns.NewRR("ns1.example.com. 1 IN A 192.0.2.53")
	checkFatal(t, err, "newRR extra")
	m.Extra = append(m.Extra, extraRR)

	raw, err := m.Pack()
	checkFatal(t, err, "pack")

	ttl, ok := MinTTLClamped(raw, 10, 3600)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ttl != 300 {
		t.Errorf("ttl = %d, want 300 (Ns/Extra TTLs of 5 and 1 must not be considered)", ttl)
	}
}

func newTestMsg(t *testing.T, ttls ...uint32) *dns.Msg {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Response = true
	for i, ttl := range ttls {
		rr, err := dns.NewRR("example.com. " + strconv.FormatUint(uint64(ttl), 10) + " IN A 192.0.2." + strconv.Itoa(i+1))
		checkFatal(t, err, "newRR")
		m.Answer = append(m.Answer, rr)
	}
	return m
}
