package pin

import (
	"net/netip"
	"testing"
)

func addrPort(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		t.Fatalf("ParseAddrPort(%q): %v", s, err)
	}
	return ap
}

func TestResolveNotPinned(t *testing.T) {
	m := New()
	_, err := m.Resolve("dns.google")
	if err != ErrNotPinned {
		t.Fatalf("Resolve() err = %v, want ErrNotPinned", err)
	}
}

func TestSetThenResolve(t *testing.T) {
	m := New()
	want := []netip.AddrPort{addrPort(t, "8.8.8.8:443"), addrPort(t, "8.8.4.4:443")}
	m.Set("dns.google", want)

	got, err := m.Resolve("dns.google")
	if err != nil {
		t.Fatalf("Resolve() err = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResolveReturnsIndependentSnapshot(t *testing.T) {
	m := New()
	m.Set("dns.google", []netip.AddrPort{addrPort(t, "8.8.8.8:443")})

	got, err := m.Resolve("dns.google")
	if err != nil {
		t.Fatalf("Resolve() err = %v", err)
	}
	got[0] = addrPort(t, "1.1.1.1:443")

	got2, err := m.Resolve("dns.google")
	if err != nil {
		t.Fatalf("Resolve() err = %v", err)
	}
	if got2[0].Addr().String() != "8.8.8.8" {
		t.Errorf("mutation of returned snapshot leaked into Map: %v", got2[0])
	}
}

func TestSetEmptyRemovesPin(t *testing.T) {
	m := New()
	m.Set("dns.google", []netip.AddrPort{addrPort(t, "8.8.8.8:443")})
	m.Set("dns.google", nil)

	_, err := m.Resolve("dns.google")
	if err != ErrNotPinned {
		t.Fatalf("Resolve() err = %v, want ErrNotPinned after clearing pin", err)
	}
}
