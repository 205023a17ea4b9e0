package constants

import (
	"testing"
)

func TestPostGet(t *testing.T) {
	if readOnlyConstants == nil {
		t.Error("Expected readOnlyConstants to be set by init() prior to me")
	}
}

// TestValues tests that at least a few of the constants have been
// initialized. Too tiresome to test them all and obviously of limited
// value.
func TestValues(t *testing.T) {
	consts := Get()
	if len(consts.ProgramName) == 0 {
		t.Error("consts.ProgramName should be set but it's zero length")
	}
	if len(consts.RFC) == 0 {
		t.Error("consts.RFC should be set but it's zero length")
	}

	if len(consts.HTTPSDefaultPort) == 0 {
		t.Error("consts.HTTPSDefaultPort should be set but it's zero length")
	}
	if len(consts.Rfc8484AcceptValue) == 0 {
		t.Error("consts.Rfc8484AcceptValue should be set but it's zero length")
	}

	if len(consts.DNSDefaultPort) == 0 {
		t.Error("consts.DNSDefaultPort should be set but it's zero length")
	}
	if consts.MinimumViableDNSMessage == 0 {
		t.Error("consts.MinimumViableDNSMessage should be set but it's zero")
	}
}

func TestGetIsIndependentCopy(t *testing.T) {
	c1 := Get()
	c1.ProgramName = "mutated"
	c2 := Get()
	if c2.ProgramName == "mutated" {
		t.Error("Get() should return an independent copy; mutation leaked into package state")
	}
}
