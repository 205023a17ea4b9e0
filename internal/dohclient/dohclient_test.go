package dohclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strconv"
	"testing"

	"github.com/halvorsen/dohproxy/internal/pin"
)

func newTestClient(t *testing.T, pins *pin.Map) *Client {
	t.Helper()
	c, err := New(Options{Pins: pins, HTTPVersion: VersionHTTP1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func pinToServer(t *testing.T, pins *pin.Map, host string, srv *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("u.Port: %v", err)
	}
	pins.Set(host, []netip.AddrPort{netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(port))})
	return "http://" + host + ":" + u.Port() + "/dns-query"
}

func TestSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/dns-message" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Accept") != "application/dns-message" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	pins := pin.New()
	upstream := pinToServer(t, pins, "doh.example.net", srv)
	c := newTestClient(t, pins)

	got, err := c.Send(context.Background(), upstream, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(got) != string([]byte{1, 2, 3}) {
		t.Errorf("Send() = %v, want echoed body", got)
	}
}

func TestSendUpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	pins := pin.New()
	upstream := pinToServer(t, pins, "doh.example.net", srv)
	c := newTestClient(t, pins)

	_, err := c.Send(context.Background(), upstream, []byte{1})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Send() err = %v, want *StatusError", err)
	}
	if statusErr.Code != http.StatusBadGateway {
		t.Errorf("StatusError.Code = %d, want %d", statusErr.Code, http.StatusBadGateway)
	}
}

func TestSendNotPinnedFails(t *testing.T) {
	pins := pin.New()
	c := newTestClient(t, pins)

	_, err := c.Send(context.Background(), "http://doh.example.net:443/dns-query", []byte{1})
	if !errors.Is(err, pin.ErrNotPinned) {
		t.Fatalf("Send() err = %v, want wrapped pin.ErrNotPinned", err)
	}
}

func TestNewRejectsNilPins(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New() with nil Pins: want error, got nil")
	}
}
