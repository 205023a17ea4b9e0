// Package pin implements the pinned name resolver (component B): an in-memory map from hostname to
// an ordered list of socket addresses, consulted by the DoH client's dial hook in place of the
// operator's system resolver. Writes are whole-list replacements performed under exclusive access;
// reads take a snapshot and release the lock before the caller uses it. There is no TTL logic here
// - freshness is the refresh loop's job (component C).
package pin

import (
	"errors"
	"net/netip"
	"sync"
)

// ErrNotPinned is returned by Resolve when the host has never been pinned, or its pin was cleared.
// SPEC_FULL.md §7 classifies this as an internal error that the DoH client surfaces to the
// forwarding pipeline as a Transport failure.
var ErrNotPinned = errors.New("pin: host not pinned")

// Map is the pinned name resolver. The zero value is ready to use.
type Map struct {
	mu   sync.RWMutex
	pins map[string][]netip.AddrPort
}

// New returns an empty Map.
func New() *Map {
	return &Map{pins: make(map[string][]netip.AddrPort)}
}

// Resolve returns a snapshot of the current pin for host, or ErrNotPinned if host has no pin. Per
// the data model, a pinned host is never associated with an empty address list - an absent pin is
// always represented by the host's absence from the map, never a zero-length slice.
func (m *Map) Resolve(host string) ([]netip.AddrPort, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	addrs, ok := m.pins[host]
	if !ok {
		return nil, ErrNotPinned
	}
	out := make([]netip.AddrPort, len(addrs))
	copy(out, addrs)
	return out, nil
}

// Set replaces the pin for host with addrs in one atomic step. An empty addrs removes the pin
// entirely, preserving the invariant that a present entry is never empty.
func (m *Map) Set(host string, addrs []netip.AddrPort) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(addrs) == 0 {
		delete(m.pins, host)
		return
	}
	if m.pins == nil {
		m.pins = make(map[string][]netip.AddrPort)
	}
	cp := make([]netip.AddrPort, len(addrs))
	copy(cp, addrs)
	m.pins[host] = cp
}
