/*
Package constants provides common values used across all dohproxy packages. Usage is to call the
global Get() function which returns the Constants by value ensuring that any modifications made
(accidental or otherwise) will not affect other packages when they call Get().

Typical usage:

    consts := constants.Get()
    fmt.Println("I am", consts.ProgramName, "based on", consts.RFC)

The primary reason for making this a constructed struct rather than the more typical const () block
is so that it can be fed directly into templating packages for printing usage messages.
*/
package constants

// Constants contains the system-wide constants.
type Constants struct {
	ProgramName string
	Version     string
	PackageName string
	PackageURL  string
	RFC         string

	HTTPSDefaultPort string

	AcceptHeader      string // Place in every upstream request
	ContentTypeHeader string
	UserAgentHeader   string

	Rfc8484AcceptValue string

	DNSDefaultPort          string
	MinimumViableDNSMessage uint // MsgHdr only (12 octets), no Question
	MaximumViableDNSMessage uint // RFC8484 defines an upper limit
	MaximumUDPQuerySize     int  // Largest datagram this proxy will read from a client

	DNSUDPTransport string // Suitable for the "net" package, but just to make sure we're
	DNSTCPTransport string // consistent across the whole package.
}

var readOnlyConstants *Constants

// createReadOnlyConstants creates a read-only copy of the Constants which is copied whenever a
// caller asks for the constants set. The main reason for returning a struct is so that callers can
// inspect and/or use packages that introspect - particularly */template packages.
func createReadOnlyConstants() {
	readOnlyConstants = &Constants{
		ProgramName: "dohproxy",
		Version:     "v0.1.0",
		PackageName: "DoH Forwarding Proxy",
		PackageURL:  "https://github.com/halvorsen/dohproxy",
		RFC:         "RFC8484",

		HTTPSDefaultPort: "443",

		AcceptHeader:      "Accept",
		ContentTypeHeader: "Content-Type",
		UserAgentHeader:   "User-Agent",

		Rfc8484AcceptValue: "application/dns-message",

		DNSDefaultPort:          "53",
		MinimumViableDNSMessage: 12, // Header only, no question - still a legal query
		MaximumViableDNSMessage: 65535,
		MaximumUDPQuerySize:     4096,

		DNSUDPTransport: "udp",
		DNSTCPTransport: "tcp",
	}
}

func init() {
	createReadOnlyConstants()
}

// Get returns a copy of the Constants struct. Return by value so internal values cannot be
// inadvertently changed by callers.
func Get() Constants {
	return *readOnlyConstants
}
