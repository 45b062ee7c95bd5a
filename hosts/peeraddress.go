// Copyright (c) 2021-2025 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hosts

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// PeerAddress defines the endpoint of a peer on the overlay network in the
// form scheme://host:port.
//
// It is a comparable value type, so two addresses are equal, and hash to the
// same map slot, only when every field matches.  Use ParsePeerAddress to
// obtain a canonical instance from a string.
type PeerAddress struct {
	// Scheme is the lowercase transport scheme (tcp, tcp+tls, tor, ...).
	Scheme string

	// Host is the lowercase host of the peer.  IPv6 hosts are stored without
	// the surrounding brackets.
	Host string

	// Port is the canonical decimal port of the peer or the empty string when
	// the address does not specify one.  A port that does not fit in 16 bits
	// is kept as written so the validator can drop it.
	Port string

	// Path is the raw path of the address.  It is empty for the bare
	// authorities that are eligible for storage.
	Path string
}

// NewPeerAddress returns a bare authority peer address for the provided
// scheme, host and port.
func NewPeerAddress(scheme, host string, port uint16) PeerAddress {
	return PeerAddress{
		Scheme: strings.ToLower(scheme),
		Host:   strings.ToLower(strings.Trim(host, "[]")),
		Port:   strconv.FormatUint(uint64(port), 10),
	}
}

// canonicalPort strips leading zeroes from a port.  Ports which do not parse
// as a 16-bit unsigned integer are returned unchanged.
func canonicalPort(port string) string {
	if port == "" {
		return ""
	}
	v, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return port
	}
	return strconv.FormatUint(v, 10)
}

// ParsePeerAddress parses a peer address in URL form, such as
// "tcp://example.com:8333" or "tor://<id>.onion:25551".
//
// The returned address may still be ineligible for storage (for instance it
// may lack a port or carry a path); those properties are checked when the
// address is stored.  An error is returned only for strings that cannot
// describe a network endpoint at all.
func ParsePeerAddress(s string) (PeerAddress, error) {
	u, err := url.Parse(s)
	if err != nil {
		str := fmt.Sprintf("unable to parse peer address %q: %v", s, err)
		return PeerAddress{}, makeError(ErrMalformedAddress, str)
	}
	if u.Scheme == "" {
		str := fmt.Sprintf("peer address %q does not specify a scheme", s)
		return PeerAddress{}, makeError(ErrMissingScheme, str)
	}
	if u.Opaque != "" {
		str := fmt.Sprintf("peer address %q is not hierarchical", s)
		return PeerAddress{}, makeError(ErrOpaqueAddress, str)
	}
	if u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		str := fmt.Sprintf("peer address %q must not contain user info, a "+
			"query or a fragment", s)
		return PeerAddress{}, makeError(ErrMalformedAddress, str)
	}

	return PeerAddress{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Hostname()),
		Port:   canonicalPort(u.Port()),
		Path:   u.EscapedPath(),
	}, nil
}

// ParsePeerAddresses parses every string in the provided slice with
// ParsePeerAddress and returns the first error encountered.
func ParsePeerAddresses(strs []string) ([]PeerAddress, error) {
	addrs := make([]PeerAddress, 0, len(strs))
	for _, s := range strs {
		addr, err := ParsePeerAddress(s)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// Hostname returns the host of the address without the port.  It is the key
// used by the rejection registry.
func (a PeerAddress) Hostname() string {
	return a.Host
}

// PortNumber returns the port of the address and whether the address carries
// a valid 16-bit port.
func (a PeerAddress) PortNumber() (uint16, bool) {
	if a.Port == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(a.Port, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

// HostPort returns the address in the "host:port" form expected by dialers.
func (a PeerAddress) HostPort() string {
	return net.JoinHostPort(a.Host, a.Port)
}

// Network returns the transport scheme of the address.  This, along with
// String, allows a PeerAddress to be used as a net.Addr.
func (a PeerAddress) Network() string {
	return a.Scheme
}

// String returns the address in URL form.
func (a PeerAddress) String() string {
	var b strings.Builder
	b.Grow(len(a.Scheme) + len(a.Host) + len(a.Port) + len(a.Path) + 6)
	b.WriteString(a.Scheme)
	b.WriteString("://")
	if strings.Contains(a.Host, ":") {
		b.WriteByte('[')
		b.WriteString(a.Host)
		b.WriteByte(']')
	} else {
		b.WriteString(a.Host)
	}
	if a.Port != "" {
		b.WriteByte(':')
		b.WriteString(a.Port)
	}
	b.WriteString(a.Path)
	return b.String()
}

// ip returns the host of the address as an IP when it is an IPv4 or IPv6
// literal and nil otherwise.
func (a PeerAddress) ip() net.IP {
	host := a.Host
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	return net.ParseIP(host)
}
