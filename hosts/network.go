// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hosts

import (
	"net"
	"strings"
)

var (
	// rfc1112Net specifies the IPv4 block reserved for future use as defined
	// by RFC1112 (240.0.0.0/4).  It includes the limited broadcast address.
	rfc1112Net = ipNet("240.0.0.0", 4, 32)

	// rfc1918Nets specifies the IPv4 private address blocks as defined by
	// RFC1918 (10.0.0.0/8, 172.16.0.0/12, and 192.168.0.0/16).
	rfc1918Nets = []net.IPNet{
		ipNet("10.0.0.0", 8, 32),
		ipNet("172.16.0.0", 12, 32),
		ipNet("192.168.0.0", 16, 32),
	}

	// rfc2544Net specifies the IPv4 block as defined by RFC2544
	// (198.18.0.0/15).
	rfc2544Net = ipNet("198.18.0.0", 15, 32)

	// rfc3849Net specifies the IPv6 documentation address block as defined
	// by RFC3849 (2001:DB8::/32).
	rfc3849Net = ipNet("2001:DB8::", 32, 128)

	// rfc3927Net specifies the IPv4 auto configuration address block as
	// defined by RFC3927 (169.254.0.0/16).
	rfc3927Net = ipNet("169.254.0.0", 16, 32)

	// rfc3964Net specifies the IPv6 to IPv4 encapsulation address block as
	// defined by RFC3964 (2002::/16).
	rfc3964Net = ipNet("2002::", 16, 128)

	// rfc4193Net specifies the IPv6 unique local address block as defined
	// by RFC4193 (FC00::/7).
	rfc4193Net = ipNet("FC00::", 7, 128)

	// rfc6890IPv6Net specifies the IPv6 IETF protocol assignments block as
	// defined by RFC6890 (2001::/23).  It includes the teredo range.
	rfc6890IPv6Net = ipNet("2001::", 23, 128)

	// rfc6890IPv6Globals specifies the blocks within the IPv6 IETF protocol
	// assignments block which are globally reachable per the IANA special
	// purpose address registry.
	rfc6890IPv6Globals = []net.IPNet{
		ipNet("2001:1::1", 128, 128),
		ipNet("2001:1::2", 128, 128),
		ipNet("2001:3::", 32, 128),
		ipNet("2001:4:112::", 48, 128),
		ipNet("2001:20::", 28, 128),
		ipNet("2001:30::", 28, 128),
	}

	// rfc4843Net specifies the IPv6 ORCHID address block as defined by
	// RFC4843 (2001:10::/28).
	rfc4843Net = ipNet("2001:10::", 28, 128)

	// rfc4862Net specifies the IPv6 stateless address autoconfiguration
	// address block as defined by RFC4862 (FE80::/64).
	rfc4862Net = ipNet("FE80::", 64, 128)

	// rfc5737Net specifies the IPv4 documentation address blocks as defined
	// by RFC5737 (192.0.2.0/24, 198.51.100.0/24, 203.0.113.0/24).
	rfc5737Net = []net.IPNet{
		ipNet("192.0.2.0", 24, 32),
		ipNet("198.51.100.0", 24, 32),
		ipNet("203.0.113.0", 24, 32),
	}

	// rfc6052Net specifies the IPv6 well-known prefix address block as
	// defined by RFC6052 (64:FF9B::/96).
	rfc6052Net = ipNet("64:FF9B::", 96, 128)

	// rfc6145Net specifies the IPv6 to IPv4 translated address range as
	// defined by RFC6145 (::FFFF:0:0:0/96).
	rfc6145Net = ipNet("::FFFF:0:0:0", 96, 128)

	// rfc6666Net specifies the IPv6 discard-only address block as defined
	// by RFC6666 (100::/64).
	rfc6666Net = ipNet("100::", 64, 128)

	// rfc8215Net specifies the IPv6 local-use IPv4/IPv6 translation prefix
	// as defined by RFC8215 (64:FF9B:1::/48).
	rfc8215Net = ipNet("64:FF9B:1::", 48, 128)

	// rfc6598Net specifies the IPv4 block as defined by RFC6598 (100.64.0.0/10).
	rfc6598Net = ipNet("100.64.0.0", 10, 32)

	// rfc6890Net specifies the IPv4 IETF protocol assignments block as
	// defined by RFC6890 (192.0.0.0/24).
	rfc6890Net = ipNet("192.0.0.0", 24, 32)

	// zero4Net defines the IPv4 address block for address staring with 0
	// (0.0.0.0/8).
	zero4Net = ipNet("0.0.0.0", 8, 32)

	// heNet defines the Hurricane Electric IPv6 address block.
	heNet = ipNet("2001:470::", 32, 128)
)

// localHostNames houses the domain names that always refer to the local
// machine.
var localHostNames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
}

// ipNet returns a net.IPNet struct given the passed IP address string, number
// of one bits to include at the start of the mask, and the total number of bits
// for the mask.
func ipNet(ip string, ones, bits int) net.IPNet {
	return net.IPNet{IP: net.ParseIP(ip), Mask: net.CIDRMask(ones, bits)}
}

// isIPv4 returns whether or not the given address is an IPv4 address.
func isIPv4(netIP net.IP) bool {
	return netIP.To4() != nil
}

// isLocal returns whether or not the given address is a local address.
func isLocal(netIP net.IP) bool {
	return netIP.IsLoopback() || zero4Net.Contains(netIP)
}

// isRFC1112 returns whether or not the passed address is part of the IPv4
// reserved range as defined by RFC1112 (240.0.0.0/4).
func isRFC1112(netIP net.IP) bool {
	return rfc1112Net.Contains(netIP)
}

// isRFC1918 returns whether or not the passed address is part of the IPv4
// private network address space as defined by RFC1918 (10.0.0.0/8,
// 172.16.0.0/12, or 192.168.0.0/16).
func isRFC1918(netIP net.IP) bool {
	for _, rfc := range rfc1918Nets {
		if rfc.Contains(netIP) {
			return true
		}
	}
	return false
}

// isRFC2544 returns whether or not the passed address is part of the IPv4
// address space as defined by RFC2544 (198.18.0.0/15).
func isRFC2544(netIP net.IP) bool {
	return rfc2544Net.Contains(netIP)
}

// isRFC3849 returns whether or not the passed address is part of the IPv6
// documentation range as defined by RFC3849 (2001:DB8::/32).
func isRFC3849(netIP net.IP) bool {
	return rfc3849Net.Contains(netIP)
}

// isRFC3927 returns whether or not the passed address is part of the IPv4
// autoconfiguration range as defined by RFC3927 (169.254.0.0/16).
func isRFC3927(netIP net.IP) bool {
	return rfc3927Net.Contains(netIP)
}

// isRFC3964 returns whether or not the passed address is part of the IPv6 to
// IPv4 encapsulation range as defined by RFC3964 (2002::/16).
func isRFC3964(netIP net.IP) bool {
	return rfc3964Net.Contains(netIP)
}

// isRFC4193 returns whether or not the passed address is part of the IPv6
// unique local range as defined by RFC4193 (FC00::/7).
func isRFC4193(netIP net.IP) bool {
	return rfc4193Net.Contains(netIP)
}

// isRFC4843 returns whether or not the passed address is part of the IPv6
// ORCHID range as defined by RFC4843 (2001:10::/28).
func isRFC4843(netIP net.IP) bool {
	return rfc4843Net.Contains(netIP)
}

// isRFC4862 returns whether or not the passed address is part of the IPv6
// stateless address autoconfiguration range as defined by RFC4862 (FE80::/64).
func isRFC4862(netIP net.IP) bool {
	return rfc4862Net.Contains(netIP)
}

// isRFC5737 returns whether or not the passed address is part of the IPv4
// documentation address space as defined by RFC5737 (192.0.2.0/24,
// 198.51.100.0/24, 203.0.113.0/24).
func isRFC5737(netIP net.IP) bool {
	for _, rfc := range rfc5737Net {
		if rfc.Contains(netIP) {
			return true
		}
	}

	return false
}

// isRFC6052 returns whether or not the passed address is part of the IPv6
// well-known prefix range as defined by RFC6052 (64:FF9B::/96).
func isRFC6052(netIP net.IP) bool {
	return rfc6052Net.Contains(netIP)
}

// isRFC6145 returns whether or not the passed address is part of the IPv6 to
// IPv4 translated address range as defined by RFC6145 (::FFFF:0:0:0/96).
func isRFC6145(netIP net.IP) bool {
	return rfc6145Net.Contains(netIP)
}

// isRFC6666 returns whether or not the passed address is part of the IPv6
// discard-only range as defined by RFC6666 (100::/64).
func isRFC6666(netIP net.IP) bool {
	return rfc6666Net.Contains(netIP)
}

// isRFC8215 returns whether or not the passed address is part of the IPv6
// local-use translation range as defined by RFC8215 (64:FF9B:1::/48).
func isRFC8215(netIP net.IP) bool {
	return rfc8215Net.Contains(netIP)
}

// isRFC6890IPv6 returns whether or not the passed address is part of the IPv6
// IETF protocol assignments block (2001::/23) without being one of its
// globally reachable exceptions.
func isRFC6890IPv6(netIP net.IP) bool {
	if isIPv4(netIP) || !rfc6890IPv6Net.Contains(netIP) {
		return false
	}
	for _, global := range rfc6890IPv6Globals {
		if global.Contains(netIP) {
			return false
		}
	}
	return true
}

// isRFC6598 returns whether or not the passed address is part of the IPv4
// shared address space specified by RFC6598 (100.64.0.0/10).
func isRFC6598(netIP net.IP) bool {
	return rfc6598Net.Contains(netIP)
}

// isRFC6890 returns whether or not the passed address is part of the IPv4
// IETF protocol assignments block specified by RFC6890 (192.0.0.0/24).
func isRFC6890(netIP net.IP) bool {
	return rfc6890Net.Contains(netIP)
}

// isValid returns whether or not the passed address is valid.  The address is
// considered invalid under the following circumstances:
// IPv4: It is either a zero or all bits set address.
// IPv6: It is a zero address.
func isValid(netIP net.IP) bool {
	// IsUnspecified returns if address is 0, so only all bits set needs to be
	// explicitly checked.
	return netIP != nil && !(netIP.IsUnspecified() ||
		netIP.Equal(net.IPv4bcast))
}

// IsRoutable returns whether or not the passed address is routable over
// the public internet.  This is true as long as the address is valid and is not
// in any reserved, private, link local or multicast range.
func IsRoutable(netIP net.IP) bool {
	return isValid(netIP) && !(isRFC1918(netIP) || isRFC2544(netIP) ||
		isRFC3927(netIP) || isRFC4862(netIP) || isRFC3849(netIP) ||
		isRFC4843(netIP) || isRFC5737(netIP) || isRFC6598(netIP) ||
		isRFC6890(netIP) || isRFC1112(netIP) || isRFC4193(netIP) ||
		isRFC3964(netIP) || isRFC6666(netIP) || isRFC8215(netIP) ||
		isRFC6890IPv6(netIP) || isLocal(netIP) || netIP.IsMulticast() ||
		netIP.IsLinkLocalUnicast())
}

// IsLocal returns whether or not the passed peer address refers to the local
// machine or to a range that is not globally routable.
//
// Only the host is inspected, regardless of the scheme.  IP hosts are local
// when they are not routable over the public internet.  IPv4-mapped IPv6
// hosts (::ffff:0:0/96) are always local since the mapped form is not
// reachable as such.  Domain hosts are local
// only when they are one of the well known local aliases such as "localhost".
// Addresses without a host are never local.
func IsLocal(addr PeerAddress) bool {
	if addr.Host == "" {
		return false
	}

	if netIP := addr.ip(); netIP != nil {
		// net.IP stores IPv4 addresses in their mapped form, so the
		// textual host is what tells a mapped IPv6 host apart.
		if isIPv4(netIP) && strings.Contains(addr.Host, ":") {
			return true
		}
		return !IsRoutable(netIP)
	}

	_, ok := localHostNames[strings.TrimSuffix(addr.Host, ".")]
	return ok
}

// GroupKey returns a string representing the network group an address is part
// of.  This is the /16 for IPv4 (including the IPv4 address embedded in
// translated IPv6 addresses), the /32 (/36 for he.net) for IPv6, the string
// "local" for a local address, the string "tor:key" where key is the first
// character of the onion service identifier for Tor addresses, and the
// hostname itself for any other domain name.
//
// The connection manager keeps at most one automatic outbound connection per
// group.
func GroupKey(addr PeerAddress) string {
	if IsLocal(addr) {
		return "local"
	}
	netIP := addr.ip()
	if netIP == nil {
		if strings.HasSuffix(addr.Host, onionSuffix) {
			return "tor:" + addr.Host[:1]
		}
		return addr.Host
	}
	if isIPv4(netIP) {
		return netIP.Mask(net.CIDRMask(16, 32)).String()
	}
	if isRFC6145(netIP) || isRFC6052(netIP) {
		// last four bytes are the ip address
		newIP := netIP[12:16]
		return newIP.Mask(net.CIDRMask(16, 32)).String()
	}

	// OK, so now we know ourselves to be a IPv6 address.
	// Use /32 for everything, except for Hurricane Electric's (he.net) IP
	// range, which uses /36.
	bits := 32
	if heNet.Contains(netIP) {
		bits = 36
	}

	return netIP.Mask(net.CIDRMask(bits, 128)).String()
}
