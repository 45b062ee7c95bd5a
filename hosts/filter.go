// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hosts

import (
	"sort"

	"golang.org/x/net/idna"
)

// Transport schemes known to the network layer.
const (
	SchemeTCP    = "tcp"
	SchemeTCPTLS = "tcp+tls"
	SchemeTor    = "tor"
	SchemeTorTLS = "tor+tls"
	SchemeNym    = "nym"
	SchemeNymTLS = "nym+tls"
)

// supportedSchemes maps every scheme known to the network layer to whether or
// not addresses using it may currently enter the hosts set.  Nym endpoints are
// recognized but skipped until the transport is available.
var supportedSchemes = map[string]bool{
	SchemeTCP:    true,
	SchemeTCPTLS: true,
	SchemeTor:    true,
	SchemeTorTLS: true,
	SchemeNym:    false,
	SchemeNymTLS: false,
}

// SupportedSchemes returns the sorted transport schemes whose addresses may be
// stored.
func SupportedSchemes() []string {
	schemes := make([]string, 0, len(supportedSchemes))
	for scheme, ok := range supportedSchemes {
		if ok {
			schemes = append(schemes, scheme)
		}
	}
	sort.Strings(schemes)
	return schemes
}

// isOnionScheme returns whether or not the scheme dials onion services.
func isOnionScheme(scheme string) bool {
	return scheme == SchemeTor || scheme == SchemeTorTLS
}

// isWellFormed returns whether or not the address is a bare authority of the
// form scheme://host:port with a valid port and a valid host.
func isWellFormed(addr PeerAddress) bool {
	if addr.Host == "" || addr.Path != "" {
		return false
	}
	if _, ok := addr.PortNumber(); !ok {
		return false
	}
	if addr.ip() != nil {
		return true
	}
	_, err := idna.Lookup.ToASCII(addr.Host)
	return err == nil
}

// filterAddresses returns the subset of the passed addresses which may enter
// the hosts set.  The checks are applied in order and the first failure drops
// the candidate:
//
//  1. the address is a well formed bare authority with a port
//  2. the hostname is not rejected (local addresses are never rejected)
//  3. outside of localnet mode, the hostname is not one of our own external
//     addresses
//  4. outside of localnet mode, the address is not local
//  5. the scheme is supported and enabled
//  6. onion schemes carry a valid onion service identifier
//
// This function MUST NOT be called with the hosts mutex held.
func (h *Hosts) filterAddresses(addrs []PeerAddress) []PeerAddress {
	log.Tracef("Filtering %d addresses", len(addrs))

	h.rejectedMtx.RLock()
	defer h.rejectedMtx.RUnlock()

	localnet := h.settings.Localnet
	ret := make([]PeerAddress, 0, len(addrs))
	for _, addr := range addrs {
		if !isWellFormed(addr) {
			log.Tracef("Dropping malformed address %s", addr)
			continue
		}

		local := IsLocal(addr)
		if !local {
			if _, ok := h.rejected[addr.Host]; ok {
				log.Debugf("Peer %s is rejected", addr)
				continue
			}
		}

		if !localnet {
			// Our own external addresses should never enter the hosts set.
			if _, ok := h.externalHosts[addr.Host]; ok {
				log.Tracef("Dropping own external address %s", addr)
				continue
			}

			// Non-global ranges are only useful for local test networks.
			if local {
				log.Tracef("Dropping local address %s", addr)
				continue
			}
		}

		if !supportedSchemes[addr.Scheme] {
			log.Tracef("Dropping address %s with unsupported scheme", addr)
			continue
		}
		if _, ok := h.transports[addr.Scheme]; !ok {
			log.Tracef("Dropping address %s with disabled transport", addr)
			continue
		}

		if isOnionScheme(addr.Scheme) && !IsOnionV3(addr.Host) {
			log.Tracef("Dropping invalid onion address %s", addr)
			continue
		}

		ret = append(ret, addr)
	}

	return ret
}
