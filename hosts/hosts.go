// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hosts

import (
	"strings"
	"sync"
)

// DefaultQuarantineLimit is the default number of times an address may be
// quarantined before its host is rejected.
const DefaultQuarantineLimit = 15

// Settings houses the static configuration of a hosts instance.  It is copied
// when the instance is created and treated as immutable after that.
type Settings struct {
	// Localnet relaxes the filtering rules so local and private addresses,
	// as well as our own external addresses, may be stored.  It is intended
	// for local test networks only.
	Localnet bool

	// ExternalAddrs are the addresses this node advertises to the network.
	// Outside of localnet mode, any address sharing a hostname with one of
	// them is dropped to avoid connecting to ourselves.
	ExternalAddrs []PeerAddress

	// QuarantineLimit is the exact number of times an address may be
	// quarantined before its hostname is rejected.  A limit of zero disables
	// the escalation so failing addresses stay quarantined.
	QuarantineLimit uint

	// Transports are the enabled transport schemes.  An empty slice enables
	// every supported scheme.
	Transports []string
}

// Hosts provides a concurrency safe ledger of the peer addresses known to the
// node.  Addresses are either stored (candidates for outbound connections),
// quarantined (failed to connect, kept around to be retried up to a limit) or
// rejected.  Rejection is host scoped: every address sharing a rejected
// hostname is refused.
type Hosts struct {
	// mtx protects the stored set and the quarantine ledger.  When both mtx
	// and rejectedMtx are needed, mtx MUST be acquired first.
	mtx sync.RWMutex

	// addrs is the set of stored addresses.
	addrs map[PeerAddress]struct{}

	// quarantine maps quarantined addresses to their retry counter.  An
	// address is never in both addrs and quarantine.
	quarantine map[PeerAddress]uint

	// rejectedMtx protects the rejected hostnames.
	rejectedMtx sync.RWMutex

	// rejected is the set of hostnames peers are refused from.
	rejected map[string]struct{}

	// storeNotifier fans out the number of addresses accepted by each call
	// to Store.
	storeNotifier *notifier

	// The following fields are derived from the settings at creation time
	// and are immutable after that.
	settings      Settings
	transports    map[string]struct{}
	externalHosts map[string]struct{}
}

// New returns a new hosts ledger configured with the provided settings.
func New(settings *Settings) *Hosts {
	h := &Hosts{
		addrs:         make(map[PeerAddress]struct{}),
		quarantine:    make(map[PeerAddress]uint),
		rejected:      make(map[string]struct{}),
		storeNotifier: newNotifier(),
		settings:      *settings,
		transports:    make(map[string]struct{}),
		externalHosts: make(map[string]struct{}, len(settings.ExternalAddrs)),
	}
	h.settings.ExternalAddrs = append([]PeerAddress(nil),
		settings.ExternalAddrs...)
	h.settings.Transports = append([]string(nil), settings.Transports...)

	for _, addr := range settings.ExternalAddrs {
		h.externalHosts[addr.Host] = struct{}{}
	}

	transports := settings.Transports
	if len(transports) == 0 {
		transports = SupportedSchemes()
	}
	for _, scheme := range transports {
		h.transports[strings.ToLower(scheme)] = struct{}{}
	}

	return h
}

// Settings returns a copy of the settings the ledger was created with.
func (h *Hosts) Settings() Settings {
	s := h.settings
	s.ExternalAddrs = append([]PeerAddress(nil), h.settings.ExternalAddrs...)
	s.Transports = append([]string(nil), h.settings.Transports...)
	return s
}

// Store filters the provided addresses and appends the acceptable ones to the
// set of stored addresses.  Accepted addresses which were quarantined are
// restored, i.e. their quarantine entry is cleared.
//
// Subscribers registered with SubscribeStore are notified with the number of
// accepted addresses once the set has been updated, even when that number is
// zero.
//
// This function is safe for concurrent access.
func (h *Hosts) Store(addrs []PeerAddress) {
	log.Tracef("Storing %d addresses", len(addrs))

	filtered := h.filterAddresses(addrs)
	accepted := 0
	if len(filtered) > 0 {
		h.mtx.Lock()
		h.rejectedMtx.RLock()
		for _, addr := range filtered {
			// The host may have been rejected by a concurrent escalation
			// since the addresses were filtered.
			if h.isRejectedLocked(addr) {
				log.Debugf("Peer %s was rejected while storing", addr)
				continue
			}

			log.Tracef("Inserting %s", addr)
			h.addrs[addr] = struct{}{}
			if _, ok := h.quarantine[addr]; ok {
				log.Debugf("Restoring quarantined peer %s", addr)
				delete(h.quarantine, addr)
			}
			accepted++
		}
		h.rejectedMtx.RUnlock()
		h.mtx.Unlock()
	}

	h.storeNotifier.notify(accepted)
}

// SubscribeStore registers a new subscription which receives the number of
// accepted addresses of every subsequent call to Store.
//
// The caller MUST call Unsubscribe on the returned subscription once it is no
// longer needed.
func (h *Hosts) SubscribeStore() *Subscription {
	return h.storeNotifier.subscribe()
}

// IsLocalHost returns whether or not the passed address refers to the local
// machine or to a range that is not globally routable.  See IsLocal.
func (h *Hosts) IsLocalHost(addr PeerAddress) bool {
	return IsLocal(addr)
}

// Remove forgets the passed address, whether it is stored or quarantined.
// Rejected hostnames are not affected.
//
// This function is safe for concurrent access.
func (h *Hosts) Remove(addr PeerAddress) {
	log.Debugf("Removing peer %s", addr)

	h.mtx.Lock()
	delete(h.addrs, addr)
	delete(h.quarantine, addr)
	h.mtx.Unlock()
}

// Quarantine moves the passed address from the stored set into quarantine, or
// increments its retry counter when it is already quarantined.
//
// Once an address has been quarantined QuarantineLimit times without being
// stored or removed in between, its quarantine entry is deleted and its
// hostname is rejected.  Local addresses are forgotten instead of rejected.
//
// This function is safe for concurrent access.
func (h *Hosts) Quarantine(addr PeerAddress) {
	log.Debugf("Quarantining peer %s", addr)

	h.mtx.Lock()
	defer h.mtx.Unlock()

	delete(h.addrs, addr)

	var retries uint
	prev, ok := h.quarantine[addr]
	if ok {
		retries = prev + 1
		log.Debugf("Peer %s quarantined %d times", addr, retries+1)
	} else {
		log.Debugf("Added peer %s to quarantine", addr)
	}

	// The retry counter starts at zero, so the number of quarantine calls
	// made for the address is one more than the counter.
	limit := h.settings.QuarantineLimit
	if limit != 0 && retries+1 >= limit {
		log.Infof("Rejecting peer %s after %d failed attempts", addr,
			retries+1)
		delete(h.quarantine, addr)

		h.rejectedMtx.Lock()
		h.markRejectedLocked(addr)
		h.rejectedMtx.Unlock()
		return
	}

	h.quarantine[addr] = retries
}

// isRejectedLocked returns whether or not the hostname of the passed address
// is rejected.  Local addresses and addresses without a host are never
// rejected.
//
// This function MUST be called with the rejected mutex held (for reads).
func (h *Hosts) isRejectedLocked(addr PeerAddress) bool {
	if addr.Host == "" || IsLocal(addr) {
		return false
	}
	_, ok := h.rejected[addr.Host]
	return ok
}

// IsRejected returns whether or not the hostname of the passed address is in
// the set of rejected hosts.  Local addresses and addresses without a host are
// never rejected.
//
// This function is safe for concurrent access.
func (h *Hosts) IsRejected(addr PeerAddress) bool {
	h.rejectedMtx.RLock()
	defer h.rejectedMtx.RUnlock()
	return h.isRejectedLocked(addr)
}

// markRejectedLocked adds the hostname of the passed address to the rejected
// set unless the address is local or has no host.
//
// This function MUST be called with the rejected mutex held (for writes).
func (h *Hosts) markRejectedLocked(addr PeerAddress) {
	if addr.Host == "" {
		return
	}
	// Local connections should never be rejected.
	if IsLocal(addr) {
		log.Debugf("Not rejecting local peer %s", addr)
		return
	}
	h.rejected[addr.Host] = struct{}{}
}

// MarkRejected rejects the hostname of the passed address without going
// through quarantine.  It has no effect on local addresses.
//
// This function is safe for concurrent access.
func (h *Hosts) MarkRejected(addr PeerAddress) {
	log.Debugf("Marking peer %s as rejected", addr)

	h.rejectedMtx.Lock()
	h.markRejectedLocked(addr)
	h.rejectedMtx.Unlock()
}

// UnmarkRejected removes the passed hostname from the rejected set so
// addresses with that hostname may be stored again.
//
// This function is safe for concurrent access.
func (h *Hosts) UnmarkRejected(hostname string) {
	hostname = strings.ToLower(strings.Trim(hostname, "[]"))
	log.Debugf("Unmarking rejected host %s", hostname)

	h.rejectedMtx.Lock()
	delete(h.rejected, hostname)
	h.rejectedMtx.Unlock()
}

// IsEmpty returns whether or not the set of stored addresses is empty.
func (h *Hosts) IsEmpty() bool {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	return len(h.addrs) == 0
}

// Len returns the number of stored addresses.
func (h *Hosts) Len() int {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	return len(h.addrs)
}

// QuarantineLen returns the number of quarantined addresses.
func (h *Hosts) QuarantineLen() int {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	return len(h.quarantine)
}

// RejectedLen returns the number of rejected hostnames.
func (h *Hosts) RejectedLen() int {
	h.rejectedMtx.RLock()
	defer h.rejectedMtx.RUnlock()
	return len(h.rejected)
}

// Contains returns whether or not the passed address is stored.  Quarantined
// addresses are not considered stored.
func (h *Hosts) Contains(addr PeerAddress) bool {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	_, ok := h.addrs[addr]
	return ok
}

// IsQuarantined returns whether or not the passed address is quarantined.
func (h *Hosts) IsQuarantined(addr PeerAddress) bool {
	_, ok := h.QuarantineCount(addr)
	return ok
}

// QuarantineCount returns the retry counter of the passed address and whether
// or not the address is quarantined.
func (h *Hosts) QuarantineCount(addr PeerAddress) (uint, bool) {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	retries, ok := h.quarantine[addr]
	return retries, ok
}

// FetchAll returns every stored address in no particular order.
func (h *Hosts) FetchAll() []PeerAddress {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	addrs := make([]PeerAddress, 0, len(h.addrs))
	for addr := range h.addrs {
		addrs = append(addrs, addr)
	}
	return addrs
}
