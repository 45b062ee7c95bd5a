// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hosts

import (
	"slices"

	"github.com/decred/dcrd/crypto/rand"
)

// NoLimit may be passed as the limit of FetchWithSchemes and
// FetchExcludingSchemes to fetch every matching stored address.
const NoLimit = -1

// sample shuffles a uniformly random selection of n addresses to the front of
// the passed slice and returns it.  The slice is modified in place.
func sample(addrs []PeerAddress, n int) []PeerAddress {
	if n > len(addrs) {
		n = len(addrs)
	}
	for i := 0; i < n; i++ {
		j := i + rand.IntN(len(addrs)-i)
		addrs[i], addrs[j] = addrs[j], addrs[i]
	}
	return addrs[:n]
}

// FetchNRandom returns up to n stored addresses chosen uniformly at random
// without replacement.
func (h *Hosts) FetchNRandom(n int) []PeerAddress {
	if n <= 0 {
		return nil
	}
	return sample(h.FetchAll(), n)
}

// FetchNRandomWithSchemes returns up to n addresses chosen uniformly at random
// among those FetchWithSchemes returns without a limit.
func (h *Hosts) FetchNRandomWithSchemes(schemes []string, n int) []PeerAddress {
	if n <= 0 {
		return nil
	}
	return sample(h.FetchWithSchemes(schemes, NoLimit), n)
}

// FetchNRandomExcludingSchemes returns up to n addresses chosen uniformly at
// random among those FetchExcludingSchemes returns without a limit.
func (h *Hosts) FetchNRandomExcludingSchemes(schemes []string, n int) []PeerAddress {
	if n <= 0 {
		return nil
	}
	return sample(h.FetchExcludingSchemes(schemes, NoLimit), n)
}

// FetchWithSchemes returns up to limit stored addresses whose scheme is one of
// the passed schemes.  When no stored address matches, matching quarantined
// addresses are returned instead so the caller still has something to retry.
//
// The limit is capped to the number of stored addresses and NoLimit (or any
// negative value) selects exactly that number.
func (h *Hosts) FetchWithSchemes(schemes []string, limit int) []PeerAddress {
	return h.fetchMatching(schemes, limit, true)
}

// FetchExcludingSchemes returns up to limit stored addresses whose scheme is
// not one of the passed schemes, falling back to quarantined addresses in the
// same manner as FetchWithSchemes.
func (h *Hosts) FetchExcludingSchemes(schemes []string, limit int) []PeerAddress {
	return h.fetchMatching(schemes, limit, false)
}

// fetchMatching implements FetchWithSchemes and FetchExcludingSchemes.  An
// address matches when whether its scheme is in schemes equals include.
func (h *Hosts) fetchMatching(schemes []string, limit int, include bool) []PeerAddress {
	h.mtx.RLock()
	defer h.mtx.RUnlock()

	if limit < 0 || limit > len(h.addrs) {
		limit = len(h.addrs)
	}
	if limit == 0 {
		return nil
	}

	ret := make([]PeerAddress, 0, limit)
	for addr := range h.addrs {
		if slices.Contains(schemes, addr.Scheme) == include {
			ret = append(ret, addr)
			if len(ret) == limit {
				return ret
			}
		}
	}
	if len(ret) != 0 {
		return ret
	}

	// Nothing stored matches, so pick some from the quarantine zone.
	for addr := range h.quarantine {
		if slices.Contains(schemes, addr.Scheme) == include {
			ret = append(ret, addr)
			if len(ret) == limit {
				break
			}
		}
	}
	return ret
}
