// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package hosts implements a concurrency-safe ledger of known peer addresses.

# Hosts Overview

An overlay network node learns the addresses of other nodes from seeds, from
its configuration and from the peers it talks to.  Remote peers cannot be
trusted, so every address handed to the ledger is validated before it may be
used to open an outbound connection.  Addresses which repeatedly fail to
connect must eventually be dropped so the node does not keep dialing dead or
hostile endpoints.

Each address known to the ledger is in exactly one of the following states:

  - stored: the address passed validation and is a candidate for outbound
    connections
  - quarantined: a connection attempt failed and the address is kept around,
    with a retry counter, so it may be tried again
  - rejected: the hostname of the address failed too many times, or was
    explicitly marked as rejected, and every address with that hostname is
    refused from then on

Quarantining an address which already reached the configured quarantine limit
rejects its hostname.  Addresses referring to the local machine or to non
globally routable ranges are never rejected and, unless the ledger runs in
localnet mode, never stored either.

Callers may subscribe to store events in order to be woken up when new
addresses become available, and may sample the stored addresses uniformly at
random, optionally restricted to a set of transport schemes.

# Errors

Errors returned by this package are of type hosts.Error and fully support the
standard library errors.Is and errors.As functions.  The ErrorKind constants
identify the specific reason a peer address could not be parsed.
*/
package hosts
