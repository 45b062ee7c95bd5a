// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
umbrad is a node of the umbra privacy-preserving peer-to-peer overlay.

It keeps a ledger of the peer addresses it knows about, dials peers selected
from it over the enabled transports, and feeds the outcome of every connection
attempt back into the ledger: peers that fail are quarantined and, once they
failed often enough, their host is rejected.

The long form of all of the options (except -C) can be specified in a
configuration file that is automatically parsed when umbrad starts up.  By
default, the configuration file is located at ~/.umbrad/umbrad.conf on
POSIX-style operating systems and %LOCALAPPDATA%\umbrad\umbrad.conf on Windows.
The -C (--configfile) flag can be used to override this location.

Usage:

	umbrad [OPTIONS]

Application Options:

	-V, --version          Display version information and exit
	-A, --appdata=         Path to application home directory
	-C, --configfile=      Path to configuration file
	    --logdir=          Directory to log output
	    --logsize=         Maximum size of log file before it is rotated
	                       (default: 10M)
	    --nofilelogging    Disable file logging
	    --localnet         Allow local and private peer addresses -- NOTE: Only
	                       use this on local test networks
	    --externaladdr=    Add a peer URL this node is reachable at
	    --transport=       Enable a transport scheme {tcp, tcp+tls, tor,
	                       tor+tls} -- All dialable schemes are enabled when
	                       none is specified
	    --seed=            Add a peer URL to bootstrap the address ledger with
	    --connect=         Add a peer URL to permanently stay connected to
	    --maxoutbound=     Number of outbound connection slots (default: 8)
	    --quarantinelimit= Number of failed connection attempts after which the
	                       host of a peer address is rejected -- 0 never
	                       rejects (default: 15)
	    --dialtimeout=     Maximum amount of time a dial, including the TLS
	                       handshake, may take (default: 30s)
	    --proxy=           Dial onion peers via the SOCKS5 proxy (eg.
	                       127.0.0.1:9050)
	    --proxyuser=       Username for proxy server
	    --proxypass=       Password for proxy server
	    --torisolation     Enable Tor stream isolation by randomizing user
	                       credentials for each connection
	    --peercert=        File containing the certificate presented to peers
	    --peerkey=         File containing the certificate key
	    --tlscurve=        Curve to use when generating the peer certificate
	                       {P-256, P-384, P-521} (default: P-256)
	-d, --debuglevel=      Logging level for all subsystems {trace, debug,
	                       info, warn, error, critical} -- You may also specify
	                       <subsystem>=<level>,<subsystem2>=<level>,... to set
	                       the log level for individual subsystems -- Use show
	                       to list available subsystems (default: info)
	    --profile=         Enable HTTP profiling and the Prometheus /metrics
	                       endpoint on given [addr:]port -- NOTE: port must be
	                       between 1024 and 65535

Help Options:

	-h, --help           Show this help message

Peer URLs take the form scheme://host:port, for example
tcp+tls://node.example.com:26661.
*/
package main
