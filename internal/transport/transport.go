// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package transport dials peer addresses over the transports named by their
// scheme.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/decred/go-socks/socks"
	"github.com/umbranet/umbrad/hosts"
)

// Config houses the configuration of a Dialer.
type Config struct {
	// Timeout is the maximum amount of time a dial, including the TLS
	// handshake when one is needed, may take.  Zero means no timeout.
	Timeout time.Duration

	// TorProxy is the address of the Tor SOCKS5 proxy used to dial onion
	// addresses.  Onion addresses cannot be dialed when it is empty.
	TorProxy string

	// TorUser and TorPass are the optional credentials of the Tor proxy.
	TorUser string
	TorPass string

	// TorIsolation enables Tor stream isolation by using random credentials
	// for each connection.
	TorIsolation bool

	// TLSConfig is the client configuration used for the tls schemes.  A
	// default configuration requiring TLS 1.3 is used when it is nil.
	TLSConfig *tls.Config
}

// Dialer dials peer addresses.  It is safe for concurrent access.
type Dialer struct {
	timeout   time.Duration
	tcp       net.Dialer
	tor       *socks.Proxy
	tlsConfig *tls.Config
}

// New returns a dialer configured with the passed configuration.
func New(cfg *Config) *Dialer {
	d := &Dialer{
		timeout:   cfg.Timeout,
		tlsConfig: cfg.TLSConfig,
	}
	if d.tlsConfig == nil {
		// Peers present self-signed certificates.  Their identity is
		// established by the handshake protocol running on top of the
		// connection.
		d.tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS13,
			InsecureSkipVerify: true,
		}
	}
	if cfg.TorProxy != "" {
		d.tor = &socks.Proxy{
			Addr:         cfg.TorProxy,
			Username:     cfg.TorUser,
			Password:     cfg.TorPass,
			TorIsolation: cfg.TorIsolation,
		}
	}
	return d
}

// Schemes returns the sorted schemes the dialer is able to dial.  The onion
// schemes are only available when a Tor proxy is configured.
func (d *Dialer) Schemes() []string {
	schemes := []string{hosts.SchemeTCP, hosts.SchemeTCPTLS}
	if d.tor != nil {
		schemes = append(schemes, hosts.SchemeTor, hosts.SchemeTorTLS)
	}
	sort.Strings(schemes)
	return schemes
}

// Dial connects to the passed peer address over the transport named by its
// scheme.
func (d *Dialer) Dial(ctx context.Context, addr hosts.PeerAddress) (net.Conn, error) {
	if _, ok := addr.PortNumber(); !ok || addr.Host == "" {
		str := fmt.Sprintf("unable to dial %s: missing host or port", addr)
		return nil, makeError(ErrInvalidAddress, str)
	}

	if d.timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var useTLS bool
	var dial func(ctx context.Context, network, addr string) (net.Conn, error)
	switch addr.Scheme {
	case hosts.SchemeTCP:
		dial = d.tcp.DialContext

	case hosts.SchemeTCPTLS:
		dial, useTLS = d.tcp.DialContext, true

	case hosts.SchemeTor, hosts.SchemeTorTLS:
		if d.tor == nil {
			str := fmt.Sprintf("unable to dial %s: no tor proxy is "+
				"configured", addr)
			return nil, makeError(ErrNoTorProxy, str)
		}
		dial, useTLS = d.tor.DialContext, addr.Scheme == hosts.SchemeTorTLS

	default:
		str := fmt.Sprintf("unable to dial %s: unsupported scheme %q", addr,
			addr.Scheme)
		return nil, makeError(ErrUnsupportedScheme, str)
	}

	log.Tracef("Dialing %s", addr)
	conn, err := dial(ctx, "tcp", addr.HostPort())
	if err != nil {
		return nil, err
	}
	if !useTLS {
		return conn, nil
	}

	tlsConfig := d.tlsConfig.Clone()
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = addr.Host
	}
	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	return tlsConn, nil
}
