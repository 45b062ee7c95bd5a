// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2025 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/elliptic"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/decred/dcrd/certgen"
	"github.com/umbranet/umbrad/connmgr"
	"github.com/umbranet/umbrad/hosts"
	"github.com/umbranet/umbrad/internal/transport"
)

// serverPeer houses an established outbound connection.
type serverPeer struct {
	connReq   *connmgr.ConnReq
	conn      net.Conn
	connected time.Time
}

// server provides the outbound side of a umbrad node.  It feeds the address
// ledger, keeps the connection manager dialing peers selected from it, and
// holds the resulting connections until the remote end closes them.
type server struct {
	hosts        *hosts.Hosts
	dialer       *transport.Dialer
	connManager  *connmgr.ConnManager
	seeds        []hosts.PeerAddress
	connectPeers []hosts.PeerAddress

	peerMtx  sync.Mutex
	peers    map[uint64]*serverPeer
	stopping bool

	wg sync.WaitGroup
}

// peerConnected is invoked by the connection manager when a new outbound
// connection is established.
func (s *server) peerConnected(c *connmgr.ConnReq, conn net.Conn) {
	s.peerMtx.Lock()
	if s.stopping {
		s.peerMtx.Unlock()
		conn.Close()
		return
	}
	sp := &serverPeer{connReq: c, conn: conn, connected: time.Now()}
	s.peers[c.ID()] = sp
	numPeers := len(s.peers)
	s.peerMtx.Unlock()

	srvrLog.Infof("Connected to %s (%d peers)", c.Addr, numPeers)
	go s.peerHandler(sp)
}

// peerHandler drains the connection of the passed peer until it is closed by
// either end and then reports the disconnection to the connection manager.  It
// must be run as a goroutine.
func (s *server) peerHandler(sp *serverPeer) {
	n, err := io.Copy(io.Discard, sp.conn)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		srvrLog.Debugf("Read from %s failed: %v", sp.connReq.Addr, err)
	}
	sp.conn.Close()

	s.peerMtx.Lock()
	delete(s.peers, sp.connReq.ID())
	s.peerMtx.Unlock()

	srvrLog.Debugf("Connection to %s closed after %v (%d bytes received)",
		sp.connReq.Addr, time.Since(sp.connected).Truncate(time.Second), n)
	s.connManager.Disconnect(sp.connReq.ID())
}

// peerDisconnected is invoked by the connection manager once a connection has
// been released.
func (s *server) peerDisconnected(c *connmgr.ConnReq) {
	srvrLog.Infof("Disconnected from %s", c.Addr)
}

// disconnectAll closes every established connection and refuses new ones.
func (s *server) disconnectAll() {
	s.peerMtx.Lock()
	s.stopping = true
	for _, sp := range s.peers {
		sp.conn.Close()
	}
	s.peerMtx.Unlock()
}

// ConnectedCount returns the number of established connections.
func (s *server) ConnectedCount() int {
	s.peerMtx.Lock()
	defer s.peerMtx.Unlock()
	return len(s.peers)
}

// storeHandler logs the outcome of every batch of peer addresses stored in the
// ledger until the context is canceled.  It must be run as a goroutine.
func (s *server) storeHandler(ctx context.Context, sub *hosts.Subscription) {
	defer s.wg.Done()
	defer sub.Unsubscribe()

	for {
		select {
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			srvrLog.Debugf("Stored %d peer addresses (%d known, %d "+
				"quarantined, %d rejected hosts, %d connected)", n,
				s.hosts.Len(), s.hosts.QuarantineLen(),
				s.hosts.RejectedLen(), s.ConnectedCount())

		case <-ctx.Done():
			return
		}
	}
}

// Run starts the server and blocks until the provided context is canceled.
func (s *server) Run(ctx context.Context) {
	srvrLog.Trace("Starting server")

	s.wg.Add(1)
	go s.storeHandler(ctx, s.hosts.SubscribeStore())

	// Bootstrap the ledger with the configured seeds.
	if len(s.seeds) > 0 {
		s.hosts.Store(s.seeds)
		srvrLog.Infof("Bootstrapped the address ledger with %d of %d seeds",
			s.hosts.Len(), len(s.seeds))
	}

	s.wg.Add(1)
	go func() {
		s.connManager.Run(ctx)
		s.wg.Done()
	}()

	for _, addr := range s.connectPeers {
		go s.connManager.Connect(ctx, &connmgr.ConnReq{
			Addr:      addr,
			Permanent: true,
		})
	}

	<-ctx.Done()
	srvrLog.Info("Server shutting down")
	s.disconnectAll()
	s.wg.Wait()
}

// dialSchemes returns the schemes the node dials.  It is the configured
// transports restricted to those the dialer supports, or every scheme the
// dialer supports when no transport is configured.
func dialSchemes(configured []string, dialer *transport.Dialer) []string {
	supported := dialer.Schemes()
	if len(configured) == 0 {
		return supported
	}
	schemes := make([]string, 0, len(configured))
	for _, scheme := range configured {
		if slices.Contains(supported, scheme) {
			schemes = append(schemes, scheme)
		}
	}
	return schemes
}

// newServer returns a new umbrad server configured with the provided config
// and presenting the provided certificate to TLS peers.
func newServer(cfg *config, cert tls.Certificate) (*server, error) {
	dialer := transport.New(&transport.Config{
		Timeout:      cfg.DialTimeout,
		TorProxy:     cfg.Proxy,
		TorUser:      cfg.ProxyUser,
		TorPass:      cfg.ProxyPass,
		TorIsolation: cfg.TorIsolation,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS13,

			// Peers present self-signed certificates.
			InsecureSkipVerify: true,
		},
	})
	schemes := dialSchemes(cfg.transports, dialer)
	srvrLog.Infof("Enabled transports: %v", schemes)

	s := &server{
		hosts: hosts.New(&hosts.Settings{
			Localnet:        cfg.Localnet,
			ExternalAddrs:   cfg.externalAddrs,
			QuarantineLimit: cfg.QuarantineLimit,
			Transports:      schemes,
		}),
		dialer:       dialer,
		seeds:        cfg.seeds,
		connectPeers: cfg.connectPeers,
		peers:        make(map[uint64]*serverPeer),
	}

	cmgr, err := connmgr.New(&connmgr.Config{
		Source:          s.hosts,
		Schemes:         schemes,
		TargetOutbound:  cfg.MaxOutbound,
		Dial:            dialer.Dial,
		OnConnection:    s.peerConnected,
		OnDisconnection: s.peerDisconnected,
	})
	if err != nil {
		return nil, err
	}
	s.connManager = cmgr

	return s, nil
}

// genCertPair generates a key/cert pair to the paths provided.
func genCertPair(certFile, keyFile string, altDNSNames []string, tlsCurve elliptic.Curve) error {
	srvrLog.Infof("Generating TLS certificates...")

	org := "umbrad autogenerated cert"
	validUntil := time.Now().Add(10 * 365 * 24 * time.Hour)
	cert, key, err := certgen.NewTLSCertPair(tlsCurve, org,
		validUntil, altDNSNames)
	if err != nil {
		return err
	}

	// Write cert and key files.
	if err = os.WriteFile(certFile, cert, 0644); err != nil {
		return err
	}
	if err = os.WriteFile(keyFile, key, 0600); err != nil {
		os.Remove(certFile)
		return err
	}

	srvrLog.Infof("Done generating TLS certificates")
	return nil
}

// loadPeerCert loads the certificate presented to TLS peers, generating a new
// self-signed pair when neither file exists.  The hostnames of the external
// addresses are included in generated certificates.
func loadPeerCert(cfg *config) (tls.Certificate, error) {
	certExists, keyExists := fileExists(cfg.PeerCert), fileExists(cfg.PeerKey)
	switch {
	case certExists != keyExists:
		return tls.Certificate{}, errors.New("the peer certificate and key " +
			"must either both exist or both be absent")

	case !certExists:
		var altDNSNames []string
		for _, addr := range cfg.externalAddrs {
			if !slices.Contains(altDNSNames, addr.Host) {
				altDNSNames = append(altDNSNames, addr.Host)
			}
		}
		err := genCertPair(cfg.PeerCert, cfg.PeerKey, altDNSNames,
			cfg.tlsCurve)
		if err != nil {
			return tls.Certificate{}, err
		}
	}

	return tls.LoadX509KeyPair(cfg.PeerCert, cfg.PeerKey)
}
